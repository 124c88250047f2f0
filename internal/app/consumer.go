/**
 * @description
 * This file contains the consumer-side bridge between the payment provider's
 * webhook relay and the contribution lifecycle. Payment status events arrive
 * on RabbitMQ; this handler parses them and applies the PENDING -> PAID or
 * PENDING -> FAILED transition through the service.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
	"github.com/stupidpencil/Cascade-cagnotte/internal/store"
)

// PaymentStatusConsumer handles payment status messages from RabbitMQ.
type PaymentStatusConsumer struct {
	service *Service
}

// NewPaymentStatusConsumer creates a consumer bound to the given service.
func NewPaymentStatusConsumer(service *Service) *PaymentStatusConsumer {
	return &PaymentStatusConsumer{service: service}
}

// HandleMessage processes one payment status event. The returned bool is the
// acknowledgement decision: true acks the message, false requeues it.
//
// Malformed payloads and events for unknown contributions are acked and
// dropped; requeueing them would just loop forever. Store failures are
// nacked so the broker redelivers.
func (c *PaymentStatusConsumer) HandleMessage(body []byte) bool {
	var event domain.PaymentStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("PaymentStatusConsumer: dropping malformed message: %v", err)
		return true
	}
	if event.ContribToken == "" {
		log.Printf("PaymentStatusConsumer: dropping event %s without contribution token", event.EventID)
		return true
	}

	ctx := context.Background()
	var err error
	switch normalizePaymentStatus(event) {
	case "captured":
		err = c.service.HandlePaymentCaptured(ctx, event)
	case "failed":
		err = c.service.HandlePaymentFailed(ctx, event)
	default:
		log.Printf("PaymentStatusConsumer: ignoring event %s with status %q", event.EventID, event.Status)
		return true
	}

	if err != nil {
		if errors.Is(err, store.ErrContributionNotFound) {
			log.Printf("PaymentStatusConsumer: no contribution for token %s, dropping event %s", event.ContribToken, event.EventID)
			return true
		}
		log.Printf("PaymentStatusConsumer: failed to apply event %s: %v", event.EventID, err)
		return false
	}
	return true
}

// normalizePaymentStatus folds the provider's event type and status fields
// into one of "captured", "failed" or "".
func normalizePaymentStatus(event domain.PaymentStatusEvent) string {
	status := strings.ToLower(event.Status)
	if status == "" {
		status = strings.ToLower(event.EventType)
	}
	switch {
	case strings.Contains(status, "captured"), strings.Contains(status, "succeeded"), strings.Contains(status, "paid"):
		return "captured"
	case strings.Contains(status, "failed"), strings.Contains(status, "expired"), strings.Contains(status, "canceled"):
		return "failed"
	default:
		return ""
	}
}
