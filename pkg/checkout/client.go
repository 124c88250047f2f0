/**
 * @description
 * This package provides a client for the hosted checkout provider used to
 * collect contributions and execute refunds. It encapsulates the logic for
 * making authenticated HTTP requests, handling request body construction,
 * and parsing responses.
 *
 * When no base URL is configured the client runs in offline mode: sessions
 * and refunds are fabricated locally so the service stays fully usable in
 * demos and tests without a provider account.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/google/uuid: For offline session identifiers.
 */
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the checkout provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new checkout client. An empty baseURL enables offline
// mode.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Offline reports whether the client fabricates sessions locally.
func (c *Client) Offline() bool {
	return c.BaseURL == ""
}

// SessionRequest is the payload for creating a hosted checkout session.
type SessionRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	ReturnURL   string `json:"return_url"`
}

// Session is the provider's representation of a checkout session.
type Session struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

// RefundRequest is the payload for refunding part of a captured payment.
type RefundRequest struct {
	SessionID   string `json:"session_id"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// Refund is the provider's representation of a refund.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ErrorResponse represents an error from the checkout provider API.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("checkout api error: %s - %s", e.Code, e.Message)
	}
	return "unknown checkout api error"
}

// CreateSession opens a hosted checkout session for one contribution.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if c.Offline() {
		id := "cs_offline_" + uuid.NewString()
		return &Session{
			ID:          id,
			CheckoutURL: "/checkout/mock/" + id,
			Status:      "open",
		}, nil
	}

	var session Session
	if err := c.do(ctx, "POST", "/v1/sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RequestRefund asks the provider to send money back to the original payment
// method of a captured session.
func (c *Client) RequestRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if c.Offline() {
		return &Refund{ID: "re_offline_" + uuid.NewString(), Status: "succeeded"}, nil
	}

	var refund Refund
	if err := c.do(ctx, "POST", "/v1/refunds", req, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

// do is a generic helper to execute authenticated JSON requests.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create checkout request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute checkout request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read checkout response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("checkout api returned status %d with unparsable body", resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}
