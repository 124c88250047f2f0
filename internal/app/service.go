/**
 * @description
 * This file contains the core business logic for the cagnotte service. The
 * `Service` struct orchestrates the pot lifecycle, coordinating between the
 * repository, the checkout provider client, and the message broker.
 *
 * Key features:
 * - Implements the main use cases: pot creation, contributions, live
 *   estimation, and the closing/settlement of pots and cycles.
 * - Settlement itself is pure (internal/settle); this layer authorizes the
 *   close, persists the outcome exactly once, and publishes events.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - github.com/golang-jwt/jwt/v5: Owner badge tokens.
 * - golang.org/x/crypto/bcrypt: PIN hashing.
 * - internal/domain, internal/settle, internal/store: Domain models, the
 *   settlement engine, and data access.
 * - pkg/checkout, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
	"github.com/stupidpencil/Cascade-cagnotte/internal/settle"
	"github.com/stupidpencil/Cascade-cagnotte/internal/store"
	"github.com/stupidpencil/Cascade-cagnotte/pkg/checkout"
	"github.com/stupidpencil/Cascade-cagnotte/pkg/rabbitmq"
)

const (
	slugLength       = 8
	ownerTokenBytes  = 16
	ownerJWTLifetime = 365 * 24 * time.Hour
	maxCycleDays     = 365
)

var decimalOne = decimal.NewFromInt(1)

var (
	// ErrUnauthorized means the caller presented no valid owner credential.
	ErrUnauthorized = errors.New("owner authorization required")
	// ErrInvalidPIN means the owner credential was fine but the PIN was not.
	ErrInvalidPIN = errors.New("invalid pin")
	// ErrNotRecurring is returned when a cycle operation targets a one-time pot.
	ErrNotRecurring = errors.New("pot is not recurring")
	// ErrPotClosed is returned when an operation needs an open pot.
	ErrPotClosed = errors.New("pot is closed")
)

// Service provides the core business logic for pots.
type Service struct {
	repo             store.Repository
	checkoutClient   *checkout.Client
	eventProducer    rabbitmq.Publisher
	ownerTokenSecret string
	appBaseURL       string
}

// NewService creates a new cagnotte service instance.
func NewService(repo store.Repository, checkoutClient *checkout.Client, producer rabbitmq.Publisher, ownerTokenSecret, appBaseURL string) *Service {
	return &Service{
		repo:             repo,
		checkoutClient:   checkoutClient,
		eventProducer:    producer,
		ownerTokenSecret: ownerTokenSecret,
		appBaseURL:       appBaseURL,
	}
}

// CreatePot validates and persists a new pot, opens its first cycle, and
// returns the owner credentials.
func (s *Service) CreatePot(ctx context.Context, req domain.CreatePotRequest) (*domain.CreatePotResponse, error) {
	if err := validateCreatePot(req); err != nil {
		return nil, err
	}

	slug, err := randomSlug()
	if err != nil {
		return nil, fmt.Errorf("failed to generate slug: %w", err)
	}
	ownerToken, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate owner token: %w", err)
	}

	now := time.Now()
	pot := &domain.Pot{
		ID:                       uuid.New(),
		Slug:                     slug,
		Name:                     req.Name,
		ObjectiveCents:           req.ObjectiveCents,
		AmountMode:               req.AmountMode,
		FixedAmountCents:         req.FixedAmountCents,
		Tiers:                    req.Tiers,
		Frequency:                req.Frequency,
		CycleDurationDays:        req.CycleDurationDays,
		CurrentCycle:             1,
		SolidarityThresholdCents: req.SolidarityThresholdCents,
		SolidarityRate:           req.SolidarityRate,
		ReserveEnabled:           req.ReserveEnabled,
		ReserveTargetCents:       req.ReserveTargetCents,
		OwnerToken:               ownerToken,
		Status:                   domain.PotStatusOpen,
		EndsAt:                   req.EndsAt,
		CreatedAt:                now,
	}

	if req.PIN != "" {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
		if hashErr != nil {
			return nil, fmt.Errorf("failed to hash pin: %w", hashErr)
		}
		hashStr := string(hash)
		pot.PINHash = &hashStr
	}

	if err := s.repo.CreatePot(ctx, pot); err != nil {
		return nil, fmt.Errorf("failed to create pot: %w", err)
	}

	// Every pot starts on cycle 1; one-time pots simply never advance past it.
	cycle := &domain.Cycle{
		ID:             uuid.New(),
		PotID:          pot.ID,
		CycleNumber:    1,
		ObjectiveCents: pot.ObjectiveCents,
		Status:         domain.CycleStatusActive,
		StartedAt:      now,
		CreatedAt:      now,
	}
	if err := s.repo.CreateCycle(ctx, cycle); err != nil {
		return nil, fmt.Errorf("failed to create initial cycle: %w", err)
	}

	ownerJWT, err := s.issueOwnerJWT(pot)
	if err != nil {
		return nil, fmt.Errorf("failed to issue owner token: %w", err)
	}

	log.Printf("CreatePot: created pot %s slug=%s mode=%s frequency=%s", pot.ID, pot.Slug, pot.AmountMode, pot.Frequency)
	return &domain.CreatePotResponse{
		ID:         pot.ID,
		Slug:       pot.Slug,
		OwnerToken: ownerToken,
		OwnerJWT:   ownerJWT,
		PublicURL:  s.appBaseURL + "/p/" + pot.Slug,
		AdminURL:   s.appBaseURL + "/p/" + pot.Slug + "/admin?token=" + ownerToken,
	}, nil
}

func validateCreatePot(req domain.CreatePotRequest) error {
	if req.Name == "" {
		return &settle.ValidationError{Message: "name is required"}
	}
	if req.ObjectiveCents <= 0 {
		return &settle.ValidationError{Message: "objective must be positive"}
	}

	switch req.AmountMode {
	case domain.AmountModeFixed:
		if req.FixedAmountCents < domain.MinContributionCents {
			return &settle.ValidationError{Message: fmt.Sprintf("fixed amount must be at least %s", settle.FormatEuros(domain.MinContributionCents))}
		}
	case domain.AmountModeTiers:
		if len(req.Tiers) == 0 {
			return &settle.ValidationError{Message: "at least one tier is required"}
		}
		for _, tier := range req.Tiers {
			if tier.AmountCents < domain.MinContributionCents {
				return &settle.ValidationError{Message: fmt.Sprintf("each tier must be at least %s", settle.FormatEuros(domain.MinContributionCents))}
			}
		}
	case domain.AmountModeFree:
	default:
		return &settle.ValidationError{Message: fmt.Sprintf("unknown amount mode %q", req.AmountMode)}
	}

	if req.SolidarityThresholdCents != nil {
		if *req.SolidarityThresholdCents < 0 {
			return &settle.ValidationError{Message: "solidarity threshold must not be negative"}
		}
		if req.SolidarityRate.IsNegative() || req.SolidarityRate.GreaterThan(decimalOne) {
			return &settle.ValidationError{Message: "solidarity rate must be between 0 and 1"}
		}
	}

	if req.ReserveEnabled && req.ReserveTargetCents <= 0 {
		return &settle.ValidationError{Message: "reserve target must be positive when the reserve is enabled"}
	}

	switch req.Frequency {
	case domain.FrequencyOneTime:
		if !req.EndsAt.After(time.Now()) {
			return &settle.ValidationError{Message: "end date must be in the future"}
		}
	case domain.FrequencyRecurring:
		if req.CycleDurationDays < 1 || req.CycleDurationDays > maxCycleDays {
			return &settle.ValidationError{Message: fmt.Sprintf("cycle duration must be between 1 and %d days", maxCycleDays)}
		}
	default:
		return &settle.ValidationError{Message: fmt.Sprintf("unknown frequency %q", req.Frequency)}
	}

	return nil
}

// GetPotSnapshot returns the public view of a pot with its live figures:
// collected total, contributor count, the suggested amount, and the refund a
// new contributor paying that amount right now could expect.
func (s *Service) GetPotSnapshot(ctx context.Context, slug string) (*domain.PotSnapshot, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	contributions, err := s.repo.ListContributions(ctx, pot.ID, pot.CurrentCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	var collected int64
	var contributors int
	for _, c := range contributions {
		if c.Status == domain.ContributionStatusPaid {
			collected += c.AmountPaidCents
			contributors++
		}
	}

	suggested := settle.SuggestedAmount(pot, contributors)
	estimated, err := settle.EstimateContribution(pot, contributions, suggested, pot.CurrentCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate refund: %w", err)
	}

	return &domain.PotSnapshot{
		Pot:                  pot,
		TotalCollectedCents:  collected,
		ContributorsCount:    contributors,
		SuggestedAmountCents: suggested,
		EstimatedRefundCents: estimated,
	}, nil
}

// EstimateRefund answers "what would I get back if I paid this amount now".
func (s *Service) EstimateRefund(ctx context.Context, slug string, amountCents int64) (int64, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return 0, err
	}
	contributions, err := s.repo.ListContributions(ctx, pot.ID, pot.CurrentCycle)
	if err != nil {
		return 0, fmt.Errorf("failed to list contributions: %w", err)
	}
	return settle.EstimateContribution(pot, contributions, amountCents, pot.CurrentCycle)
}

// ListPublicContributions returns the redacted contribution feed for the pot
// page. Only PAID contributions appear; anonymous ones are masked.
func (s *Service) ListPublicContributions(ctx context.Context, slug string) ([]domain.PublicContribution, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	contributions, err := s.repo.ListAllContributions(ctx, pot.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	public := make([]domain.PublicContribution, 0, len(contributions))
	for _, c := range contributions {
		if c.Status != domain.ContributionStatusPaid {
			continue
		}
		name := maskContributorName(c)
		paidAt := c.CreatedAt
		if c.PaidAt != nil {
			paidAt = *c.PaidAt
		}
		public = append(public, domain.PublicContribution{
			ID:          c.ID,
			DisplayName: name,
			AmountCents: c.AmountPaidCents,
			CycleNumber: c.CycleNumber,
			PaidAt:      paidAt,
		})
	}
	return public, nil
}

func maskContributorName(c domain.Contribution) string {
	if c.IsAnonymous || c.DisplayName == nil || *c.DisplayName == "" {
		return "Anonyme #" + c.ID.String()[:4]
	}
	return *c.DisplayName
}

// Contribute validates the amount against the pot's amount policy, records a
// PENDING contribution and opens a checkout session for it.
func (s *Service) Contribute(ctx context.Context, slug string, req domain.ContributeRequest) (*domain.ContributeResponse, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if pot.IsClosed() {
		return nil, ErrPotClosed
	}
	if pot.Frequency == domain.FrequencyOneTime && !pot.EndsAt.After(time.Now()) {
		return nil, ErrPotClosed
	}

	amount := req.AmountCents
	if amount == 0 && pot.AmountMode == domain.AmountModeFixed {
		amount = pot.FixedAmountCents
	}
	if err := settle.ValidateAmount(pot, amount); err != nil {
		return nil, err
	}

	contribToken, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate contribution token: %w", err)
	}

	contribution := &domain.Contribution{
		ID:                   uuid.New(),
		PotID:                pot.ID,
		CycleNumber:          pot.CurrentCycle,
		AmountSuggestedCents: amount,
		AmountPaidCents:      0,
		IsAnonymous:          req.IsAnonymous,
		TierSelected:         req.TierSelected,
		ContribToken:         contribToken,
		Status:               domain.ContributionStatusPending,
		CreatedAt:            time.Now(),
	}
	if req.Email != "" {
		email := req.Email
		contribution.Email = &email
	}
	if req.DisplayName != "" {
		name := req.DisplayName
		contribution.DisplayName = &name
	}

	session, err := s.checkoutClient.CreateSession(ctx, checkout.SessionRequest{
		AmountCents: amount,
		Currency:    "EUR",
		Reference:   contribToken,
		ReturnURL:   s.appBaseURL + "/p/" + pot.Slug + "?contrib=" + contribToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	contribution.CheckoutSessionID = &session.ID

	if err := s.repo.CreateContribution(ctx, contribution); err != nil {
		return nil, fmt.Errorf("failed to create contribution: %w", err)
	}

	log.Printf("Contribute: created contribution %s for pot %s cycle %d amount=%d", contribution.ID, pot.ID, pot.CurrentCycle, amount)
	return &domain.ContributeResponse{
		ContributionID: contribution.ID,
		ContribToken:   contribToken,
		CheckoutURL:    session.CheckoutURL,
	}, nil
}

// SettlementPreview computes, without persisting anything, what the current
// cycle's settlement would look like if it closed right now.
func (s *Service) SettlementPreview(ctx context.Context, slug string) (*settle.SettlementResult, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	contributions, err := s.repo.ListContributions(ctx, pot.ID, pot.CurrentCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	return settle.SettleCycle(pot, pot.CurrentCycle, contributions)
}

// authorizeOwner checks the presented owner credential and, when the pot has
// a PIN, the PIN itself.
func (s *Service) authorizeOwner(pot *domain.Pot, ownerToken, pin string, jwtAuthorized bool) error {
	if !jwtAuthorized && (ownerToken == "" || ownerToken != pot.OwnerToken) {
		return ErrUnauthorized
	}
	if pot.PINHash != nil {
		if pin == "" {
			return ErrInvalidPIN
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*pot.PINHash), []byte(pin)); err != nil {
			return ErrInvalidPIN
		}
	}
	return nil
}

// ClosePot settles the current cycle and moves the pot to its terminal
// CLOSED state. The status flip is conditional in the store, so concurrent
// closes settle exactly once.
func (s *Service) ClosePot(ctx context.Context, slug, ownerToken, pin string, jwtAuthorized bool) (*settle.SettlementResult, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(pot, ownerToken, pin, jwtAuthorized); err != nil {
		return nil, err
	}
	if pot.IsClosed() {
		return nil, store.ErrAlreadyClosed
	}

	contributions, err := s.repo.ListContributions(ctx, pot.ID, pot.CurrentCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	result, err := settle.SettleCycle(pot, pot.CurrentCycle, contributions)
	if err != nil {
		return nil, fmt.Errorf("failed to settle pot: %w", err)
	}

	closedAt := time.Now()
	if err := s.repo.ClosePot(ctx, pot.ID, closedAt, result.ReserveBalanceAfterCents); err != nil {
		// Lost the race: someone else's settlement is authoritative.
		return nil, err
	}

	if cycle, cycleErr := s.repo.FindActiveCycle(ctx, pot.ID); cycleErr == nil {
		if err := s.repo.CloseCycle(ctx, cycle.ID, closedAt, result.TotalCollectedCents, result.TotalSurplusCents, result.ReserveUsedCents, len(result.Contributions)); err != nil && !errors.Is(err, store.ErrAlreadyClosed) {
			log.Printf("ClosePot: failed to close cycle %s for pot %s: %v", cycle.ID, pot.ID, err)
		}
	}

	refunds, err := s.persistSettlement(ctx, pot, result, closedAt)
	if err != nil {
		return nil, err
	}

	if err := s.eventProducer.PublishPotClosed(ctx, domain.PotClosedEvent{
		PotID:               pot.ID.String(),
		Slug:                pot.Slug,
		TotalCollectedCents: result.TotalCollectedCents,
		SurplusCents:        result.TotalSurplusCents,
		RefundsCount:        len(refunds),
		ClosedAt:            closedAt,
	}); err != nil {
		log.Printf("WARN: failed to publish pot.closed for %s: %v", pot.ID, err)
	}

	log.Printf("ClosePot: pot %s closed, collected=%d surplus=%d redistributed=%d refunds=%d",
		pot.ID, result.TotalCollectedCents, result.TotalSurplusCents, result.RedistributedCents, len(refunds))
	return result, nil
}

// CloseCycle settles the current cycle of a recurring pot and opens the next
// one. The pot itself stays open.
func (s *Service) CloseCycle(ctx context.Context, slug, ownerToken, pin string, jwtAuthorized bool) (*settle.SettlementResult, error) {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(pot, ownerToken, pin, jwtAuthorized); err != nil {
		return nil, err
	}
	return s.settleAndAdvanceCycle(ctx, pot)
}

// settleAndAdvanceCycle runs the settlement for the pot's current cycle,
// persists it, rolls the reserve forward, and opens cycle N+1. The
// conditional CloseCycle flip is the exactly-once guard.
func (s *Service) settleAndAdvanceCycle(ctx context.Context, pot *domain.Pot) (*settle.SettlementResult, error) {
	if pot.Frequency != domain.FrequencyRecurring {
		return nil, ErrNotRecurring
	}
	if pot.IsClosed() {
		return nil, ErrPotClosed
	}

	cycle, err := s.repo.FindActiveCycle(ctx, pot.ID)
	if err != nil {
		return nil, err
	}

	contributions, err := s.repo.ListContributions(ctx, pot.ID, cycle.CycleNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	result, err := settle.SettleCycle(pot, cycle.CycleNumber, contributions)
	if err != nil {
		return nil, fmt.Errorf("failed to settle cycle: %w", err)
	}

	endedAt := time.Now()
	if err := s.repo.CloseCycle(ctx, cycle.ID, endedAt, result.TotalCollectedCents, result.TotalSurplusCents, result.ReserveUsedCents, len(result.Contributions)); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateReserveBalance(ctx, pot.ID, result.ReserveBalanceAfterCents); err != nil {
		return nil, fmt.Errorf("failed to update reserve balance: %w", err)
	}

	if _, err := s.persistSettlement(ctx, pot, result, endedAt); err != nil {
		return nil, err
	}

	nextNumber := cycle.CycleNumber + 1
	if err := s.repo.AdvancePotCycle(ctx, pot.ID, nextNumber); err != nil {
		return nil, fmt.Errorf("failed to advance pot cycle: %w", err)
	}
	next := &domain.Cycle{
		ID:             uuid.New(),
		PotID:          pot.ID,
		CycleNumber:    nextNumber,
		ObjectiveCents: pot.ObjectiveCents,
		Status:         domain.CycleStatusActive,
		StartedAt:      endedAt,
		CreatedAt:      endedAt,
	}
	if err := s.repo.CreateCycle(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to open next cycle: %w", err)
	}

	if err := s.eventProducer.PublishCycleClosed(ctx, domain.CycleClosedEvent{
		PotID:               pot.ID.String(),
		Slug:                pot.Slug,
		CycleNumber:         cycle.CycleNumber,
		TotalCollectedCents: result.TotalCollectedCents,
		SurplusCents:        result.TotalSurplusCents,
		ReserveBalanceCents: result.ReserveBalanceAfterCents,
		NextCycleNumber:     nextNumber,
		ClosedAt:            endedAt,
	}); err != nil {
		log.Printf("WARN: failed to publish cycle.closed for %s: %v", pot.ID, err)
	}

	log.Printf("CloseCycle: pot %s cycle %d settled, collected=%d redistributed=%d, cycle %d opened",
		pot.ID, cycle.CycleNumber, result.TotalCollectedCents, result.RedistributedCents, nextNumber)
	return result, nil
}

// persistSettlement writes the refunds and equity ledger rows for one
// settlement, publishes one event per refund, and hands each refund to the
// checkout provider.
func (s *Service) persistSettlement(ctx context.Context, pot *domain.Pot, result *settle.SettlementResult, settledAt time.Time) ([]domain.Refund, error) {
	contributionsByID := make(map[uuid.UUID]domain.Contribution)
	all, err := s.repo.ListContributions(ctx, pot.ID, result.CycleNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	for _, c := range all {
		contributionsByID[c.ID] = c
	}

	refunds := make([]domain.Refund, 0, len(result.Contributions))
	for _, cs := range result.Contributions {
		if cs.RefundCents <= 0 {
			continue
		}
		refunds = append(refunds, domain.Refund{
			ID:             uuid.New(),
			ContributionID: cs.ContributionID,
			PotID:          pot.ID,
			CycleNumber:    result.CycleNumber,
			AmountCents:    cs.RefundCents,
			Status:         domain.RefundStatusPending,
			CreatedAt:      settledAt,
		})
	}

	if len(refunds) > 0 {
		if err := s.repo.CreateRefunds(ctx, refunds); err != nil {
			return nil, fmt.Errorf("failed to create refunds: %w", err)
		}
	}

	entries := result.LedgerEntries(pot.ID)
	for i := range entries {
		entries[i].ID = uuid.New()
		entries[i].CreatedAt = settledAt
	}
	if len(entries) > 0 {
		if err := s.repo.AppendLedgerEntries(ctx, entries); err != nil {
			return nil, fmt.Errorf("failed to append ledger entries: %w", err)
		}
	}

	for _, refund := range refunds {
		if err := s.eventProducer.PublishRefundCreated(ctx, domain.RefundCreatedEvent{
			RefundID:       refund.ID.String(),
			ContributionID: refund.ContributionID.String(),
			PotID:          pot.ID.String(),
			CycleNumber:    refund.CycleNumber,
			AmountCents:    refund.AmountCents,
			CreatedAt:      refund.CreatedAt,
		}); err != nil {
			log.Printf("WARN: failed to publish refund.created for %s: %v", refund.ID, err)
		}
		s.executeRefund(ctx, refund, contributionsByID[refund.ContributionID])
	}

	return refunds, nil
}

// executeRefund sends one refund to the checkout provider and records the
// outcome. A provider failure never fails the settlement: the refund stays
// FAILED with its reason and can be retried out of band.
func (s *Service) executeRefund(ctx context.Context, refund domain.Refund, contribution domain.Contribution) {
	sessionID := ""
	if contribution.CheckoutSessionID != nil {
		sessionID = *contribution.CheckoutSessionID
	}

	_, err := s.checkoutClient.RequestRefund(ctx, checkout.RefundRequest{
		SessionID:   sessionID,
		AmountCents: refund.AmountCents,
		Reason:      "pot surplus redistribution",
	})
	now := time.Now()
	if err != nil {
		log.Printf("WARN: refund %s failed at provider: %v", refund.ID, err)
		reason := err.Error()
		if updateErr := s.repo.UpdateRefundStatus(ctx, refund.ID, domain.RefundStatusFailed, nil, &reason); updateErr != nil {
			log.Printf("WARN: failed to record refund failure for %s: %v", refund.ID, updateErr)
		}
		return
	}
	if err := s.repo.UpdateRefundStatus(ctx, refund.ID, domain.RefundStatusProcessed, &now, nil); err != nil {
		log.Printf("WARN: failed to record refund success for %s: %v", refund.ID, err)
	}
}

// HandlePaymentCaptured marks the contribution behind a checkout session as
// PAID. Replays and late failure events for settled contributions are no-ops.
func (s *Service) HandlePaymentCaptured(ctx context.Context, event domain.PaymentStatusEvent) error {
	contribution, err := s.repo.FindContributionByToken(ctx, event.ContribToken)
	if err != nil {
		return err
	}
	amount := event.AmountCents
	if amount <= 0 {
		amount = contribution.AmountSuggestedCents
	}
	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	return s.repo.MarkContributionPaid(ctx, contribution.ID, amount, paidAt)
}

// HandlePaymentFailed marks the contribution behind a checkout session as
// FAILED, unless it already settled.
func (s *Service) HandlePaymentFailed(ctx context.Context, event domain.PaymentStatusEvent) error {
	contribution, err := s.repo.FindContributionByToken(ctx, event.ContribToken)
	if err != nil {
		return err
	}
	return s.repo.MarkContributionFailed(ctx, contribution.ID)
}

// RunDueSettlements is the batch entry point shared by the scheduler and the
// internal trigger endpoint. It settles every recurring pot whose cycle
// window elapsed and closes every one-time pot past its end date.
func (s *Service) RunDueSettlements(ctx context.Context, now time.Time) (cyclesClosed, potsClosed int) {
	due, err := s.repo.ListDueRecurringPots(ctx, now)
	if err != nil {
		log.Printf("RunDueSettlements: failed to list due recurring pots: %v", err)
	}
	for i := range due {
		pot := due[i]
		if _, err := s.settleAndAdvanceCycle(ctx, &pot); err != nil {
			if errors.Is(err, store.ErrAlreadyClosed) {
				continue
			}
			log.Printf("RunDueSettlements: failed to close cycle for pot %s: %v", pot.ID, err)
			continue
		}
		cyclesClosed++
	}

	expired, err := s.repo.ListExpiredOneTimePots(ctx, now)
	if err != nil {
		log.Printf("RunDueSettlements: failed to list expired pots: %v", err)
	}
	for i := range expired {
		pot := expired[i]
		if _, err := s.closeExpiredPot(ctx, &pot); err != nil {
			if errors.Is(err, store.ErrAlreadyClosed) {
				continue
			}
			log.Printf("RunDueSettlements: failed to close expired pot %s: %v", pot.ID, err)
			continue
		}
		potsClosed++
	}
	return cyclesClosed, potsClosed
}

// closeExpiredPot is the unattended variant of ClosePot used by the
// scheduler; expiry replaces the owner credential.
func (s *Service) closeExpiredPot(ctx context.Context, pot *domain.Pot) (*settle.SettlementResult, error) {
	if pot.IsClosed() {
		return nil, store.ErrAlreadyClosed
	}

	contributions, err := s.repo.ListContributions(ctx, pot.ID, pot.CurrentCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	result, err := settle.SettleCycle(pot, pot.CurrentCycle, contributions)
	if err != nil {
		return nil, fmt.Errorf("failed to settle pot: %w", err)
	}

	closedAt := time.Now()
	if err := s.repo.ClosePot(ctx, pot.ID, closedAt, result.ReserveBalanceAfterCents); err != nil {
		return nil, err
	}
	if cycle, cycleErr := s.repo.FindActiveCycle(ctx, pot.ID); cycleErr == nil {
		if err := s.repo.CloseCycle(ctx, cycle.ID, closedAt, result.TotalCollectedCents, result.TotalSurplusCents, result.ReserveUsedCents, len(result.Contributions)); err != nil && !errors.Is(err, store.ErrAlreadyClosed) {
			log.Printf("closeExpiredPot: failed to close cycle %s for pot %s: %v", cycle.ID, pot.ID, err)
		}
	}

	refunds, err := s.persistSettlement(ctx, pot, result, closedAt)
	if err != nil {
		return nil, err
	}

	if err := s.eventProducer.PublishPotClosed(ctx, domain.PotClosedEvent{
		PotID:               pot.ID.String(),
		Slug:                pot.Slug,
		TotalCollectedCents: result.TotalCollectedCents,
		SurplusCents:        result.TotalSurplusCents,
		RefundsCount:        len(refunds),
		ClosedAt:            closedAt,
	}); err != nil {
		log.Printf("WARN: failed to publish pot.closed for %s: %v", pot.ID, err)
	}
	return result, nil
}

// VerifyOwnerToken checks a raw owner token against the pot behind the slug.
func (s *Service) VerifyOwnerToken(ctx context.Context, slug, ownerToken string) error {
	pot, err := s.repo.FindPotBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if ownerToken == "" || ownerToken != pot.OwnerToken {
		return ErrUnauthorized
	}
	return nil
}

// VerifyOwnerJWT validates an owner badge and returns the slug it is bound to.
func (s *Service) VerifyOwnerJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.ownerTokenSecret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrUnauthorized
	}
	if scope, _ := claims["scope"].(string); scope != "pot_owner" {
		return "", ErrUnauthorized
	}
	slug, _ := claims["slug"].(string)
	if slug == "" {
		return "", ErrUnauthorized
	}
	return slug, nil
}

func (s *Service) issueOwnerJWT(pot *domain.Pot) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   pot.ID.String(),
		"slug":  pot.Slug,
		"scope": "pot_owner",
		"iat":   now.Unix(),
		"exp":   now.Add(ownerJWTLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.ownerTokenSecret))
}

const slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSlug() (string, error) {
	buf := make([]byte, slugLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = slugAlphabet[int(buf[i])%len(slugAlphabet)]
	}
	return string(buf), nil
}

func randomToken() (string, error) {
	buf := make([]byte, ownerTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
