package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
	"github.com/stupidpencil/Cascade-cagnotte/internal/settle"
	"github.com/stupidpencil/Cascade-cagnotte/internal/store"
	"github.com/stupidpencil/Cascade-cagnotte/pkg/checkout"
)

// recordingPublisher captures published events instead of talking to a broker.
type recordingPublisher struct {
	mu            sync.Mutex
	potClosed     []domain.PotClosedEvent
	cycleClosed   []domain.CycleClosedEvent
	refundCreated []domain.RefundCreatedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *recordingPublisher) PublishPotClosed(ctx context.Context, event domain.PotClosedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.potClosed = append(p.potClosed, event)
	return nil
}

func (p *recordingPublisher) PublishCycleClosed(ctx context.Context, event domain.CycleClosedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cycleClosed = append(p.cycleClosed, event)
	return nil
}

func (p *recordingPublisher) PublishRefundCreated(ctx context.Context, event domain.RefundCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundCreated = append(p.refundCreated, event)
	return nil
}

func (p *recordingPublisher) Close() {}

func newTestService(t *testing.T) (*Service, *store.MemoryRepository, *recordingPublisher) {
	t.Helper()
	repo := store.NewMemoryRepository()
	publisher := &recordingPublisher{}
	svc := NewService(repo, checkout.NewClient("", ""), publisher, "test-secret", "http://localhost:8080")
	return svc, repo, publisher
}

func fixedPotRequest() domain.CreatePotRequest {
	return domain.CreatePotRequest{
		Name:             "Team lunch",
		ObjectiveCents:   20000,
		AmountMode:       domain.AmountModeFixed,
		FixedAmountCents: 10000,
		Frequency:        domain.FrequencyOneTime,
		EndsAt:           time.Now().Add(24 * time.Hour),
	}
}

func payContribution(t *testing.T, svc *Service, slug string, amountCents int64) string {
	t.Helper()
	resp, err := svc.Contribute(context.Background(), slug, domain.ContributeRequest{AmountCents: amountCents})
	if err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	err = svc.HandlePaymentCaptured(context.Background(), domain.PaymentStatusEvent{
		Status:       "captured",
		ContribToken: resp.ContribToken,
		AmountCents:  amountCents,
		OccurredAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}
	return resp.ContribToken
}

func TestCreatePotValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*domain.CreatePotRequest)
	}{
		{"missing name", func(r *domain.CreatePotRequest) { r.Name = "" }},
		{"zero objective", func(r *domain.CreatePotRequest) { r.ObjectiveCents = 0 }},
		{"fixed amount below minimum", func(r *domain.CreatePotRequest) { r.FixedAmountCents = 5 }},
		{"tiers without tiers", func(r *domain.CreatePotRequest) {
			r.AmountMode = domain.AmountModeTiers
			r.Tiers = nil
		}},
		{"tier below minimum", func(r *domain.CreatePotRequest) {
			r.AmountMode = domain.AmountModeTiers
			r.Tiers = []domain.Tier{{AmountCents: 5, Label: "tiny"}}
		}},
		{"solidarity rate above one", func(r *domain.CreatePotRequest) {
			threshold := int64(5000)
			r.SolidarityThresholdCents = &threshold
			r.SolidarityRate = decimal.RequireFromString("1.5")
		}},
		{"reserve without target", func(r *domain.CreatePotRequest) {
			r.ReserveEnabled = true
			r.ReserveTargetCents = 0
		}},
		{"recurring without duration", func(r *domain.CreatePotRequest) {
			r.Frequency = domain.FrequencyRecurring
			r.CycleDurationDays = 0
		}},
		{"end date in the past", func(r *domain.CreatePotRequest) { r.EndsAt = time.Now().Add(-time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := fixedPotRequest()
			tt.mutate(&req)
			_, err := svc.CreatePot(context.Background(), req)
			var verr *settle.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreatePotReturnsOwnerCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}
	if resp.Slug == "" || resp.OwnerToken == "" || resp.OwnerJWT == "" {
		t.Fatalf("expected slug and owner credentials, got %+v", resp)
	}

	slug, err := svc.VerifyOwnerJWT(resp.OwnerJWT)
	if err != nil {
		t.Fatalf("VerifyOwnerJWT: %v", err)
	}
	if slug != resp.Slug {
		t.Fatalf("expected owner badge bound to %s, got %s", resp.Slug, slug)
	}
}

func TestContributeRejectsWrongFixedAmount(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	_, err = svc.Contribute(context.Background(), created.Slug, domain.ContributeRequest{AmountCents: 5000})
	var verr *settle.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for wrong fixed amount, got %v", err)
	}

	// Omitting the amount on a fixed pot defaults to the fixed amount.
	resp, err := svc.Contribute(context.Background(), created.Slug, domain.ContributeRequest{})
	if err != nil {
		t.Fatalf("Contribute with default amount: %v", err)
	}
	if resp.CheckoutURL == "" {
		t.Fatalf("expected a checkout URL, got %+v", resp)
	}
}

func TestContributeRejectedOnClosedPot(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}
	if _, err := svc.ClosePot(context.Background(), created.Slug, created.OwnerToken, "", false); err != nil {
		t.Fatalf("ClosePot: %v", err)
	}

	_, err = svc.Contribute(context.Background(), created.Slug, domain.ContributeRequest{AmountCents: 10000})
	if !errors.Is(err, ErrPotClosed) {
		t.Fatalf("expected ErrPotClosed, got %v", err)
	}
}

func TestClosePotSettlesAndPublishes(t *testing.T) {
	svc, repo, publisher := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	for i := 0; i < 3; i++ {
		payContribution(t, svc, created.Slug, 10000)
	}

	result, err := svc.ClosePot(context.Background(), created.Slug, created.OwnerToken, "", false)
	if err != nil {
		t.Fatalf("ClosePot: %v", err)
	}
	if result.TotalCollectedCents != 30000 || result.TotalSurplusCents != 10000 {
		t.Fatalf("unexpected settlement totals: %+v", result)
	}
	if result.RedistributedCents != 10000 {
		t.Fatalf("expected the whole surplus redistributed, got %d", result.RedistributedCents)
	}

	pot, err := repo.FindPotBySlug(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("FindPotBySlug: %v", err)
	}
	if !pot.IsClosed() {
		t.Fatalf("expected pot closed, got %s", pot.Status)
	}

	refunds, err := repo.ListRefunds(context.Background(), pot.ID, 1)
	if err != nil {
		t.Fatalf("ListRefunds: %v", err)
	}
	if len(refunds) != 3 {
		t.Fatalf("expected 3 refunds, got %d", len(refunds))
	}
	var refundTotal int64
	for _, refund := range refunds {
		refundTotal += refund.AmountCents
		if refund.Status != domain.RefundStatusProcessed {
			t.Fatalf("expected refund processed via offline checkout, got %s", refund.Status)
		}
	}
	if refundTotal != 10000 {
		t.Fatalf("refunds must sum to the surplus, got %d", refundTotal)
	}

	ledger, err := repo.ListLedgerEntries(context.Background(), pot.ID)
	if err != nil {
		t.Fatalf("ListLedgerEntries: %v", err)
	}
	if len(ledger) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(ledger))
	}

	if len(publisher.potClosed) != 1 {
		t.Fatalf("expected one pot.closed event, got %d", len(publisher.potClosed))
	}
	if len(publisher.refundCreated) != 3 {
		t.Fatalf("expected three refund.created events, got %d", len(publisher.refundCreated))
	}

	if _, err := svc.ClosePot(context.Background(), created.Slug, created.OwnerToken, "", false); !errors.Is(err, store.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed on second close, got %v", err)
	}
}

func TestClosePotAuthorization(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := fixedPotRequest()
	req.PIN = "1234"
	created, err := svc.CreatePot(context.Background(), req)
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	if _, err := svc.ClosePot(context.Background(), created.Slug, "wrong-token", "1234", false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.ClosePot(context.Background(), created.Slug, created.OwnerToken, "9999", false); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
	if _, err := svc.ClosePot(context.Background(), created.Slug, created.OwnerToken, "1234", false); err != nil {
		t.Fatalf("expected close with valid token and pin, got %v", err)
	}
}

func TestCloseCycleAdvancesRecurringPot(t *testing.T) {
	svc, repo, publisher := newTestService(t)
	req := fixedPotRequest()
	req.Frequency = domain.FrequencyRecurring
	req.CycleDurationDays = 30
	created, err := svc.CreatePot(context.Background(), req)
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	for i := 0; i < 3; i++ {
		payContribution(t, svc, created.Slug, 10000)
	}

	result, err := svc.CloseCycle(context.Background(), created.Slug, created.OwnerToken, "", false)
	if err != nil {
		t.Fatalf("CloseCycle: %v", err)
	}
	if result.CycleNumber != 1 || result.RedistributedCents != 10000 {
		t.Fatalf("unexpected cycle settlement: %+v", result)
	}

	pot, err := repo.FindPotBySlug(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("FindPotBySlug: %v", err)
	}
	if pot.CurrentCycle != 2 {
		t.Fatalf("expected pot advanced to cycle 2, got %d", pot.CurrentCycle)
	}
	if pot.IsClosed() {
		t.Fatalf("cycle close must not close the pot")
	}

	cycle, err := repo.FindActiveCycle(context.Background(), pot.ID)
	if err != nil {
		t.Fatalf("FindActiveCycle: %v", err)
	}
	if cycle.CycleNumber != 2 {
		t.Fatalf("expected active cycle 2, got %d", cycle.CycleNumber)
	}

	if len(publisher.cycleClosed) != 1 {
		t.Fatalf("expected one cycle.closed event, got %d", len(publisher.cycleClosed))
	}
	if publisher.cycleClosed[0].NextCycleNumber != 2 {
		t.Fatalf("expected next cycle 2 in event, got %d", publisher.cycleClosed[0].NextCycleNumber)
	}
}

func TestCloseCycleRejectsOneTimePot(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	if _, err := svc.CloseCycle(context.Background(), created.Slug, created.OwnerToken, "", false); !errors.Is(err, ErrNotRecurring) {
		t.Fatalf("expected ErrNotRecurring, got %v", err)
	}
}

func TestSnapshotAndEstimate(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	payContribution(t, svc, created.Slug, 10000)
	payContribution(t, svc, created.Slug, 10000)

	snapshot, err := svc.GetPotSnapshot(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("GetPotSnapshot: %v", err)
	}
	if snapshot.TotalCollectedCents != 20000 || snapshot.ContributorsCount != 2 {
		t.Fatalf("unexpected snapshot figures: %+v", snapshot)
	}
	if snapshot.SuggestedAmountCents != 10000 {
		t.Fatalf("expected suggested fixed amount, got %d", snapshot.SuggestedAmountCents)
	}
	// Joining with 10000 makes 30000 collected: surplus 10000 over three
	// contributions, and the newcomer takes the odd cent.
	if snapshot.EstimatedRefundCents != 3334 {
		t.Fatalf("expected estimated refund 3334, got %d", snapshot.EstimatedRefundCents)
	}

	estimate, err := svc.EstimateRefund(context.Background(), created.Slug, 10000)
	if err != nil {
		t.Fatalf("EstimateRefund: %v", err)
	}
	if estimate != snapshot.EstimatedRefundCents {
		t.Fatalf("estimate endpoints disagree: %d vs %d", estimate, snapshot.EstimatedRefundCents)
	}
}

func TestListPublicContributionsMasksAnonymous(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	resp, err := svc.Contribute(context.Background(), created.Slug, domain.ContributeRequest{
		AmountCents: 10000,
		DisplayName: "Alice",
		Email:       "alice@example.com",
		IsAnonymous: true,
	})
	if err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	if err := svc.HandlePaymentCaptured(context.Background(), domain.PaymentStatusEvent{
		Status:       "captured",
		ContribToken: resp.ContribToken,
		AmountCents:  10000,
		OccurredAt:   time.Now(),
	}); err != nil {
		t.Fatalf("HandlePaymentCaptured: %v", err)
	}

	public, err := svc.ListPublicContributions(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("ListPublicContributions: %v", err)
	}
	if len(public) != 1 {
		t.Fatalf("expected one public contribution, got %d", len(public))
	}
	if public[0].DisplayName == "Alice" {
		t.Fatalf("anonymous contributor must be masked, got %q", public[0].DisplayName)
	}
	if public[0].DisplayName[:8] != "Anonyme " {
		t.Fatalf("expected Anonyme mask, got %q", public[0].DisplayName)
	}
}

func TestPaymentFailureDoesNotCountContribution(t *testing.T) {
	svc, _, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	resp, err := svc.Contribute(context.Background(), created.Slug, domain.ContributeRequest{AmountCents: 10000})
	if err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	if err := svc.HandlePaymentFailed(context.Background(), domain.PaymentStatusEvent{
		Status:       "failed",
		ContribToken: resp.ContribToken,
	}); err != nil {
		t.Fatalf("HandlePaymentFailed: %v", err)
	}

	snapshot, err := svc.GetPotSnapshot(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("GetPotSnapshot: %v", err)
	}
	if snapshot.TotalCollectedCents != 0 || snapshot.ContributorsCount != 0 {
		t.Fatalf("failed payment must not count: %+v", snapshot)
	}
}

func TestRunDueSettlementsClosesExpiredPots(t *testing.T) {
	svc, repo, _ := newTestService(t)
	created, err := svc.CreatePot(context.Background(), fixedPotRequest())
	if err != nil {
		t.Fatalf("CreatePot: %v", err)
	}
	payContribution(t, svc, created.Slug, 10000)

	// Sweep at a point past the pot's end date.
	cyclesClosed, potsClosed := svc.RunDueSettlements(context.Background(), time.Now().Add(48*time.Hour))
	if cyclesClosed != 0 || potsClosed != 1 {
		t.Fatalf("expected one pot closed, got cycles=%d pots=%d", cyclesClosed, potsClosed)
	}

	pot, err := repo.FindPotBySlug(context.Background(), created.Slug)
	if err != nil {
		t.Fatalf("FindPotBySlug: %v", err)
	}
	if !pot.IsClosed() {
		t.Fatalf("expected expired pot closed, got %s", pot.Status)
	}

	// A second sweep finds nothing to do.
	cyclesClosed, potsClosed = svc.RunDueSettlements(context.Background(), time.Now().Add(48*time.Hour))
	if cyclesClosed != 0 || potsClosed != 0 {
		t.Fatalf("expected idempotent sweep, got cycles=%d pots=%d", cyclesClosed, potsClosed)
	}
}
