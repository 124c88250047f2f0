package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

func newTestPot() *domain.Pot {
	return &domain.Pot{
		ID:               uuid.New(),
		Slug:             "abc12345",
		Name:             "Team lunch",
		ObjectiveCents:   20000,
		AmountMode:       domain.AmountModeFixed,
		FixedAmountCents: 10000,
		Frequency:        domain.FrequencyOneTime,
		SolidarityRate:   decimal.Zero,
		CurrentCycle:     1,
		Status:           domain.PotStatusOpen,
		EndsAt:           time.Now().Add(24 * time.Hour),
		CreatedAt:        time.Now(),
	}
}

func TestMemoryRepositoryClosePotExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	pot := newTestPot()
	if err := repo.CreatePot(ctx, pot); err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.ClosePot(ctx, pot.ID, time.Now(), 0)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyClosed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one close to succeed, got %d", succeeded)
	}

	stored, err := repo.FindPotBySlug(ctx, pot.Slug)
	if err != nil {
		t.Fatalf("FindPotBySlug: %v", err)
	}
	if stored.Status != domain.PotStatusClosed || stored.ClosedAt == nil {
		t.Fatalf("pot not closed: %+v", stored)
	}
}

func TestMemoryRepositoryCloseCycleExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	pot := newTestPot()
	if err := repo.CreatePot(ctx, pot); err != nil {
		t.Fatalf("CreatePot: %v", err)
	}
	cycle := &domain.Cycle{
		ID:             uuid.New(),
		PotID:          pot.ID,
		CycleNumber:    1,
		ObjectiveCents: pot.ObjectiveCents,
		Status:         domain.CycleStatusActive,
		StartedAt:      time.Now(),
		CreatedAt:      time.Now(),
	}
	if err := repo.CreateCycle(ctx, cycle); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}

	if err := repo.CloseCycle(ctx, cycle.ID, time.Now(), 30000, 10000, 0, 3); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := repo.CloseCycle(ctx, cycle.ID, time.Now(), 30000, 10000, 0, 3); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed on second close, got %v", err)
	}
	if _, err := repo.FindActiveCycle(ctx, pot.ID); !errors.Is(err, ErrCycleNotFound) {
		t.Fatalf("expected no active cycle after close, got %v", err)
	}
}

func TestMemoryRepositoryContributionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	pot := newTestPot()
	if err := repo.CreatePot(ctx, pot); err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	contribution := &domain.Contribution{
		ID:                   uuid.New(),
		PotID:                pot.ID,
		CycleNumber:          1,
		AmountSuggestedCents: 10000,
		AmountPaidCents:      10000,
		ContribToken:         "tok-1",
		Status:               domain.ContributionStatusPending,
		CreatedAt:            time.Now(),
	}
	if err := repo.CreateContribution(ctx, contribution); err != nil {
		t.Fatalf("CreateContribution: %v", err)
	}

	paidAt := time.Now()
	if err := repo.MarkContributionPaid(ctx, contribution.ID, 10000, paidAt); err != nil {
		t.Fatalf("MarkContributionPaid: %v", err)
	}
	// Replays of the captured event must not flip a settled contribution.
	if err := repo.MarkContributionFailed(ctx, contribution.ID); err != nil {
		t.Fatalf("MarkContributionFailed replay: %v", err)
	}

	stored, err := repo.FindContributionByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindContributionByToken: %v", err)
	}
	if stored.Status != domain.ContributionStatusPaid {
		t.Fatalf("expected PAID after replayed failure event, got %s", stored.Status)
	}

	listed, err := repo.ListContributions(ctx, pot.ID, 1)
	if err != nil {
		t.Fatalf("ListContributions: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 contribution, got %d", len(listed))
	}
}

func TestMemoryRepositoryDuePots(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()

	recurring := newTestPot()
	recurring.Slug = "recurring"
	recurring.Frequency = domain.FrequencyRecurring
	recurring.CycleDurationDays = 30
	if err := repo.CreatePot(ctx, recurring); err != nil {
		t.Fatalf("CreatePot: %v", err)
	}
	if err := repo.CreateCycle(ctx, &domain.Cycle{
		ID:          uuid.New(),
		PotID:       recurring.ID,
		CycleNumber: 1,
		Status:      domain.CycleStatusActive,
		StartedAt:   now.AddDate(0, 0, -31),
		CreatedAt:   now.AddDate(0, 0, -31),
	}); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}

	expired := newTestPot()
	expired.Slug = "expired"
	expired.EndsAt = now.Add(-time.Hour)
	if err := repo.CreatePot(ctx, expired); err != nil {
		t.Fatalf("CreatePot: %v", err)
	}

	due, err := repo.ListDueRecurringPots(ctx, now)
	if err != nil {
		t.Fatalf("ListDueRecurringPots: %v", err)
	}
	if len(due) != 1 || due[0].Slug != "recurring" {
		t.Fatalf("expected the recurring pot due, got %v", due)
	}

	past, err := repo.ListExpiredOneTimePots(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredOneTimePots: %v", err)
	}
	if len(past) != 1 || past[0].Slug != "expired" {
		t.Fatalf("expected the expired pot, got %v", past)
	}
}
