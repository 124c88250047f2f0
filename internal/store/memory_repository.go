/**
 * @description
 * In-memory implementation of the Repository interface. It backs the demo
 * mode (no database configured) and the test suite. All state lives behind
 * one mutex; values are copied in and out so callers never share memory
 * with the store.
 */

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

// MemoryRepository is a mutex-guarded, map-backed Repository.
type MemoryRepository struct {
	mu            sync.Mutex
	pots          map[uuid.UUID]domain.Pot
	potsBySlug    map[string]uuid.UUID
	cycles        map[uuid.UUID]domain.Cycle
	contributions map[uuid.UUID]domain.Contribution
	refunds       map[uuid.UUID]domain.Refund
	ledger        []domain.EquityLedgerEntry
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pots:          make(map[uuid.UUID]domain.Pot),
		potsBySlug:    make(map[string]uuid.UUID),
		cycles:        make(map[uuid.UUID]domain.Cycle),
		contributions: make(map[uuid.UUID]domain.Contribution),
		refunds:       make(map[uuid.UUID]domain.Refund),
	}
}

func (r *MemoryRepository) CreatePot(ctx context.Context, pot *domain.Pot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pots[pot.ID] = *pot
	r.potsBySlug[pot.Slug] = pot.ID
	return nil
}

func (r *MemoryRepository) FindPotBySlug(ctx context.Context, slug string) (*domain.Pot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.potsBySlug[slug]
	if !ok {
		return nil, ErrPotNotFound
	}
	pot := r.pots[id]
	return &pot, nil
}

func (r *MemoryRepository) ClosePot(ctx context.Context, potID uuid.UUID, closedAt time.Time, reserveBalanceCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pot, ok := r.pots[potID]
	if !ok {
		return ErrPotNotFound
	}
	if pot.Status != domain.PotStatusOpen {
		return ErrAlreadyClosed
	}
	pot.Status = domain.PotStatusClosed
	pot.ClosedAt = &closedAt
	pot.ReserveBalanceCents = reserveBalanceCents
	r.pots[potID] = pot
	return nil
}

func (r *MemoryRepository) UpdateReserveBalance(ctx context.Context, potID uuid.UUID, reserveBalanceCents int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pot, ok := r.pots[potID]
	if !ok {
		return ErrPotNotFound
	}
	pot.ReserveBalanceCents = reserveBalanceCents
	r.pots[potID] = pot
	return nil
}

func (r *MemoryRepository) AdvancePotCycle(ctx context.Context, potID uuid.UUID, nextCycle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pot, ok := r.pots[potID]
	if !ok {
		return ErrPotNotFound
	}
	pot.CurrentCycle = nextCycle
	r.pots[potID] = pot
	return nil
}

func (r *MemoryRepository) ListDueRecurringPots(ctx context.Context, now time.Time) ([]domain.Pot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Pot
	for _, pot := range r.pots {
		if pot.Status != domain.PotStatusOpen || pot.Frequency != domain.FrequencyRecurring {
			continue
		}
		for _, cycle := range r.cycles {
			if cycle.PotID != pot.ID || cycle.Status != domain.CycleStatusActive {
				continue
			}
			windowEnd := cycle.StartedAt.AddDate(0, 0, pot.CycleDurationDays)
			if !windowEnd.After(now) {
				due = append(due, pot)
			}
			break
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	return due, nil
}

func (r *MemoryRepository) ListExpiredOneTimePots(ctx context.Context, now time.Time) ([]domain.Pot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []domain.Pot
	for _, pot := range r.pots {
		if pot.Status != domain.PotStatusOpen || pot.Frequency != domain.FrequencyOneTime {
			continue
		}
		if !pot.EndsAt.After(now) {
			expired = append(expired, pot)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].EndsAt.Before(expired[j].EndsAt) })
	return expired, nil
}

func (r *MemoryRepository) CreateCycle(ctx context.Context, cycle *domain.Cycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles[cycle.ID] = *cycle
	return nil
}

func (r *MemoryRepository) FindActiveCycle(ctx context.Context, potID uuid.UUID) (*domain.Cycle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cycle := range r.cycles {
		if cycle.PotID == potID && cycle.Status == domain.CycleStatusActive {
			found := cycle
			return &found, nil
		}
	}
	return nil, ErrCycleNotFound
}

func (r *MemoryRepository) CloseCycle(ctx context.Context, cycleID uuid.UUID, endedAt time.Time, totalCollectedCents, surplusCents, reserveUsedCents int64, contributorsCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cycle, ok := r.cycles[cycleID]
	if !ok {
		return ErrCycleNotFound
	}
	if cycle.Status != domain.CycleStatusActive {
		return ErrAlreadyClosed
	}
	cycle.Status = domain.CycleStatusClosed
	cycle.EndedAt = &endedAt
	cycle.TotalCollectedCents = totalCollectedCents
	cycle.SurplusCents = surplusCents
	cycle.ReserveUsedCents = reserveUsedCents
	cycle.ContributorsCount = contributorsCount
	r.cycles[cycleID] = cycle
	return nil
}

func (r *MemoryRepository) CreateContribution(ctx context.Context, contribution *domain.Contribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contributions[contribution.ID] = *contribution
	return nil
}

func (r *MemoryRepository) FindContributionByToken(ctx context.Context, contribToken string) (*domain.Contribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contributions {
		if c.ContribToken == contribToken {
			found := c
			return &found, nil
		}
	}
	return nil, ErrContributionNotFound
}

func (r *MemoryRepository) ListContributions(ctx context.Context, potID uuid.UUID, cycleNumber int) ([]domain.Contribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Contribution
	for _, c := range r.contributions {
		if c.PotID == potID && c.CycleNumber == cycleNumber {
			out = append(out, c)
		}
	}
	sortContributions(out)
	return out, nil
}

func (r *MemoryRepository) ListAllContributions(ctx context.Context, potID uuid.UUID) ([]domain.Contribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Contribution
	for _, c := range r.contributions {
		if c.PotID == potID {
			out = append(out, c)
		}
	}
	sortContributions(out)
	return out, nil
}

func sortContributions(contributions []domain.Contribution) {
	sort.Slice(contributions, func(i, j int) bool {
		if !contributions[i].CreatedAt.Equal(contributions[j].CreatedAt) {
			return contributions[i].CreatedAt.Before(contributions[j].CreatedAt)
		}
		return contributions[i].ID.String() < contributions[j].ID.String()
	})
}

func (r *MemoryRepository) MarkContributionPaid(ctx context.Context, contributionID uuid.UUID, amountPaidCents int64, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contributions[contributionID]
	if !ok {
		return ErrContributionNotFound
	}
	if c.Status != domain.ContributionStatusPending {
		return nil
	}
	c.Status = domain.ContributionStatusPaid
	c.AmountPaidCents = amountPaidCents
	c.PaidAt = &paidAt
	r.contributions[contributionID] = c
	return nil
}

func (r *MemoryRepository) MarkContributionFailed(ctx context.Context, contributionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contributions[contributionID]
	if !ok {
		return ErrContributionNotFound
	}
	if c.Status != domain.ContributionStatusPending {
		return nil
	}
	c.Status = domain.ContributionStatusFailed
	r.contributions[contributionID] = c
	return nil
}

func (r *MemoryRepository) CreateRefunds(ctx context.Context, refunds []domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, refund := range refunds {
		r.refunds[refund.ID] = refund
	}
	return nil
}

func (r *MemoryRepository) ListRefunds(ctx context.Context, potID uuid.UUID, cycleNumber int) ([]domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Refund
	for _, refund := range r.refunds {
		if refund.PotID == potID && refund.CycleNumber == cycleNumber {
			out = append(out, refund)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *MemoryRepository) UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, status domain.RefundStatus, processedAt *time.Time, failureReason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	refund, ok := r.refunds[refundID]
	if !ok {
		return ErrRefundNotFound
	}
	refund.Status = status
	refund.ProcessedAt = processedAt
	refund.FailureReason = failureReason
	r.refunds[refundID] = refund
	return nil
}

func (r *MemoryRepository) AppendLedgerEntries(ctx context.Context, entries []domain.EquityLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger = append(r.ledger, entries...)
	return nil
}

func (r *MemoryRepository) ListLedgerEntries(ctx context.Context, potID uuid.UUID) ([]domain.EquityLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EquityLedgerEntry
	for _, entry := range r.ledger {
		if entry.PotID == potID {
			out = append(out, entry)
		}
	}
	return out, nil
}
