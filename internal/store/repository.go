/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the cagnotte service needs. The interface decouples the business
 * logic from the backing store so the Postgres implementation and the
 * in-memory implementation are interchangeable (the latter replaces the
 * original demo's module-level mock maps).
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

var (
	ErrPotNotFound          = errors.New("pot not found")
	ErrCycleNotFound        = errors.New("cycle not found")
	ErrContributionNotFound = errors.New("contribution not found")
	ErrRefundNotFound       = errors.New("refund not found")

	// ErrAlreadyClosed is returned by the conditional close operations when
	// the pot or cycle has already transitioned; this is what makes the
	// close exactly-once under concurrent callers.
	ErrAlreadyClosed = errors.New("already closed")
)

// Repository defines the set of methods for interacting with the store.
type Repository interface {
	// Pot methods
	CreatePot(ctx context.Context, pot *domain.Pot) error
	FindPotBySlug(ctx context.Context, slug string) (*domain.Pot, error)
	// ClosePot atomically flips an OPEN pot to CLOSED and records the
	// final reserve balance; returns ErrAlreadyClosed if it lost the race.
	ClosePot(ctx context.Context, potID uuid.UUID, closedAt time.Time, reserveBalanceCents int64) error
	UpdateReserveBalance(ctx context.Context, potID uuid.UUID, reserveBalanceCents int64) error
	AdvancePotCycle(ctx context.Context, potID uuid.UUID, nextCycle int) error
	// ListDueRecurringPots returns open recurring pots whose active cycle
	// window elapsed before the given instant.
	ListDueRecurringPots(ctx context.Context, now time.Time) ([]domain.Pot, error)
	// ListExpiredOneTimePots returns open one-time pots past their end date.
	ListExpiredOneTimePots(ctx context.Context, now time.Time) ([]domain.Pot, error)

	// Cycle methods
	CreateCycle(ctx context.Context, cycle *domain.Cycle) error
	FindActiveCycle(ctx context.Context, potID uuid.UUID) (*domain.Cycle, error)
	// CloseCycle atomically flips an ACTIVE cycle to CLOSED with its final
	// figures; returns ErrAlreadyClosed if it lost the race.
	CloseCycle(ctx context.Context, cycleID uuid.UUID, endedAt time.Time, totalCollectedCents, surplusCents, reserveUsedCents int64, contributorsCount int) error

	// Contribution methods
	CreateContribution(ctx context.Context, contribution *domain.Contribution) error
	FindContributionByToken(ctx context.Context, contribToken string) (*domain.Contribution, error)
	ListContributions(ctx context.Context, potID uuid.UUID, cycleNumber int) ([]domain.Contribution, error)
	ListAllContributions(ctx context.Context, potID uuid.UUID) ([]domain.Contribution, error)
	MarkContributionPaid(ctx context.Context, contributionID uuid.UUID, amountPaidCents int64, paidAt time.Time) error
	MarkContributionFailed(ctx context.Context, contributionID uuid.UUID) error

	// Refund methods
	CreateRefunds(ctx context.Context, refunds []domain.Refund) error
	ListRefunds(ctx context.Context, potID uuid.UUID, cycleNumber int) ([]domain.Refund, error)
	UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, status domain.RefundStatus, processedAt *time.Time, failureReason *string) error

	// Equity ledger methods (append-only)
	AppendLedgerEntries(ctx context.Context, entries []domain.EquityLedgerEntry) error
	ListLedgerEntries(ctx context.Context, potID uuid.UUID) ([]domain.EquityLedgerEntry, error)
}
