/**
 * @description
 * PostgreSQL implementation of the Repository interface using pgx. The
 * close operations rely on conditional single-row updates so that a pot or
 * cycle can only ever transition once, no matter how many callers race.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - github.com/shopspring/decimal: Solidarity rate column handling.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

// PostgresRepository is the pgx-backed Repository implementation.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const potColumns = `
	id, slug, name, objective_cents, amount_mode, fixed_amount_cents, tiers,
	frequency, cycle_duration_days, current_cycle,
	solidarity_threshold_cents, solidarity_rate,
	reserve_enabled, reserve_target_cents, reserve_balance_cents,
	owner_token, pin_hash, status, ends_at, closed_at, created_at`

func scanPot(row pgx.Row) (*domain.Pot, error) {
	var pot domain.Pot
	var tiersJSON []byte
	var rateText string
	if err := row.Scan(
		&pot.ID,
		&pot.Slug,
		&pot.Name,
		&pot.ObjectiveCents,
		&pot.AmountMode,
		&pot.FixedAmountCents,
		&tiersJSON,
		&pot.Frequency,
		&pot.CycleDurationDays,
		&pot.CurrentCycle,
		&pot.SolidarityThresholdCents,
		&rateText,
		&pot.ReserveEnabled,
		&pot.ReserveTargetCents,
		&pot.ReserveBalanceCents,
		&pot.OwnerToken,
		&pot.PINHash,
		&pot.Status,
		&pot.EndsAt,
		&pot.ClosedAt,
		&pot.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &pot.Tiers); err != nil {
			return nil, fmt.Errorf("decode tiers: %w", err)
		}
	}
	rate, err := decimal.NewFromString(rateText)
	if err != nil {
		return nil, fmt.Errorf("decode solidarity rate: %w", err)
	}
	pot.SolidarityRate = rate

	return &pot, nil
}

// CreatePot inserts a new pot row.
func (r *PostgresRepository) CreatePot(ctx context.Context, pot *domain.Pot) error {
	tiersJSON, err := json.Marshal(pot.Tiers)
	if err != nil {
		return fmt.Errorf("encode tiers: %w", err)
	}

	query := `
		INSERT INTO pots (
			id, slug, name, objective_cents, amount_mode, fixed_amount_cents, tiers,
			frequency, cycle_duration_days, current_cycle,
			solidarity_threshold_cents, solidarity_rate,
			reserve_enabled, reserve_target_cents, reserve_balance_cents,
			owner_token, pin_hash, status, ends_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = r.db.Exec(ctx, query,
		pot.ID,
		pot.Slug,
		pot.Name,
		pot.ObjectiveCents,
		pot.AmountMode,
		pot.FixedAmountCents,
		tiersJSON,
		pot.Frequency,
		pot.CycleDurationDays,
		pot.CurrentCycle,
		pot.SolidarityThresholdCents,
		pot.SolidarityRate.String(),
		pot.ReserveEnabled,
		pot.ReserveTargetCents,
		pot.ReserveBalanceCents,
		pot.OwnerToken,
		pot.PINHash,
		pot.Status,
		pot.EndsAt,
		pot.CreatedAt,
	)
	return err
}

// FindPotBySlug retrieves a pot by its public slug.
func (r *PostgresRepository) FindPotBySlug(ctx context.Context, slug string) (*domain.Pot, error) {
	query := `SELECT` + potColumns + ` FROM pots WHERE slug = $1`
	pot, err := scanPot(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPotNotFound
		}
		return nil, err
	}
	return pot, nil
}

// ClosePot flips an OPEN pot to CLOSED. The status predicate makes the
// transition exactly-once under concurrent closes.
func (r *PostgresRepository) ClosePot(ctx context.Context, potID uuid.UUID, closedAt time.Time, reserveBalanceCents int64) error {
	query := `
		UPDATE pots
		SET status = 'CLOSED',
		    closed_at = $2,
		    reserve_balance_cents = $3
		WHERE id = $1
		  AND status = 'OPEN'
	`
	tag, err := r.db.Exec(ctx, query, potID, closedAt, reserveBalanceCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// UpdateReserveBalance stores the post-settlement reserve balance.
func (r *PostgresRepository) UpdateReserveBalance(ctx context.Context, potID uuid.UUID, reserveBalanceCents int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pots SET reserve_balance_cents = $2 WHERE id = $1`,
		potID, reserveBalanceCents)
	return err
}

// AdvancePotCycle bumps the pot's current cycle number.
func (r *PostgresRepository) AdvancePotCycle(ctx context.Context, potID uuid.UUID, nextCycle int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pots SET current_cycle = $2 WHERE id = $1`,
		potID, nextCycle)
	return err
}

// ListDueRecurringPots returns open recurring pots whose active cycle
// window elapsed before `now`.
func (r *PostgresRepository) ListDueRecurringPots(ctx context.Context, now time.Time) ([]domain.Pot, error) {
	query := `
		SELECT` + potColumns + `
		FROM pots
		WHERE status = 'OPEN'
		  AND frequency = 'RECURRING'
		  AND EXISTS (
			SELECT 1 FROM cycles
			WHERE cycles.pot_id = pots.id
			  AND cycles.status = 'ACTIVE'
			  AND cycles.started_at + make_interval(days => pots.cycle_duration_days) <= $1
		  )
		ORDER BY created_at ASC
	`
	return r.queryPots(ctx, query, now)
}

// ListExpiredOneTimePots returns open one-time pots past their end date.
func (r *PostgresRepository) ListExpiredOneTimePots(ctx context.Context, now time.Time) ([]domain.Pot, error) {
	query := `
		SELECT` + potColumns + `
		FROM pots
		WHERE status = 'OPEN'
		  AND frequency = 'ONE_TIME'
		  AND ends_at <= $1
		ORDER BY ends_at ASC
	`
	return r.queryPots(ctx, query, now)
}

func (r *PostgresRepository) queryPots(ctx context.Context, query string, args ...interface{}) ([]domain.Pot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pots []domain.Pot
	for rows.Next() {
		pot, err := scanPot(rows)
		if err != nil {
			return nil, err
		}
		pots = append(pots, *pot)
	}
	return pots, rows.Err()
}

// CreateCycle inserts a new cycle row.
func (r *PostgresRepository) CreateCycle(ctx context.Context, cycle *domain.Cycle) error {
	query := `
		INSERT INTO cycles (
			id, pot_id, cycle_number, objective_cents, total_collected_cents,
			surplus_cents, reserve_used_cents, contributors_count, status,
			started_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		cycle.ID,
		cycle.PotID,
		cycle.CycleNumber,
		cycle.ObjectiveCents,
		cycle.TotalCollectedCents,
		cycle.SurplusCents,
		cycle.ReserveUsedCents,
		cycle.ContributorsCount,
		cycle.Status,
		cycle.StartedAt,
		cycle.CreatedAt,
	)
	return err
}

const cycleColumns = `
	id, pot_id, cycle_number, objective_cents, total_collected_cents,
	surplus_cents, reserve_used_cents, contributors_count, status,
	started_at, ended_at, created_at`

func scanCycle(row pgx.Row) (*domain.Cycle, error) {
	var cycle domain.Cycle
	if err := row.Scan(
		&cycle.ID,
		&cycle.PotID,
		&cycle.CycleNumber,
		&cycle.ObjectiveCents,
		&cycle.TotalCollectedCents,
		&cycle.SurplusCents,
		&cycle.ReserveUsedCents,
		&cycle.ContributorsCount,
		&cycle.Status,
		&cycle.StartedAt,
		&cycle.EndedAt,
		&cycle.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &cycle, nil
}

// FindActiveCycle retrieves the single ACTIVE cycle of a pot.
func (r *PostgresRepository) FindActiveCycle(ctx context.Context, potID uuid.UUID) (*domain.Cycle, error) {
	query := `SELECT` + cycleColumns + ` FROM cycles WHERE pot_id = $1 AND status = 'ACTIVE'`
	cycle, err := scanCycle(r.db.QueryRow(ctx, query, potID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return cycle, nil
}

// CloseCycle flips an ACTIVE cycle to CLOSED with its final figures.
func (r *PostgresRepository) CloseCycle(ctx context.Context, cycleID uuid.UUID, endedAt time.Time, totalCollectedCents, surplusCents, reserveUsedCents int64, contributorsCount int) error {
	query := `
		UPDATE cycles
		SET status = 'CLOSED',
		    ended_at = $2,
		    total_collected_cents = $3,
		    surplus_cents = $4,
		    reserve_used_cents = $5,
		    contributors_count = $6
		WHERE id = $1
		  AND status = 'ACTIVE'
	`
	tag, err := r.db.Exec(ctx, query, cycleID, endedAt, totalCollectedCents, surplusCents, reserveUsedCents, contributorsCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// CreateContribution inserts a new contribution row.
func (r *PostgresRepository) CreateContribution(ctx context.Context, c *domain.Contribution) error {
	query := `
		INSERT INTO contributions (
			id, pot_id, cycle_number, amount_suggested_cents, amount_paid_cents,
			email, display_name, is_anonymous, tier_selected, contrib_token,
			checkout_session_id, status, paid_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.Exec(ctx, query,
		c.ID,
		c.PotID,
		c.CycleNumber,
		c.AmountSuggestedCents,
		c.AmountPaidCents,
		c.Email,
		c.DisplayName,
		c.IsAnonymous,
		c.TierSelected,
		c.ContribToken,
		c.CheckoutSessionID,
		c.Status,
		c.PaidAt,
		c.CreatedAt,
	)
	return err
}

const contributionColumns = `
	id, pot_id, cycle_number, amount_suggested_cents, amount_paid_cents,
	email, display_name, is_anonymous, tier_selected, contrib_token,
	checkout_session_id, status, paid_at, created_at`

func scanContribution(row pgx.Row) (*domain.Contribution, error) {
	var c domain.Contribution
	if err := row.Scan(
		&c.ID,
		&c.PotID,
		&c.CycleNumber,
		&c.AmountSuggestedCents,
		&c.AmountPaidCents,
		&c.Email,
		&c.DisplayName,
		&c.IsAnonymous,
		&c.TierSelected,
		&c.ContribToken,
		&c.CheckoutSessionID,
		&c.Status,
		&c.PaidAt,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindContributionByToken retrieves a contribution by its proof-of-payment token.
func (r *PostgresRepository) FindContributionByToken(ctx context.Context, contribToken string) (*domain.Contribution, error) {
	query := `SELECT` + contributionColumns + ` FROM contributions WHERE contrib_token = $1`
	c, err := scanContribution(r.db.QueryRow(ctx, query, contribToken))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContributionNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListContributions retrieves a pot's contributions for one cycle.
func (r *PostgresRepository) ListContributions(ctx context.Context, potID uuid.UUID, cycleNumber int) ([]domain.Contribution, error) {
	query := `
		SELECT` + contributionColumns + `
		FROM contributions
		WHERE pot_id = $1 AND cycle_number = $2
		ORDER BY created_at ASC
	`
	return r.queryContributions(ctx, query, potID, cycleNumber)
}

// ListAllContributions retrieves every contribution of a pot across cycles.
func (r *PostgresRepository) ListAllContributions(ctx context.Context, potID uuid.UUID) ([]domain.Contribution, error) {
	query := `
		SELECT` + contributionColumns + `
		FROM contributions
		WHERE pot_id = $1
		ORDER BY created_at ASC
	`
	return r.queryContributions(ctx, query, potID)
}

func (r *PostgresRepository) queryContributions(ctx context.Context, query string, args ...interface{}) ([]domain.Contribution, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributions []domain.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *c)
	}
	return contributions, rows.Err()
}

// MarkContributionPaid records a captured payment. Only a pending
// contribution can transition; replayed events are harmless.
func (r *PostgresRepository) MarkContributionPaid(ctx context.Context, contributionID uuid.UUID, amountPaidCents int64, paidAt time.Time) error {
	query := `
		UPDATE contributions
		SET status = 'PAID',
		    amount_paid_cents = $2,
		    paid_at = $3
		WHERE id = $1
		  AND status = 'PENDING'
	`
	_, err := r.db.Exec(ctx, query, contributionID, amountPaidCents, paidAt)
	return err
}

// MarkContributionFailed records a failed payment.
func (r *PostgresRepository) MarkContributionFailed(ctx context.Context, contributionID uuid.UUID) error {
	query := `
		UPDATE contributions
		SET status = 'FAILED'
		WHERE id = $1
		  AND status = 'PENDING'
	`
	_, err := r.db.Exec(ctx, query, contributionID)
	return err
}

// CreateRefunds inserts the settlement's refund rows in one batch.
func (r *PostgresRepository) CreateRefunds(ctx context.Context, refunds []domain.Refund) error {
	if len(refunds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO refunds (
			id, contribution_id, pot_id, cycle_number, amount_cents,
			status, processed_at, failure_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, refund := range refunds {
		batch.Queue(query,
			refund.ID,
			refund.ContributionID,
			refund.PotID,
			refund.CycleNumber,
			refund.AmountCents,
			refund.Status,
			refund.ProcessedAt,
			refund.FailureReason,
			refund.CreatedAt,
		)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

// ListRefunds retrieves the refunds computed for one cycle of a pot.
func (r *PostgresRepository) ListRefunds(ctx context.Context, potID uuid.UUID, cycleNumber int) ([]domain.Refund, error) {
	query := `
		SELECT id, contribution_id, pot_id, cycle_number, amount_cents,
		       status, processed_at, failure_reason, created_at
		FROM refunds
		WHERE pot_id = $1 AND cycle_number = $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, potID, cycleNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var refund domain.Refund
		if err := rows.Scan(
			&refund.ID,
			&refund.ContributionID,
			&refund.PotID,
			&refund.CycleNumber,
			&refund.AmountCents,
			&refund.Status,
			&refund.ProcessedAt,
			&refund.FailureReason,
			&refund.CreatedAt,
		); err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	return refunds, rows.Err()
}

// UpdateRefundStatus records the payment bridge's processing outcome.
func (r *PostgresRepository) UpdateRefundStatus(ctx context.Context, refundID uuid.UUID, status domain.RefundStatus, processedAt *time.Time, failureReason *string) error {
	query := `
		UPDATE refunds
		SET status = $2,
		    processed_at = $3,
		    failure_reason = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, refundID, status, processedAt, failureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

// AppendLedgerEntries inserts equity ledger rows. The table carries no
// update path anywhere in the codebase; entries are append-only.
func (r *PostgresRepository) AppendLedgerEntries(ctx context.Context, entries []domain.EquityLedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO equity_ledger_entries (
			id, pot_id, contribution_id, cycle_number,
			paid_cents, refunded_cents, solidarity_cents, balance_cents, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, entry := range entries {
		batch.Queue(query,
			entry.ID,
			entry.PotID,
			entry.ContributionID,
			entry.CycleNumber,
			entry.PaidCents,
			entry.RefundedCents,
			entry.SolidarityCents,
			entry.BalanceCents,
			entry.CreatedAt,
		)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

// ListLedgerEntries retrieves a pot's equity ledger across cycles.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, potID uuid.UUID) ([]domain.EquityLedgerEntry, error) {
	query := `
		SELECT id, pot_id, contribution_id, cycle_number,
		       paid_cents, refunded_cents, solidarity_cents, balance_cents, created_at
		FROM equity_ledger_entries
		WHERE pot_id = $1
		ORDER BY cycle_number ASC, created_at ASC
	`
	rows, err := r.db.Query(ctx, query, potID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.EquityLedgerEntry
	for rows.Next() {
		var entry domain.EquityLedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.PotID,
			&entry.ContributionID,
			&entry.CycleNumber,
			&entry.PaidCents,
			&entry.RefundedCents,
			&entry.SolidarityCents,
			&entry.BalanceCents,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
