/**
 * @description
 * Contribution, Cycle, Refund and equity ledger models. A contribution is a
 * single payment event scoped to exactly one pot and one cycle number; once
 * paid it is immutable apart from refund bookkeeping.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContributionStatus tracks a contribution through the payment pipeline.
type ContributionStatus string

const (
	ContributionStatusPending ContributionStatus = "PENDING"
	ContributionStatusPaid    ContributionStatus = "PAID"
	ContributionStatusFailed  ContributionStatus = "FAILED"
)

// CycleStatus is the lifecycle state of one redistribution period.
type CycleStatus string

const (
	CycleStatusActive CycleStatus = "ACTIVE"
	CycleStatusClosed CycleStatus = "CLOSED"
)

// RefundStatus tracks a computed refund through downstream processing.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusProcessed RefundStatus = "PROCESSED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// Contribution is one payment into a pot. Maps to the `contributions` table.
type Contribution struct {
	ID                   uuid.UUID          `json:"id"`
	PotID                uuid.UUID          `json:"pot_id"`
	CycleNumber          int                `json:"cycle_number"`
	AmountSuggestedCents int64              `json:"amount_suggested_cents"`
	AmountPaidCents      int64              `json:"amount_paid_cents"`
	Email                *string            `json:"email,omitempty"`
	DisplayName          *string            `json:"display_name,omitempty"`
	IsAnonymous          bool               `json:"is_anonymous"`
	TierSelected         *string            `json:"tier_selected,omitempty"`
	ContribToken         string             `json:"contrib_token"`
	CheckoutSessionID    *string            `json:"checkout_session_id,omitempty"`
	Status               ContributionStatus `json:"status"`
	PaidAt               *time.Time         `json:"paid_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// Cycle is one redistribution period of a recurring pot. One-time pots use
// an implicit single cycle numbered 1. Maps to the `cycles` table.
type Cycle struct {
	ID                  uuid.UUID   `json:"id"`
	PotID               uuid.UUID   `json:"pot_id"`
	CycleNumber         int         `json:"cycle_number"`
	ObjectiveCents      int64       `json:"objective_cents"`
	TotalCollectedCents int64       `json:"total_collected_cents"`
	SurplusCents        int64       `json:"surplus_cents"`
	ReserveUsedCents    int64       `json:"reserve_used_cents"`
	ContributorsCount   int         `json:"contributors_count"`
	Status              CycleStatus `json:"status"`
	StartedAt           time.Time   `json:"started_at"`
	EndedAt             *time.Time  `json:"ended_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Refund is the computed payout for one contribution at closing time.
// Maps to the `refunds` table. Refunds are only ever created as an output
// of settlement, never for a zero surplus.
type Refund struct {
	ID             uuid.UUID    `json:"id"`
	ContributionID uuid.UUID    `json:"contribution_id"`
	PotID          uuid.UUID    `json:"pot_id"`
	CycleNumber    int          `json:"cycle_number"`
	AmountCents    int64        `json:"amount_cents"`
	Status         RefundStatus `json:"status"`
	ProcessedAt    *time.Time   `json:"processed_at,omitempty"`
	FailureReason  *string      `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EquityLedgerEntry records one contribution's net position for one cycle.
// Append-only; rows are never mutated after creation.
type EquityLedgerEntry struct {
	ID               uuid.UUID `json:"id"`
	PotID            uuid.UUID `json:"pot_id"`
	ContributionID   uuid.UUID `json:"contribution_id"`
	CycleNumber      int       `json:"cycle_number"`
	PaidCents        int64     `json:"paid_cents"`
	RefundedCents    int64     `json:"refunded_cents"`
	SolidarityCents  int64     `json:"solidarity_cents"`
	BalanceCents     int64     `json:"balance_cents"`
	CreatedAt        time.Time `json:"created_at"`
}

// ContributeRequest is the DTO for the public contribute endpoint.
type ContributeRequest struct {
	AmountCents  int64   `json:"amount_cents,omitempty"`
	Email        string  `json:"email,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
	IsAnonymous  bool    `json:"is_anonymous,omitempty"`
	TierSelected *string `json:"tier_selected,omitempty"`
}

// ContributeResponse carries the contribution reference and the checkout
// session the contributor is redirected to.
type ContributeResponse struct {
	ContributionID uuid.UUID `json:"contribution_id"`
	ContribToken   string    `json:"contrib_token"`
	CheckoutURL    string    `json:"checkout_url"`
}

// PublicContribution is the redacted view exposed on the pot page.
// Anonymous contributors are masked and emails are never exposed.
type PublicContribution struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AmountCents int64     `json:"amount_cents"`
	CycleNumber int       `json:"cycle_number"`
	PaidAt      time.Time `json:"paid_at"`
}
