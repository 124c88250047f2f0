/**
 * @description
 * This file defines the core domain models for the cagnotte service.
 * A Pot is a group collection campaign: contributors pay into it and, once
 * the objective is exceeded, the surplus is redistributed back to them when
 * the pot (or its current cycle) is closed.
 *
 * @notes
 * - All monetary amounts are stored as `int64` cents end to end; the
 *   settlement math never touches floating point.
 * - The solidarity rate is a decimal fraction in [0,1] and is carried as a
 *   shopspring decimal for the same reason.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountMode controls how a contribution amount is chosen for a pot.
type AmountMode string

const (
	AmountModeFixed AmountMode = "FIXED"
	AmountModeTiers AmountMode = "TIERS"
	AmountModeFree  AmountMode = "FREE"
)

// Frequency distinguishes one-shot pots from recurring, cycle-based pots.
type Frequency string

const (
	FrequencyOneTime   Frequency = "ONE_TIME"
	FrequencyRecurring Frequency = "RECURRING"
)

// PotStatus is the lifecycle state of a pot. The OPEN -> CLOSED transition
// is irreversible.
type PotStatus string

const (
	PotStatusOpen   PotStatus = "OPEN"
	PotStatusClosed PotStatus = "CLOSED"
)

// MinContributionCents is the smallest amount accepted anywhere in the
// system (10 cents, inherited from the payment provider's floor).
const MinContributionCents int64 = 10

// Tier is one predefined contribution amount for a TIERS-mode pot.
type Tier struct {
	AmountCents int64  `json:"amount_cents"`
	Label       string `json:"label"`
}

// Pot is a collection campaign. It maps to the `pots` table.
type Pot struct {
	ID                       uuid.UUID       `json:"id"`
	Slug                     string          `json:"slug"`
	Name                     string          `json:"name"`
	ObjectiveCents           int64           `json:"objective_cents"`
	AmountMode               AmountMode      `json:"amount_mode"`
	FixedAmountCents         int64           `json:"fixed_amount_cents"`
	Tiers                    []Tier          `json:"tiers,omitempty"`
	Frequency                Frequency       `json:"frequency"`
	CycleDurationDays        int             `json:"cycle_duration_days,omitempty"`
	CurrentCycle             int             `json:"current_cycle"`
	SolidarityThresholdCents *int64          `json:"solidarity_threshold_cents,omitempty"`
	SolidarityRate           decimal.Decimal `json:"solidarity_rate"`
	ReserveEnabled           bool            `json:"reserve_enabled"`
	ReserveTargetCents       int64           `json:"reserve_target_cents,omitempty"`
	ReserveBalanceCents      int64           `json:"reserve_balance_cents"`
	OwnerToken               string          `json:"-"`
	PINHash                  *string         `json:"-"`
	Status                   PotStatus       `json:"status"`
	EndsAt                   time.Time       `json:"ends_at"`
	ClosedAt                 *time.Time      `json:"closed_at,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
}

// HasSolidarity reports whether the pot levies a solidarity contribution
// above a threshold. Threshold and rate are only ever configured together.
func (p *Pot) HasSolidarity() bool {
	return p.SolidarityThresholdCents != nil && p.SolidarityRate.IsPositive()
}

// IsClosed reports whether the pot no longer accepts contributions.
func (p *Pot) IsClosed() bool {
	return p.Status == PotStatusClosed
}

// CreatePotRequest is the DTO for the pot creation endpoint.
type CreatePotRequest struct {
	Name                     string          `json:"name"`
	ObjectiveCents           int64           `json:"objective_cents"`
	AmountMode               AmountMode      `json:"amount_mode"`
	FixedAmountCents         int64           `json:"fixed_amount_cents"`
	Tiers                    []Tier          `json:"tiers,omitempty"`
	Frequency                Frequency       `json:"frequency"`
	CycleDurationDays        int             `json:"cycle_duration_days,omitempty"`
	SolidarityThresholdCents *int64          `json:"solidarity_threshold_cents,omitempty"`
	SolidarityRate           decimal.Decimal `json:"solidarity_rate,omitempty"`
	ReserveEnabled           bool            `json:"reserve_enabled,omitempty"`
	ReserveTargetCents       int64           `json:"reserve_target_cents,omitempty"`
	EndsAt                   time.Time       `json:"ends_at"`
	PIN                      string          `json:"pin,omitempty"`
}

// CreatePotResponse returns the identifiers and credentials the owner needs
// to share and to manage the pot.
type CreatePotResponse struct {
	ID         uuid.UUID `json:"id"`
	Slug       string    `json:"slug"`
	OwnerToken string    `json:"owner_token"`
	OwnerJWT   string    `json:"owner_jwt"`
	PublicURL  string    `json:"public_url"`
	AdminURL   string    `json:"admin_url"`
}

// PotSnapshot is the public view of a pot plus its live, derived figures.
type PotSnapshot struct {
	Pot                  *Pot  `json:"pot"`
	TotalCollectedCents  int64 `json:"total_collected_cents"`
	ContributorsCount    int   `json:"contributors_count"`
	SuggestedAmountCents int64 `json:"suggested_amount_cents"`
	EstimatedRefundCents int64 `json:"estimated_refund_if_i_pay_now_cents"`
}
