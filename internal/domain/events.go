package domain

import "time"

// PaymentStatusEvent is the message emitted by the payment bridge when a
// checkout session settles (captured) or fails.
type PaymentStatusEvent struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	Status            string    `json:"status"`
	CheckoutSessionID string    `json:"checkout_session_id"`
	ContribToken      string    `json:"contrib_token"`
	AmountCents       int64     `json:"amount_cents"`
	Currency          string    `json:"currency"`
	Reason            string    `json:"reason"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// PotClosedEvent is published when a pot reaches its terminal CLOSED state.
type PotClosedEvent struct {
	PotID               string    `json:"pot_id"`
	Slug                string    `json:"slug"`
	TotalCollectedCents int64     `json:"total_collected_cents"`
	SurplusCents        int64     `json:"surplus_cents"`
	RefundsCount        int       `json:"refunds_count"`
	ClosedAt            time.Time `json:"closed_at"`
}

// CycleClosedEvent is published when a recurring pot's cycle settles.
type CycleClosedEvent struct {
	PotID               string    `json:"pot_id"`
	Slug                string    `json:"slug"`
	CycleNumber         int       `json:"cycle_number"`
	TotalCollectedCents int64     `json:"total_collected_cents"`
	SurplusCents        int64     `json:"surplus_cents"`
	ReserveBalanceCents int64     `json:"reserve_balance_cents"`
	NextCycleNumber     int       `json:"next_cycle_number"`
	ClosedAt            time.Time `json:"closed_at"`
}

// RefundCreatedEvent is published once per computed refund so the payment
// bridge can execute it asynchronously.
type RefundCreatedEvent struct {
	RefundID       string    `json:"refund_id"`
	ContributionID string    `json:"contribution_id"`
	PotID          string    `json:"pot_id"`
	CycleNumber    int       `json:"cycle_number"`
	AmountCents    int64     `json:"amount_cents"`
	CreatedAt      time.Time `json:"created_at"`
}
