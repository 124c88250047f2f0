/**
 * @description
 * Cycle settlement: the terminal computation applied when a pot or one of
 * its cycles closes. It derives the surplus against the objective, lets the
 * reserve absorb its share first, reduces each contribution to its
 * refund-eligible part via the solidarity levy, and feeds the allocator.
 *
 * The function is pure: callers may run it repeatedly for previews, and
 * persisting its output (plus flipping the cycle status exactly once) is
 * the store's responsibility.
 */

package settle

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

// ContributionSettlement is the per-contribution outcome of a settlement.
type ContributionSettlement struct {
	ContributionID  uuid.UUID `json:"contribution_id"`
	AmountPaidCents int64     `json:"amount_paid_cents"`
	RefundCents     int64     `json:"refund_amount_cents"`
	FinalCostCents  int64     `json:"final_cost_cents"`
	SolidarityCents int64     `json:"solidarity_contribution_cents"`
	RefundableCents int64     `json:"-"`
}

// SettlementResult is the full outcome of closing one cycle.
type SettlementResult struct {
	CycleNumber              int                      `json:"cycle_number"`
	Contributions            []ContributionSettlement `json:"refunds"`
	TotalCollectedCents      int64                    `json:"total_collected_cents"`
	TotalSurplusCents        int64                    `json:"total_surplus_cents"`
	TotalSolidarityCents     int64                    `json:"total_solidarity_cents"`
	ReserveUsedCents         int64                    `json:"reserve_used_cents"`
	ReserveBalanceAfterCents int64                    `json:"reserve_balance_after_cents"`
	RedistributedCents       int64                    `json:"redistributed_cents"`
}

// SettleCycle computes the settlement for the given cycle number. Only PAID
// contributions belonging to that cycle participate. When the objective is
// not exceeded there is nothing to redistribute: every refund is zero, no
// solidarity is levied and the reserve is untouched.
func SettleCycle(pot *domain.Pot, cycleNumber int, contributions []domain.Contribution) (*SettlementResult, error) {
	eligible := filterCycleContributions(contributions, cycleNumber)

	result := &SettlementResult{
		CycleNumber:              cycleNumber,
		Contributions:            make([]ContributionSettlement, 0, len(eligible)),
		ReserveBalanceAfterCents: pot.ReserveBalanceCents,
	}

	for _, c := range eligible {
		result.TotalCollectedCents += c.AmountPaidCents
	}

	surplus := result.TotalCollectedCents - pot.ObjectiveCents
	if surplus <= 0 {
		for _, c := range eligible {
			result.Contributions = append(result.Contributions, ContributionSettlement{
				ContributionID:  c.ID,
				AmountPaidCents: c.AmountPaidCents,
				RefundCents:     0,
				FinalCostCents:  c.AmountPaidCents,
				SolidarityCents: 0,
				RefundableCents: c.AmountPaidCents,
			})
		}
		return result, nil
	}
	result.TotalSurplusCents = surplus

	// Reserve absorbs the surplus up to its target before anything is
	// redistributed.
	available := surplus
	if pot.ReserveEnabled {
		needed := pot.ReserveTargetCents - pot.ReserveBalanceCents
		if needed < 0 {
			needed = 0
		}
		used := surplus
		if used > needed {
			used = needed
		}
		available = surplus - used
		result.ReserveUsedCents = used
		result.ReserveBalanceAfterCents = pot.ReserveBalanceCents + used
	}

	lines := make([]RefundLine, 0, len(eligible))
	var totalRefundable int64
	for _, c := range eligible {
		settlement := ContributionSettlement{
			ContributionID:  c.ID,
			AmountPaidCents: c.AmountPaidCents,
			RefundableCents: c.AmountPaidCents,
		}
		if pot.HasSolidarity() {
			sol := ComputeSolidarity(c.AmountPaidCents, *pot.SolidarityThresholdCents, pot.SolidarityRate)
			settlement.SolidarityCents = sol.SolidarityCents
			settlement.RefundableCents = sol.RefundableCents
			result.TotalSolidarityCents += sol.SolidarityCents
		}
		result.Contributions = append(result.Contributions, settlement)
		totalRefundable += settlement.RefundableCents
		lines = append(lines, RefundLine{
			ContributionID:  c.ID.String(),
			RefundableCents: settlement.RefundableCents,
		})
	}

	// The solidarity levy shrinks the refundable total; whatever the caps
	// cannot absorb stays with the pot, like the levy itself.
	if available > totalRefundable {
		available = totalRefundable
	}

	refunds, err := AllocateSurplus(available, lines)
	if err != nil {
		return nil, fmt.Errorf("allocate surplus: %w", err)
	}

	for i := range result.Contributions {
		s := &result.Contributions[i]
		s.RefundCents = refunds[s.ContributionID.String()]
		s.FinalCostCents = s.AmountPaidCents - s.RefundCents
		result.RedistributedCents += s.RefundCents
	}

	return result, nil
}

// LedgerEntries derives the append-only equity ledger rows for a settled
// cycle. The balance is what the contributor is net out of pocket after
// refund and levy.
func (r *SettlementResult) LedgerEntries(potID uuid.UUID) []domain.EquityLedgerEntry {
	entries := make([]domain.EquityLedgerEntry, 0, len(r.Contributions))
	for _, s := range r.Contributions {
		entries = append(entries, domain.EquityLedgerEntry{
			PotID:           potID,
			ContributionID:  s.ContributionID,
			CycleNumber:     r.CycleNumber,
			PaidCents:       s.AmountPaidCents,
			RefundedCents:   s.RefundCents,
			SolidarityCents: s.SolidarityCents,
			BalanceCents:    s.AmountPaidCents - s.RefundCents - s.SolidarityCents,
		})
	}
	return entries
}

func filterCycleContributions(contributions []domain.Contribution, cycleNumber int) []domain.Contribution {
	filtered := make([]domain.Contribution, 0, len(contributions))
	for _, c := range contributions {
		if c.CycleNumber != cycleNumber {
			continue
		}
		if c.Status != domain.ContributionStatusPaid {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}
