/**
 * @description
 * Live refund estimation. Projects a settlement forward by one hypothetical
 * contribution to answer "if I contribute now, what would I get back?"
 * without touching any stored state.
 */

package settle

import (
	"time"

	"github.com/google/uuid"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

// EstimateContribution runs the settlement pipeline with a synthetic extra
// contribution appended and returns the refund that contribution would
// receive. Reserve absorption is deliberately ignored in the projection:
// reserve state only finalizes at an actual close, so the estimate shows
// the pre-reserve redistribution.
func EstimateContribution(pot *domain.Pot, contributions []domain.Contribution, amountCents int64, cycleNumber int) (int64, error) {
	if amountCents <= 0 {
		return 0, nil
	}

	// The nil UUID sorts ahead of every real id, so repeated estimates on
	// identical inputs are identical.
	now := time.Now()
	synthetic := domain.Contribution{
		ID:              uuid.Nil,
		PotID:           pot.ID,
		CycleNumber:     cycleNumber,
		AmountPaidCents: amountCents,
		Status:          domain.ContributionStatusPaid,
		PaidAt:          &now,
	}

	projected := withoutReserve(pot)
	all := make([]domain.Contribution, 0, len(contributions)+1)
	all = append(all, contributions...)
	all = append(all, synthetic)

	result, err := SettleCycle(projected, cycleNumber, all)
	if err != nil {
		return 0, err
	}

	for _, s := range result.Contributions {
		if s.ContributionID == uuid.Nil {
			return s.RefundCents, nil
		}
	}
	return 0, nil
}

// CurrentEstimate is the dashboard variant: the equal-split refund if the
// pot closed right now, ignoring solidarity and reserve configuration.
func CurrentEstimate(totalCollectedCents, objectiveCents int64, contributorsCount int) int64 {
	if contributorsCount <= 0 || totalCollectedCents <= objectiveCents {
		return 0
	}
	return (totalCollectedCents - objectiveCents) / int64(contributorsCount)
}

func withoutReserve(pot *domain.Pot) *domain.Pot {
	projected := *pot
	projected.ReserveEnabled = false
	projected.ReserveTargetCents = 0
	return &projected
}
