/**
 * @description
 * Exact-remainder surplus allocation. Given an amount available for
 * redistribution and per-contribution refundable caps, this produces
 * integer-cent refunds that sum exactly to the available amount while never
 * exceeding any cap.
 *
 * The method is "quotient + largest remainders" with cap-aware carry: a
 * proportional base share first, then the leftover cents handed out one at
 * a time in canonical order (smallest refundable cap first, contribution id
 * as the tie-break) so smaller contributors are made whole first and the
 * result is reproducible regardless of input ordering.
 */

package settle

import (
	"errors"
	"sort"
)

var (
	// ErrNegativeAllocation means the caller passed a negative available
	// amount or a negative refundable cap. Contract violation, not a
	// business-rule rejection.
	ErrNegativeAllocation = errors.New("allocation input must not be negative")

	// ErrAllocationOverflow means the caller asked to distribute more than
	// the sum of all refundable caps. Settlement guarantees this never
	// happens; seeing it indicates a logic error upstream.
	ErrAllocationOverflow = errors.New("available amount exceeds total refundable")
)

// RefundLine is one contribution's input to the allocator.
type RefundLine struct {
	ContributionID  string
	RefundableCents int64
}

// AllocateSurplus distributes availableCents across the lines and returns
// the refund per contribution id. The refunds sum exactly to availableCents
// and each stays within its line's refundable cap.
func AllocateSurplus(availableCents int64, lines []RefundLine) (map[string]int64, error) {
	if availableCents < 0 {
		return nil, ErrNegativeAllocation
	}

	refunds := make(map[string]int64, len(lines))
	var totalRefundable int64
	for _, line := range lines {
		if line.RefundableCents < 0 {
			return nil, ErrNegativeAllocation
		}
		refunds[line.ContributionID] = 0
		totalRefundable += line.RefundableCents
	}

	if availableCents > totalRefundable {
		return nil, ErrAllocationOverflow
	}
	if availableCents == 0 || totalRefundable == 0 {
		return refunds, nil
	}

	// Canonical deterministic order: smallest cap first, then id.
	ordered := make([]RefundLine, len(lines))
	copy(ordered, lines)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RefundableCents != ordered[j].RefundableCents {
			return ordered[i].RefundableCents < ordered[j].RefundableCents
		}
		return ordered[i].ContributionID < ordered[j].ContributionID
	})

	// Proportional base share. The integer quotient is 0 unless the full
	// refundable total is being returned, in which case every line is
	// simply filled to its cap.
	quotient := availableCents / totalRefundable
	remainder := availableCents
	for _, line := range ordered {
		base := line.RefundableCents * quotient
		if base > line.RefundableCents {
			base = line.RefundableCents
		}
		refunds[line.ContributionID] = base
		remainder -= base
	}

	// Hand out the remainder one cent at a time, looping over the ordered
	// lines until it is exhausted. Termination is guaranteed because
	// availableCents <= totalRefundable.
	for remainder > 0 {
		distributed := false
		for _, line := range ordered {
			if remainder == 0 {
				break
			}
			if refunds[line.ContributionID] < line.RefundableCents {
				refunds[line.ContributionID]++
				remainder--
				distributed = true
			}
		}
		if !distributed {
			return nil, ErrAllocationOverflow
		}
	}

	return refunds, nil
}
