/**
 * @description
 * Amount policy for contributions. Given a pot's configured amount mode
 * (fixed / tiers / free) these pure functions suggest a contribution amount
 * and validate a proposed one. No side effects; everything operates on a
 * pot configuration snapshot.
 */

package settle

import (
	"fmt"
	"strings"

	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

// ValidationError is a business-rule rejection with a message safe to show
// to the contributor.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// SuggestedAmount returns the amount pre-filled for a prospective
// contributor. FIXED pots suggest the fixed amount, TIERS pots the middle
// tier, FREE pots an even split of the objective assuming one more
// contributor joins.
func SuggestedAmount(pot *domain.Pot, currentContributors int) int64 {
	switch pot.AmountMode {
	case domain.AmountModeFixed:
		return pot.FixedAmountCents
	case domain.AmountModeTiers:
		if len(pot.Tiers) > 0 {
			return pot.Tiers[len(pot.Tiers)/2].AmountCents
		}
		return pot.FixedAmountCents
	case domain.AmountModeFree:
		target := int64(currentContributors + 1)
		if target < 1 {
			target = 1
		}
		share := (pot.ObjectiveCents + target - 1) / target
		if share < domain.MinContributionCents {
			return domain.MinContributionCents
		}
		return share
	default:
		return pot.FixedAmountCents
	}
}

// ValidateAmount checks a proposed contribution amount against the pot's
// amount mode. The returned error, when non-nil, is a ValidationError.
func ValidateAmount(pot *domain.Pot, amountCents int64) error {
	if amountCents < domain.MinContributionCents {
		return validationErrorf("minimum contribution is %s", FormatEuros(domain.MinContributionCents))
	}

	switch pot.AmountMode {
	case domain.AmountModeFixed:
		if amountCents != pot.FixedAmountCents {
			return validationErrorf("amount must be %s", FormatEuros(pot.FixedAmountCents))
		}
	case domain.AmountModeTiers:
		if len(pot.Tiers) == 0 {
			return validationErrorf("no tiers configured for this pot")
		}
		for _, tier := range pot.Tiers {
			if tier.AmountCents == amountCents {
				return nil
			}
		}
		labels := make([]string, len(pot.Tiers))
		for i, tier := range pot.Tiers {
			labels[i] = FormatEuros(tier.AmountCents)
		}
		return validationErrorf("invalid amount, accepted values: %s", strings.Join(labels, ", "))
	case domain.AmountModeFree:
		// Any amount above the floor is accepted.
	default:
		return validationErrorf("unknown amount mode %q", pot.AmountMode)
	}

	return nil
}

// FormatEuros renders integer cents as a French-style euro amount,
// e.g. 500 -> "5,00 €". Presentation only; never used in settlement math.
func FormatEuros(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d,%02d €", sign, cents/100, cents%100)
}
