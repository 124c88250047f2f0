/**
 * @description
 * Solidarity levy computation. A pot may withhold a fraction of each
 * contribution above a configured threshold from refund eligibility; the
 * withheld part favors smaller contributors at redistribution time.
 */

package settle

import "github.com/shopspring/decimal"

// SolidarityResult splits a paid amount into its above-threshold part, the
// levy withheld from it, and the portion that remains refund-eligible.
type SolidarityResult struct {
	AboveThresholdCents int64
	SolidarityCents     int64
	RefundableCents     int64
}

// ComputeSolidarity applies the levy to a single paid amount. The levy is
// floored so the platform never over-charges solidarity. A zero rate (or a
// threshold at or above the paid amount) leaves the contribution fully
// refundable. The rate must have been validated to lie in [0,1] at pot
// configuration time.
func ComputeSolidarity(amountPaidCents, thresholdCents int64, rate decimal.Decimal) SolidarityResult {
	above := amountPaidCents - thresholdCents
	if above < 0 {
		above = 0
	}

	levy := decimal.NewFromInt(above).Mul(rate).Floor().IntPart()

	return SolidarityResult{
		AboveThresholdCents: above,
		SolidarityCents:     levy,
		RefundableCents:     amountPaidCents - levy,
	}
}
