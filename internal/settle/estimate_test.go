package settle

import (
	"testing"

	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

func TestEstimateContribution(t *testing.T) {
	pot := basePot(20000)
	existing := []domain.Contribution{
		paidContribution(idA, 10000, 1),
		paidContribution(idB, 10000, 1),
	}

	got, err := EstimateContribution(pot, existing, 10000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 30000 collected after joining, surplus 10000 over three equal
	// contributions; the synthetic one sorts first and takes the odd cent.
	if got != 3334 {
		t.Fatalf("expected estimated refund 3334, got %d", got)
	}
}

func TestEstimateContributionBelowObjective(t *testing.T) {
	pot := basePot(20000)
	existing := []domain.Contribution{paidContribution(idA, 5000, 1)}

	got, err := EstimateContribution(pot, existing, 10000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected zero estimate below the objective, got %d", got)
	}
}

func TestEstimateContributionIgnoresReserve(t *testing.T) {
	pot := basePot(20000)
	pot.ReserveEnabled = true
	pot.ReserveTargetCents = 1000000

	existing := []domain.Contribution{
		paidContribution(idA, 10000, 1),
		paidContribution(idB, 10000, 1),
	}

	// An actual close would send the whole surplus to the reserve; the
	// live estimate intentionally shows the pre-reserve redistribution.
	got, err := EstimateContribution(pot, existing, 10000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3334 {
		t.Fatalf("expected reserve-blind estimate 3334, got %d", got)
	}

	result, err := SettleCycle(pot, 1, append(existing, paidContribution(idC, 10000, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RedistributedCents != 0 {
		t.Fatalf("sanity: the real close should have redistributed nothing, got %d", result.RedistributedCents)
	}
}

func TestEstimateContributionAppliesSolidarity(t *testing.T) {
	pot := basePot(10000)
	threshold := int64(5000)
	pot.SolidarityThresholdCents = &threshold
	pot.SolidarityRate = rate("0.5")

	existing := []domain.Contribution{paidContribution(idA, 10000, 1)}

	// Joining with 20000: collected 30000, surplus 20000. The synthetic
	// contribution is capped at 12500 refundable (levy 7500), the existing
	// one at 7500 (levy 2500). Caps sum to 20000, so both fill exactly.
	got, err := EstimateContribution(pot, existing, 20000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12500 {
		t.Fatalf("expected solidarity-capped estimate 12500, got %d", got)
	}
}

func TestEstimateContributionNonPositiveAmount(t *testing.T) {
	got, err := EstimateContribution(basePot(20000), nil, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected zero estimate for a zero amount, got %d", got)
	}
}

func TestCurrentEstimate(t *testing.T) {
	tests := []struct {
		name         string
		collected    int64
		objective    int64
		contributors int
		want         int64
	}{
		{"surplus split across contributors", 30000, 20000, 3, 3333},
		{"no surplus", 15000, 20000, 3, 0},
		{"exactly at objective", 20000, 20000, 2, 0},
		{"no contributors", 30000, 20000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CurrentEstimate(tt.collected, tt.objective, tt.contributors)
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
