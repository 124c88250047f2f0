package settle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
)

func paidContribution(id string, amount int64, cycle int) domain.Contribution {
	now := time.Now()
	return domain.Contribution{
		ID:              uuid.MustParse(id),
		CycleNumber:     cycle,
		AmountPaidCents: amount,
		Status:          domain.ContributionStatusPaid,
		PaidAt:          &now,
	}
}

const (
	idA = "00000000-0000-0000-0000-00000000000a"
	idB = "00000000-0000-0000-0000-00000000000b"
	idC = "00000000-0000-0000-0000-00000000000c"
)

func basePot(objective int64) *domain.Pot {
	return &domain.Pot{
		ID:             uuid.New(),
		ObjectiveCents: objective,
		AmountMode:     domain.AmountModeFixed,
		Frequency:      domain.FrequencyOneTime,
		SolidarityRate: decimal.Zero,
		CurrentCycle:   1,
	}
}

func refundByID(t *testing.T, result *SettlementResult, id string) ContributionSettlement {
	t.Helper()
	for _, s := range result.Contributions {
		if s.ContributionID == uuid.MustParse(id) {
			return s
		}
	}
	t.Fatalf("no settlement line for contribution %s", id)
	return ContributionSettlement{}
}

func TestSettleCycleSurplusSplitsEqually(t *testing.T) {
	pot := basePot(20000)
	contributions := []domain.Contribution{
		paidContribution(idA, 10000, 1),
		paidContribution(idB, 10000, 1),
		paidContribution(idC, 10000, 1),
	}

	result, err := SettleCycle(pot, 1, contributions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalCollectedCents != 30000 {
		t.Fatalf("expected total collected 30000, got %d", result.TotalCollectedCents)
	}
	if result.TotalSurplusCents != 10000 {
		t.Fatalf("expected surplus 10000, got %d", result.TotalSurplusCents)
	}
	if result.RedistributedCents != 10000 {
		t.Fatalf("expected 10000 redistributed, got %d", result.RedistributedCents)
	}

	a := refundByID(t, result, idA)
	b := refundByID(t, result, idB)
	c := refundByID(t, result, idC)
	if a.RefundCents != 3334 || b.RefundCents != 3333 || c.RefundCents != 3333 {
		t.Fatalf("expected refunds {3334,3333,3333}, got {%d,%d,%d}", a.RefundCents, b.RefundCents, c.RefundCents)
	}
	if a.FinalCostCents != 6666 {
		t.Fatalf("expected final cost 6666 for the first contributor, got %d", a.FinalCostCents)
	}
}

func TestSettleCycleNoSurplus(t *testing.T) {
	pot := basePot(20000)
	pot.ReserveEnabled = true
	pot.ReserveTargetCents = 10000
	pot.ReserveBalanceCents = 2500
	threshold := int64(5000)
	pot.SolidarityThresholdCents = &threshold
	pot.SolidarityRate = rate("0.1")

	contributions := []domain.Contribution{
		paidContribution(idA, 10000, 1),
		paidContribution(idB, 5000, 1),
	}

	result, err := SettleCycle(pot, 1, contributions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalSurplusCents != 0 {
		t.Fatalf("expected zero surplus, got %d", result.TotalSurplusCents)
	}
	if result.TotalSolidarityCents != 0 {
		t.Fatalf("no solidarity may be levied without a surplus, got %d", result.TotalSolidarityCents)
	}
	if result.ReserveBalanceAfterCents != 2500 {
		t.Fatalf("reserve must stay untouched without a surplus, got %d", result.ReserveBalanceAfterCents)
	}
	for _, s := range result.Contributions {
		if s.RefundCents != 0 {
			t.Fatalf("expected zero refund for %s, got %d", s.ContributionID, s.RefundCents)
		}
		if s.FinalCostCents != s.AmountPaidCents {
			t.Fatalf("final cost must equal the paid amount without a surplus")
		}
	}
}

func TestSettleCycleReserveAbsorbsBeforeRedistribution(t *testing.T) {
	pot := basePot(20000)
	pot.ReserveEnabled = true
	pot.ReserveTargetCents = 10000

	contributions := []domain.Contribution{
		paidContribution(idA, 15000, 1),
		paidContribution(idB, 10000, 1),
	}

	// Surplus 5000 all goes to the empty reserve; nothing is redistributed.
	result, err := SettleCycle(pot, 1, contributions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalSurplusCents != 5000 {
		t.Fatalf("expected surplus 5000, got %d", result.TotalSurplusCents)
	}
	if result.ReserveUsedCents != 5000 {
		t.Fatalf("expected reserve to absorb 5000, got %d", result.ReserveUsedCents)
	}
	if result.ReserveBalanceAfterCents != 5000 {
		t.Fatalf("expected reserve balance 5000 after close, got %d", result.ReserveBalanceAfterCents)
	}
	if result.RedistributedCents != 0 {
		t.Fatalf("expected nothing redistributed, got %d", result.RedistributedCents)
	}
	for _, s := range result.Contributions {
		if s.RefundCents != 0 {
			t.Fatalf("expected zero refunds while the reserve fills, got %d", s.RefundCents)
		}
	}
}

func TestSettleCycleReservePartiallyFilled(t *testing.T) {
	pot := basePot(10000)
	pot.ReserveEnabled = true
	pot.ReserveTargetCents = 3000
	pot.ReserveBalanceCents = 1000

	contributions := []domain.Contribution{
		paidContribution(idA, 8000, 1),
		paidContribution(idB, 7000, 1),
	}

	// Surplus 5000, reserve gap 2000 -> 3000 left to redistribute.
	result, err := SettleCycle(pot, 1, contributions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ReserveUsedCents != 2000 {
		t.Fatalf("expected reserve to take 2000, got %d", result.ReserveUsedCents)
	}
	if result.ReserveBalanceAfterCents != 3000 {
		t.Fatalf("expected reserve at target 3000, got %d", result.ReserveBalanceAfterCents)
	}
	if result.RedistributedCents != 3000 {
		t.Fatalf("expected 3000 redistributed, got %d", result.RedistributedCents)
	}

	a := refundByID(t, result, idA)
	b := refundByID(t, result, idB)
	if a.RefundCents+b.RefundCents != 3000 {
		t.Fatalf("refunds must sum to the redistributable amount, got %d", a.RefundCents+b.RefundCents)
	}
	if b.RefundCents < a.RefundCents {
		t.Fatalf("the smaller contributor must not receive less: a=%d b=%d", a.RefundCents, b.RefundCents)
	}
}

func TestSettleCycleAppliesSolidarity(t *testing.T) {
	pot := basePot(10000)
	threshold := int64(5000)
	pot.SolidarityThresholdCents = &threshold
	pot.SolidarityRate = rate("0.1")

	contributions := []domain.Contribution{
		paidContribution(idA, 10000, 1), // levy 500, refundable 9500
		paidContribution(idB, 3000, 1),  // fully refundable
		paidContribution(idC, 4000, 1),  // fully refundable
	}

	result, err := SettleCycle(pot, 1, contributions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalSurplusCents != 7000 {
		t.Fatalf("expected surplus 7000, got %d", result.TotalSurplusCents)
	}
	if result.TotalSolidarityCents != 500 {
		t.Fatalf("expected total solidarity 500, got %d", result.TotalSolidarityCents)
	}

	a := refundByID(t, result, idA)
	b := refundByID(t, result, idB)
	c := refundByID(t, result, idC)
	if a.SolidarityCents != 500 || b.SolidarityCents != 0 || c.SolidarityCents != 0 {
		t.Fatalf("unexpected solidarity split: {%d,%d,%d}", a.SolidarityCents, b.SolidarityCents, c.SolidarityCents)
	}
	if b.RefundCents != 2334 || c.RefundCents != 2333 || a.RefundCents != 2333 {
		t.Fatalf("expected refunds b=2334 c=2333 a=2333, got b=%d c=%d a=%d", b.RefundCents, c.RefundCents, a.RefundCents)
	}
	if a.FinalCostCents != 7667 {
		t.Fatalf("expected final cost 7667 for the levied contributor, got %d", a.FinalCostCents)
	}
}

func TestSettleCycleSolidarityCapsRedistribution(t *testing.T) {
	// A full-rate levy with a zero threshold leaves nothing refundable;
	// the surplus stays with the pot instead of blowing up the allocator.
	pot := basePot(1000)
	threshold := int64(0)
	pot.SolidarityThresholdCents = &threshold
	pot.SolidarityRate = rate("1")

	result, err := SettleCycle(pot, 1, []domain.Contribution{paidContribution(idA, 2000, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RedistributedCents != 0 {
		t.Fatalf("expected nothing redistributed, got %d", result.RedistributedCents)
	}
	if refundByID(t, result, idA).RefundCents != 0 {
		t.Fatalf("expected zero refund when nothing is refundable")
	}
}

func TestSettleCycleIgnoresOtherCyclesAndUnpaid(t *testing.T) {
	pot := basePot(1000)

	pending := paidContribution(idC, 50000, 1)
	pending.Status = domain.ContributionStatusPending
	pending.PaidAt = nil

	contributions := []domain.Contribution{
		paidContribution(idA, 2000, 1),
		paidContribution(idB, 9000, 2), // next cycle
		pending,                        // not yet paid
	}

	result, err := SettleCycle(pot, 1, contributions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TotalCollectedCents != 2000 {
		t.Fatalf("expected only the paid cycle-1 contribution counted, got %d", result.TotalCollectedCents)
	}
	if len(result.Contributions) != 1 {
		t.Fatalf("expected a single settlement line, got %d", len(result.Contributions))
	}
}

func TestSettleCycleEmpty(t *testing.T) {
	result, err := SettleCycle(basePot(1000), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Contributions) != 0 || result.TotalCollectedCents != 0 {
		t.Fatalf("expected an empty settlement, got %+v", result)
	}
}

func TestLedgerEntries(t *testing.T) {
	pot := basePot(10000)
	threshold := int64(5000)
	pot.SolidarityThresholdCents = &threshold
	pot.SolidarityRate = rate("0.1")

	result, err := SettleCycle(pot, 1, []domain.Contribution{
		paidContribution(idA, 10000, 1),
		paidContribution(idB, 5000, 1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := result.LedgerEntries(pot.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.PotID != pot.ID || entry.CycleNumber != 1 {
			t.Fatalf("ledger entry misattributed: %+v", entry)
		}
		if entry.BalanceCents != entry.PaidCents-entry.RefundedCents-entry.SolidarityCents {
			t.Fatalf("ledger balance must be paid minus refunded minus solidarity: %+v", entry)
		}
	}
}
