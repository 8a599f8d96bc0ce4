package presale

import (
	"errors"
	"math/big"
	"testing"

	"gepspresale/core/events"
)

func startedSale(t *testing.T) *Sale {
	t.Helper()
	sale := newSale(testSpecs(), newTestAddress(0xBB))
	sale.start(testStart, testStageSeconds)
	return sale
}

func TestSaleStageWindowsAreFixed(t *testing.T) {
	sale := startedSale(t)
	for i, stage := range sale.Stages {
		if want := int64(testStart + i*testStageSeconds); stage.StartTime != want {
			t.Fatalf("stage %d start = %d, want %d", i, stage.StartTime, want)
		}
		if stage.EndTime-stage.StartTime != testStageSeconds {
			t.Fatalf("stage %d duration = %d", i, stage.EndTime-stage.StartTime)
		}
	}
	if sale.EndTime() != testStart+9*testStageSeconds {
		t.Fatalf("end time = %d", sale.EndTime())
	}
	if sale.Supply().Int64() != 9*testAllocation {
		t.Fatalf("supply = %s", sale.Supply())
	}
}

func TestAdvanceIfNeededStopsAtLastStage(t *testing.T) {
	sale := startedSale(t)
	if evts := sale.AdvanceIfNeeded(testStart + testStageSeconds - 1); len(evts) != 0 {
		t.Fatalf("unexpected advance %v", evts)
	}
	evts := sale.AdvanceIfNeeded(testStart + 100*testStageSeconds)
	if len(evts) != 9 {
		t.Fatalf("events = %d, want 8 advances and an end", len(evts))
	}
	end, ok := evts[len(evts)-1].(events.PresaleEnded)
	if !ok || end.Reason != events.StageReasonExpired || end.Stage != 8 {
		t.Fatalf("unexpected end event %+v", evts[len(evts)-1])
	}
	if sale.CurrentStage != 8 || sale.Phase != PhaseEnded {
		t.Fatalf("stage %d phase %s", sale.CurrentStage, sale.Phase)
	}
	if sale.EndedAt != testStart+9*testStageSeconds {
		t.Fatalf("ended at %d", sale.EndedAt)
	}
	if evts := sale.AdvanceIfNeeded(testStart + 200*testStageSeconds); len(evts) != 0 {
		t.Fatalf("ended sale advanced again: %v", evts)
	}
}

func TestAdvanceIfNeededSkipsSoldOutStages(t *testing.T) {
	sale := startedSale(t)
	for i := 0; i < 3; i++ {
		if _, err := sale.Debit(i, big.NewInt(testAllocation)); err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
	}
	evts := sale.AdvanceIfNeeded(testStart)
	if len(evts) != 3 || sale.CurrentStage != 3 {
		t.Fatalf("stage %d after %d events", sale.CurrentStage, len(evts))
	}
	for _, evt := range evts {
		if adv := evt.(events.PresaleStageAdvanced); adv.Reason != events.StageReasonSoldOut {
			t.Fatalf("unexpected reason %q", adv.Reason)
		}
	}
}

func TestAdvanceIfNeededIgnoresUnstartedSale(t *testing.T) {
	sale := newSale(testSpecs(), newTestAddress(0xBB))
	if evts := sale.AdvanceIfNeeded(1 << 40); evts != nil {
		t.Fatalf("unexpected events %v", evts)
	}
	if sale.EndTime() != 0 {
		t.Fatalf("end time before start = %d", sale.EndTime())
	}
}

func TestDebit(t *testing.T) {
	sale := startedSale(t)
	remaining, err := sale.Debit(0, big.NewInt(400))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if remaining.Int64() != 600 {
		t.Fatalf("remaining = %s", remaining)
	}
	if _, err := sale.Debit(0, big.NewInt(601)); !errors.Is(err, ErrInsufficientAllocation) {
		t.Fatalf("expected insufficient allocation, got %v", err)
	}
	if sale.Stages[0].Available.Int64() != 600 {
		t.Fatalf("failed debit changed balance to %s", sale.Stages[0].Available)
	}
	if _, err := sale.Debit(9, big.NewInt(1)); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := sale.Debit(1, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if got := sale.Unsold().Int64(); got != 9*testAllocation-400 {
		t.Fatalf("unsold = %d", got)
	}
	if got := sale.Stages[0].Sold().Int64(); got != 400 {
		t.Fatalf("sold = %d", got)
	}
}

func TestSaleCloneIsIndependent(t *testing.T) {
	sale := startedSale(t)
	sale.Currencies["BNB"] = Currency{Symbol: "BNB", Native: true}
	clone := sale.Clone()
	if _, err := clone.Debit(0, big.NewInt(1)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	clone.Currencies["USDT"] = Currency{Symbol: "USDT"}
	clone.AdvanceIfNeeded(testStart + 5*testStageSeconds)
	if sale.Stages[0].Available.Int64() != testAllocation || sale.CurrentStage != 0 {
		t.Fatalf("clone mutated original")
	}
	if _, ok := sale.Currencies["USDT"]; ok {
		t.Fatalf("clone shares currency map")
	}
}

func TestDefaultSchedule(t *testing.T) {
	specs := DefaultSchedule(DefaultTokenDecimals)
	if len(specs) != 9 {
		t.Fatalf("stages = %d", len(specs))
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(DefaultTokenDecimals), nil)
	total := big.NewInt(0)
	for _, spec := range specs {
		total.Add(total, spec.Allocation)
	}
	if want := new(big.Int).Mul(big.NewInt(20_000_000), unit); total.Cmp(want) != 0 {
		t.Fatalf("supply = %s, want %s", total, want)
	}
	if specs[0].Price.String() != "0.01" || specs[8].Price.String() != "0.026" {
		t.Fatalf("prices %s .. %s", specs[0].Price, specs[8].Price)
	}
	if err := validateSpecs(specs); err != nil {
		t.Fatalf("default schedule invalid: %v", err)
	}
}
