package batch

import (
	"testing"

	"aster-funding-bot/internal/exec"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := NewStateMachine()
	steps := []struct {
		event Event
		want  State
	}{
		{EventSubmitSpot, StateSpotSubmitted},
		{EventSpotFill, StateSpotFilled},
		{EventSubmitFutures, StateFuturesSubmitted},
		{EventFuturesFill, StateFuturesFilled},
	}
	for _, step := range steps {
		if got := sm.Apply(step.event); got != step.want {
			t.Fatalf("Apply(%s) = %s, want %s", step.event, got, step.want)
		}
	}
}

func TestStateMachineFailureBranches(t *testing.T) {
	sm := NewStateMachine()
	sm.Apply(EventSubmitSpot)
	if got := sm.Apply(EventSpotFail); got != StateSpotFailed {
		t.Fatalf("spot failure state = %s", got)
	}

	sm = NewStateMachine()
	sm.Apply(EventSubmitSpot)
	sm.Apply(EventSpotFill)
	if got := sm.Apply(EventFuturesFail); got != StateFuturesFailed {
		t.Fatalf("hedge sizing failure state = %s", got)
	}

	sm = NewStateMachine()
	sm.Apply(EventSubmitSpot)
	sm.Apply(EventSpotFill)
	sm.Apply(EventSubmitFutures)
	if got := sm.Apply(EventFuturesFail); got != StateFuturesFailed {
		t.Fatalf("futures failure state = %s", got)
	}
}

func TestStateMachineIgnoresInvalidEvents(t *testing.T) {
	sm := NewStateMachine()
	if got := sm.Apply(EventFuturesFill); got != StatePlanned {
		t.Fatalf("futures fill from PLANNED moved state to %s", got)
	}
	sm.Apply(EventSubmitSpot)
	if got := sm.Apply(EventSubmitFutures); got != StateSpotSubmitted {
		t.Fatalf("futures submit before spot fill moved state to %s", got)
	}
}

func TestRoundUnhedged(t *testing.T) {
	cases := []struct {
		name  string
		round Round
		want  bool
	}{
		{"spot and futures filled", Round{
			State:       StateFuturesFilled,
			SpotFill:    exec.FillRecord{FilledQty: 1},
			FuturesLeg:  exec.Leg{Quantity: 1},
			FuturesFill: exec.FillRecord{FilledQty: 1},
		}, false},
		{"hedge filled to the floored request", Round{
			State:       StateFuturesFilled,
			SpotFill:    exec.FillRecord{FilledQty: 2.997},
			FuturesLeg:  exec.Leg{Quantity: 2.99},
			FuturesFill: exec.FillRecord{FilledQty: 2.99},
		}, false},
		{"hedge partially filled", Round{
			State:       StateFuturesFilled,
			SpotFill:    exec.FillRecord{FilledQty: 3},
			FuturesLeg:  exec.Leg{Quantity: 3},
			FuturesFill: exec.FillRecord{FilledQty: 2},
		}, true},
		{"spot never filled", Round{
			State:    StateSpotFailed,
			SpotFill: exec.FillRecord{},
		}, false},
		{"spot filled futures failed", Round{
			State:    StateFuturesFailed,
			SpotFill: exec.FillRecord{FilledQty: 1.5},
		}, true},
		{"spot filled hedge never confirmed", Round{
			State:    StateFuturesSubmitted,
			SpotFill: exec.FillRecord{FilledQty: 1.5},
		}, true},
	}
	for _, tc := range cases {
		if got := tc.round.Unhedged(); got != tc.want {
			t.Errorf("%s: Unhedged() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAggregatorTotals(t *testing.T) {
	agg := NewAggregator("run-1", "buy_spot_short_futures", "ASTERUSDT", "ASTERUSDT", 1000)
	agg.Add(Round{
		Index:        1,
		Outcome:      OutcomeSuccess,
		SpotFill:     exec.FillRecord{FilledQty: 3, QuoteQty: 300, Fee: 0.3},
		FuturesFill:  exec.FillRecord{FilledQty: 3, QuoteQty: 299.7, Fee: 0.12},
		CapitalDelta: 300,
	})
	agg.Add(Round{
		Index:        2,
		Outcome:      OutcomeFailed,
		SpotFill:     exec.FillRecord{FilledQty: 3, QuoteQty: 300, Fee: 0.3},
		CapitalDelta: 300,
	})
	agg.Add(Round{
		Index:   3,
		Outcome: OutcomeDegraded,
	})

	sum := agg.Finish(EndHalted)
	if sum.RoundsTotal != 3 || sum.RoundsSuccess != 1 || sum.RoundsFailed != 1 || sum.RoundsDegraded != 1 {
		t.Fatalf("round counts = %d/%d/%d/%d", sum.RoundsTotal, sum.RoundsSuccess, sum.RoundsFailed, sum.RoundsDegraded)
	}
	if sum.Clean() {
		t.Fatal("summary with failures reported clean")
	}
	if sum.RemainingUSD != 400 {
		t.Fatalf("remaining = %v, want 400", sum.RemainingUSD)
	}
	if sum.SpotFilledQty != 6 || sum.FuturesQty != 3 {
		t.Fatalf("filled quantities = %v spot / %v futures", sum.SpotFilledQty, sum.FuturesQty)
	}
	if got := sum.NetExposureQty(); got != 3 {
		t.Fatalf("net exposure = %v, want 3", got)
	}
	if sum.FeesUSD != 0.72 {
		t.Fatalf("fees = %v", sum.FeesUSD)
	}
	if sum.EndReason != EndHalted {
		t.Fatalf("end reason = %s", sum.EndReason)
	}
}

func TestAggregatorFinishCopiesRounds(t *testing.T) {
	agg := NewAggregator("run-1", "buy_spot_short_futures", "A", "A", 100)
	agg.Add(Round{Index: 1, Outcome: OutcomeSuccess})
	sum := agg.Finish(EndCapitalExhausted)
	sum.Rounds[0].Index = 99
	again := agg.Finish(EndCapitalExhausted)
	if again.Rounds[0].Index != 1 {
		t.Fatal("Finish returned a shared rounds slice")
	}
}
