package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"aster-funding-bot/internal/config"
	"aster-funding-bot/internal/exec"
	"aster-funding-bot/internal/market"
	"aster-funding-bot/internal/plan"
)

type legScript struct {
	ack     exec.FillRecord
	ackErr  error
	fill    exec.FillRecord
	fillErr error
}

// fakeExec plays scripted submit/await results keyed by client order
// id and records every submitted leg.
type fakeExec struct {
	scripts   map[string]legScript
	submitted []exec.Leg
}

func (f *fakeExec) Submit(_ context.Context, leg exec.Leg) (exec.FillRecord, error) {
	f.submitted = append(f.submitted, leg)
	s, ok := f.scripts[leg.ClientOrderID]
	if !ok {
		return exec.FillRecord{}, fmt.Errorf("unscripted leg %q", leg.ClientOrderID)
	}
	return s.ack, s.ackErr
}

func (f *fakeExec) Await(_ context.Context, leg exec.Leg, _ exec.FillRecord) (exec.FillRecord, error) {
	s, ok := f.scripts[leg.ClientOrderID]
	if !ok {
		return exec.FillRecord{}, fmt.Errorf("unscripted leg %q", leg.ClientOrderID)
	}
	return s.fill, s.fillErr
}

func (f *fakeExec) futuresLegs() []exec.Leg {
	var legs []exec.Leg
	for _, leg := range f.submitted {
		if leg.Market == exec.MarketFutures {
			legs = append(legs, leg)
		}
	}
	return legs
}

type fakePrices struct {
	spot         float64
	futures      float64
	spotErr      error
	spotCalls    int
	futuresCalls int
}

func (f *fakePrices) SpotPrice(context.Context, string) (float64, error) {
	f.spotCalls++
	return f.spot, f.spotErr
}

func (f *fakePrices) FuturesPrice(context.Context, string) (float64, error) {
	f.futuresCalls++
	return f.futures, nil
}

type alertCall struct {
	index  int
	qty    float64
	quote  float64
	reason string
}

type fakeAlerter struct {
	calls []alertCall
}

func (f *fakeAlerter) NotifyUnhedged(_ context.Context, index int, _ string, qty, quote float64, reason string) error {
	f.calls = append(f.calls, alertCall{index: index, qty: qty, quote: quote, reason: reason})
	return nil
}

type fakeJournal struct {
	payloads []string
}

func (f *fakeJournal) AppendRound(_ context.Context, _ string, _ int, payload string) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeJournal) RoundsForRun(context.Context, string) ([]string, error) {
	return f.payloads, nil
}

func filledScript(qty, quote float64) legScript {
	return legScript{
		ack: exec.FillRecord{OrderID: "1", Status: "NEW"},
		fill: exec.FillRecord{
			OrderID:   "1",
			Status:    "FILLED",
			FilledQty: qty,
			AvgPrice:  quote / qty,
			QuoteQty:  quote,
		},
	}
}

func testStrategy(capital float64, halt bool) config.StrategyConfig {
	return config.StrategyConfig{
		CapitalUSD:       capital,
		SpotSymbol:       "ASTERUSDT",
		FuturesSymbol:    "ASTERUSDT",
		BatchQuote:       300,
		Mode:             config.ModeBuySpotShortFutures,
		HaltOnDegraded:   &halt,
		MaxRoundFailures: 3,
	}
}

func newTestCoordinator(t *testing.T, cfg config.StrategyConfig, fe *fakeExec) *Coordinator {
	t.Helper()
	c, _ := newTestCoordinatorWithPrices(t, cfg, fe)
	return c
}

func newTestCoordinatorWithPrices(t *testing.T, cfg config.StrategyConfig, fe *fakeExec) (*Coordinator, *fakePrices) {
	t.Helper()
	filters := market.Filters{Symbol: "ASTERUSDT", StepSize: 0.01, MinQty: 0.01, MinNotional: 10}
	planner := plan.New(cfg, filters, filters)
	prices := &fakePrices{spot: 100, futures: 100}
	c := NewCoordinator(cfg, "run-test", planner, fe, fe, prices, zap.NewNop())
	c.SetSleep(func(context.Context, time.Duration) error { return nil })
	return c, prices
}

func TestRunSplitsCapitalIntoRounds(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{}}
	for i, notional := range []float64{300, 300, 300, 100} {
		qty := notional / 100
		fe.scripts[fmt.Sprintf("round-%d-spot", i+1)] = filledScript(qty, notional)
		fe.scripts[fmt.Sprintf("round-%d-futures", i+1)] = filledScript(qty, notional)
	}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.EndReason != EndCapitalExhausted {
		t.Fatalf("end reason = %s", sum.EndReason)
	}
	if sum.RoundsTotal != 4 || sum.RoundsSuccess != 4 {
		t.Fatalf("rounds = %d total / %d success", sum.RoundsTotal, sum.RoundsSuccess)
	}
	if sum.RemainingUSD != 0 {
		t.Fatalf("remaining = %v, want 0", sum.RemainingUSD)
	}
	wantNotionals := []float64{300, 300, 300, 100}
	for i, r := range sum.Rounds {
		if r.NotionalUSD != wantNotionals[i] {
			t.Errorf("round %d notional = %v, want %v", r.Index, r.NotionalUSD, wantNotionals[i])
		}
		if r.State != StateFuturesFilled || r.Outcome != OutcomeSuccess {
			t.Errorf("round %d finished %s/%s", r.Index, r.State, r.Outcome)
		}
		if r.FuturesFill.FilledQty != r.SpotFill.FilledQty {
			t.Errorf("round %d futures qty %v != spot qty %v",
				r.Index, r.FuturesFill.FilledQty, r.SpotFill.FilledQty)
		}
	}
	if got := sum.NetExposureQty(); got != 0 {
		t.Fatalf("net exposure = %v, want 0", got)
	}
	if len(fe.submitted) != 8 {
		t.Fatalf("submitted %d legs, want 8", len(fe.submitted))
	}
}

func TestHedgeSizedFromRealizedFill(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot":    filledScript(2.997, 300),
		"round-1-futures": filledScript(2.99, 299.3),
	}}
	c := newTestCoordinator(t, testStrategy(300, true), fe)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	futures := fe.futuresLegs()
	if len(futures) != 1 {
		t.Fatalf("submitted %d futures legs, want 1", len(futures))
	}
	if futures[0].Quantity != 2.99 {
		t.Fatalf("hedge quantity = %v, want 2.99 (floored realized fill)", futures[0].Quantity)
	}
	if sum.Rounds[0].Outcome != OutcomeSuccess {
		t.Fatalf("round outcome = %s", sum.Rounds[0].Outcome)
	}
}

func TestSpotFillTimeoutIsDegradedWithoutFutures(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot": {
			ack:     exec.FillRecord{OrderID: "1", Status: "NEW"},
			fill:    exec.FillRecord{OrderID: "1", Status: "NEW"},
			fillErr: fmt.Errorf("order 1 not terminal: %w", exec.ErrFillTimeout),
		},
	}}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)
	alerter := &fakeAlerter{}
	c.SetAlerter(alerter)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fe.futuresLegs()) != 0 {
		t.Fatal("futures leg submitted for an unfilled spot order")
	}
	if sum.EndReason != EndHalted {
		t.Fatalf("end reason = %s", sum.EndReason)
	}
	r := sum.Rounds[0]
	if r.Outcome != OutcomeDegraded {
		t.Fatalf("timed-out round outcome = %s, want DEGRADED", r.Outcome)
	}
	// The order never reached a terminal status, so the round must not
	// be recorded as an aborted spot leg.
	if r.State != StateSpotSubmitted {
		t.Fatalf("timed-out round state = %s, want SPOT_SUBMITTED", r.State)
	}
	if r.CapitalDelta != 0 {
		t.Fatalf("unfilled round consumed %v capital", r.CapitalDelta)
	}
	if sum.RemainingUSD != 1000 {
		t.Fatalf("remaining = %v, want 1000", sum.RemainingUSD)
	}
	if len(alerter.calls) != 0 {
		t.Fatal("alert fired for a round with no spot exposure")
	}
}

func TestSpotTerminalWithoutFillIsFailed(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot": {
			ack:  exec.FillRecord{OrderID: "1", Status: "NEW"},
			fill: exec.FillRecord{OrderID: "1", Status: "CANCELED"},
		},
	}}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := sum.Rounds[0]
	if r.Outcome != OutcomeFailed || r.State != StateSpotFailed {
		t.Fatalf("canceled spot round finished %s/%s", r.State, r.Outcome)
	}
	if len(fe.futuresLegs()) != 0 {
		t.Fatal("futures leg submitted for a canceled spot order")
	}
	if sum.RemainingUSD != 1000 {
		t.Fatalf("remaining = %v, want 1000", sum.RemainingUSD)
	}
}

func TestSpotPartialFillOnTimeoutCountsAsDeployed(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot": {
			ack: exec.FillRecord{OrderID: "1", Status: "NEW"},
			fill: exec.FillRecord{
				OrderID: "1", Status: "PARTIALLY_FILLED",
				FilledQty: 1.5, AvgPrice: 100, QuoteQty: 150,
			},
			fillErr: fmt.Errorf("order 1 not terminal: %w", exec.ErrFillTimeout),
		},
	}}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)
	alerter := &fakeAlerter{}
	c.SetAlerter(alerter)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := sum.Rounds[0]
	if r.Outcome != OutcomeDegraded {
		t.Fatalf("outcome = %s, want DEGRADED", r.Outcome)
	}
	if r.CapitalDelta != 150 {
		t.Fatalf("capital delta = %v, want the observed quote fill", r.CapitalDelta)
	}
	if sum.RemainingUSD != 850 {
		t.Fatalf("remaining = %v, want 850", sum.RemainingUSD)
	}
	if len(fe.futuresLegs()) != 0 {
		t.Fatal("futures leg submitted for an unverified spot fill")
	}
	if len(alerter.calls) != 1 || alerter.calls[0].qty != 1.5 {
		t.Fatalf("alert calls = %+v", alerter.calls)
	}
}

func TestFuturesFailureLeavesFlaggedExposure(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot": filledScript(3, 300),
		"round-1-futures": {
			ackErr: errors.New("connection reset"),
		},
	}}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)
	alerter := &fakeAlerter{}
	c.SetAlerter(alerter)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := sum.Rounds[0]
	if r.State != StateFuturesFailed || r.Outcome != OutcomeFailed {
		t.Fatalf("round finished %s/%s", r.State, r.Outcome)
	}
	if r.CapitalDelta != 300 {
		t.Fatalf("capital delta = %v, spot fill must still count as deployed", r.CapitalDelta)
	}
	if sum.RemainingUSD != 700 {
		t.Fatalf("remaining = %v, want 700", sum.RemainingUSD)
	}
	if len(alerter.calls) != 1 {
		t.Fatalf("alert calls = %d, want 1", len(alerter.calls))
	}
	if alerter.calls[0].index != 1 || alerter.calls[0].qty != 3 || alerter.calls[0].quote != 300 {
		t.Fatalf("alert payload = %+v", alerter.calls[0])
	}
}

func TestConsecutiveFailureGuardWhenHaltDisabled(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{}}
	for i := 1; i <= 3; i++ {
		fe.scripts[fmt.Sprintf("round-%d-spot", i)] = legScript{
			ackErr: errors.New("order would immediately match and take"),
		}
	}
	c := newTestCoordinator(t, testStrategy(1000, false), fe)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.EndReason != EndMaxFailures {
		t.Fatalf("end reason = %s", sum.EndReason)
	}
	if sum.RoundsTotal != 3 || sum.RoundsFailed != 3 {
		t.Fatalf("rounds = %d total / %d failed", sum.RoundsTotal, sum.RoundsFailed)
	}
	if sum.RemainingUSD != 1000 {
		t.Fatalf("remaining = %v, failed submits must not consume capital", sum.RemainingUSD)
	}
}

func TestCanceledContextStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fe := &fakeExec{scripts: map[string]legScript{}}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)

	sum, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.EndReason != EndCanceled {
		t.Fatalf("end reason = %s", sum.EndReason)
	}
	if sum.RoundsTotal != 0 {
		t.Fatalf("rounds = %d, want 0", sum.RoundsTotal)
	}
}

func TestJournalReceivesEveryRound(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot":    filledScript(3, 300),
		"round-1-futures": filledScript(3, 300),
	}}
	c := newTestCoordinator(t, testStrategy(300, true), fe)
	journal := &fakeJournal{}
	c.SetJournal(journal)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(journal.payloads) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(journal.payloads))
	}
	var r Round
	if err := json.Unmarshal([]byte(journal.payloads[0]), &r); err != nil {
		t.Fatalf("journal payload is not a round: %v", err)
	}
	if r.Index != 1 || r.Outcome != OutcomeSuccess {
		t.Fatalf("journaled round = %+v", r)
	}
}

func TestPartialHedgeFillIsDegradedAndAlerts(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot":    filledScript(3, 300),
		"round-1-futures": filledScript(2, 200),
	}}
	c := newTestCoordinator(t, testStrategy(300, true), fe)
	alerter := &fakeAlerter{}
	c.SetAlerter(alerter)

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r := sum.Rounds[0]
	if r.Outcome != OutcomeDegraded {
		t.Fatalf("partially hedged round outcome = %s, want DEGRADED", r.Outcome)
	}
	if !r.Unhedged() {
		t.Fatal("round with 1 unit of residual exposure not reported unhedged")
	}
	if len(alerter.calls) != 1 {
		t.Fatalf("alert calls = %d, want 1 for residual exposure", len(alerter.calls))
	}
	if got := sum.NetExposureQty(); got != 1 {
		t.Fatalf("net exposure = %v, want 1", got)
	}
}

func TestBuyModeSkipsSpotPriceFetch(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{
		"round-1-spot":    filledScript(3, 300),
		"round-1-futures": filledScript(3, 300),
	}}
	c, prices := newTestCoordinatorWithPrices(t, testStrategy(300, true), fe)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if prices.spotCalls != 0 {
		t.Fatalf("buy mode fetched the spot price %d times", prices.spotCalls)
	}
	if prices.futuresCalls != 1 {
		t.Fatalf("futures price fetched %d times, want 1", prices.futuresCalls)
	}
}

func TestSellModePriceFailuresTripGuard(t *testing.T) {
	cfg := testStrategy(1000, true)
	cfg.Mode = config.ModeSellSpotLongFutures
	fe := &fakeExec{scripts: map[string]legScript{}}
	c, prices := newTestCoordinatorWithPrices(t, cfg, fe)
	prices.spotErr = errors.New("ticker unavailable")

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.EndReason != EndMaxFailures {
		t.Fatalf("end reason = %s", sum.EndReason)
	}
	if prices.spotCalls != 3 {
		t.Fatalf("spot price fetched %d times, want 3", prices.spotCalls)
	}
	if len(fe.submitted) != 0 {
		t.Fatal("legs submitted without a sizing price")
	}
}

// ctxJournal fails the append when its context is already dead, the
// way a real store call would.
type ctxJournal struct {
	payloads []string
}

func (j *ctxJournal) AppendRound(ctx context.Context, _ string, _ int, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.payloads = append(j.payloads, payload)
	return nil
}

func (j *ctxJournal) RoundsForRun(context.Context, string) ([]string, error) {
	return j.payloads, nil
}

func TestJournalSurvivesRunCancellation(t *testing.T) {
	fe := &fakeExec{scripts: map[string]legScript{}}
	c := newTestCoordinator(t, testStrategy(1000, true), fe)
	journal := &ctxJournal{}
	c.SetJournal(journal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg := NewAggregator("run-test", "buy_spot_short_futures", "ASTERUSDT", "ASTERUSDT", 1000)
	c.finishRound(ctx, agg, Round{Index: 1, Outcome: OutcomeDegraded, Reason: "run canceled"})

	if len(journal.payloads) != 1 {
		t.Fatalf("journal entries = %d, want the final round persisted", len(journal.payloads))
	}
	var r Round
	if err := json.Unmarshal([]byte(journal.payloads[0]), &r); err != nil {
		t.Fatalf("journal payload is not a round: %v", err)
	}
	if r.Index != 1 {
		t.Fatalf("journaled round = %+v", r)
	}
}
