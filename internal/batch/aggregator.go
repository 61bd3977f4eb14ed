package batch

import "sync"

// EndReason explains why the run loop stopped.
type EndReason string

const (
	EndCapitalExhausted EndReason = "capital_exhausted"
	EndHalted           EndReason = "halted_on_failure"
	EndMaxFailures      EndReason = "max_round_failures"
	EndCanceled         EndReason = "canceled"
)

// Summary is the aggregate result of a run, ordered by round index.
type Summary struct {
	RunID          string    `json:"run_id"`
	Mode           string    `json:"mode"`
	SpotSymbol     string    `json:"spot_symbol"`
	FuturesSymbol  string    `json:"futures_symbol"`
	CapitalUSD     float64   `json:"capital_usd"`
	RemainingUSD   float64   `json:"remaining_usd"`
	SpotFilledQty  float64   `json:"spot_filled_qty"`
	SpotQuoteUSD   float64   `json:"spot_quote_usd"`
	FuturesQty     float64   `json:"futures_qty"`
	FuturesUSD     float64   `json:"futures_usd"`
	FeesUSD        float64   `json:"fees_usd"`
	RoundsTotal    int       `json:"rounds_total"`
	RoundsSuccess  int       `json:"rounds_success"`
	RoundsDegraded int       `json:"rounds_degraded"`
	RoundsFailed   int       `json:"rounds_failed"`
	EndReason      EndReason `json:"end_reason"`
	Rounds         []Round   `json:"rounds"`
}

// Clean reports whether every round completed fully hedged.
func (s Summary) Clean() bool {
	return s.RoundsDegraded == 0 && s.RoundsFailed == 0
}

// NetExposureQty is the base quantity the run left unhedged. A
// delta-neutral run nets out to (approximately) zero.
func (s Summary) NetExposureQty() float64 {
	return s.SpotFilledQty - s.FuturesQty
}

// Aggregator folds finished rounds into a Summary. Safe for use from
// the coordinator goroutine and concurrent readers.
type Aggregator struct {
	mu      sync.Mutex
	summary Summary
}

func NewAggregator(runID, mode, spotSymbol, futuresSymbol string, capitalUSD float64) *Aggregator {
	return &Aggregator{summary: Summary{
		RunID:         runID,
		Mode:          mode,
		SpotSymbol:    spotSymbol,
		FuturesSymbol: futuresSymbol,
		CapitalUSD:    capitalUSD,
		RemainingUSD:  capitalUSD,
	}}
}

func (a *Aggregator) Add(r Round) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Rounds = append(a.summary.Rounds, r)
	a.summary.RoundsTotal++
	switch r.Outcome {
	case OutcomeSuccess:
		a.summary.RoundsSuccess++
	case OutcomeDegraded:
		a.summary.RoundsDegraded++
	default:
		a.summary.RoundsFailed++
	}
	a.summary.SpotFilledQty += r.SpotFill.FilledQty
	a.summary.SpotQuoteUSD += r.SpotFill.QuoteQty
	a.summary.FuturesQty += r.FuturesFill.FilledQty
	a.summary.FuturesUSD += r.FuturesNotional()
	a.summary.FeesUSD += r.SpotFill.Fee + r.FuturesFill.Fee
	a.summary.RemainingUSD -= r.CapitalDelta
}

func (a *Aggregator) Finish(reason EndReason) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.EndReason = reason
	out := a.summary
	out.Rounds = append([]Round(nil), a.summary.Rounds...)
	return out
}
