package batch

import (
	"sync"
	"time"

	"aster-funding-bot/internal/exec"
)

type State string

type Event string

const (
	StatePlanned          State = "PLANNED"
	StateSpotSubmitted    State = "SPOT_SUBMITTED"
	StateSpotFilled       State = "SPOT_FILLED"
	StateFuturesSubmitted State = "FUTURES_SUBMITTED"
	StateFuturesFilled    State = "FUTURES_FILLED"
	StateSpotFailed       State = "SPOT_FAILED"
	StateFuturesFailed    State = "FUTURES_FAILED"
)

const (
	EventSubmitSpot    Event = "SUBMIT_SPOT"
	EventSpotFill      Event = "SPOT_FILL"
	EventSpotFail      Event = "SPOT_FAIL"
	EventSubmitFutures Event = "SUBMIT_FUTURES"
	EventFuturesFill   Event = "FUTURES_FILL"
	EventFuturesFail   Event = "FUTURES_FAIL"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeDegraded Outcome = "DEGRADED"
	OutcomeFailed   Outcome = "FAILED"
)

// StateMachine tracks one round's leg progression. The futures leg is
// unreachable until the spot leg has filled, which is what keeps a
// round from hedging a position it never acquired.
type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StatePlanned}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func nextState(current State, event Event) State {
	switch current {
	case StatePlanned:
		if event == EventSubmitSpot {
			return StateSpotSubmitted
		}
	case StateSpotSubmitted:
		if event == EventSpotFill {
			return StateSpotFilled
		}
		if event == EventSpotFail {
			return StateSpotFailed
		}
	case StateSpotFilled:
		if event == EventSubmitFutures {
			return StateFuturesSubmitted
		}
		if event == EventFuturesFail {
			return StateFuturesFailed
		}
	case StateFuturesSubmitted:
		if event == EventFuturesFill {
			return StateFuturesFilled
		}
		if event == EventFuturesFail {
			return StateFuturesFailed
		}
	}
	return current
}

// Round is the record of one spot/futures pairing attempt.
type Round struct {
	Index       int             `json:"index"`
	State       State           `json:"state"`
	Outcome     Outcome         `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	NotionalUSD float64         `json:"notional_usd"`
	SpotLeg     exec.Leg        `json:"spot_leg"`
	SpotFill    exec.FillRecord `json:"spot_fill"`
	FuturesLeg  exec.Leg        `json:"futures_leg"`
	FuturesFill exec.FillRecord `json:"futures_fill"`
	// CapitalDelta is the quote amount this round consumed from the
	// remaining capital. Zero for rounds whose spot leg never filled.
	CapitalDelta float64   `json:"capital_delta"`
	Timestamp    time.Time `json:"timestamp"`
}

// Unhedged reports whether the round left one-sided spot exposure an
// operator has to close by hand. Residue below one futures lot step is
// excluded: the hedge request is already floored to the lot grid, so
// anything under the requested quantity was orderable and is missing.
func (r Round) Unhedged() bool {
	if !r.SpotFill.Filled() {
		return false
	}
	if !r.FuturesFill.Filled() {
		return true
	}
	return r.FuturesLeg.Quantity-r.FuturesFill.FilledQty > hedgeSlack
}

func (r Round) FuturesNotional() float64 {
	if r.FuturesFill.QuoteQty > 0 {
		return r.FuturesFill.QuoteQty
	}
	return r.FuturesFill.FilledQty * r.FuturesFill.AvgPrice
}
