package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"aster-funding-bot/internal/config"
	"aster-funding-bot/internal/exec"
	"aster-funding-bot/internal/metrics"
	"aster-funding-bot/internal/plan"
	"aster-funding-bot/internal/state"
)

// Planner is the slice of the planning layer the coordinator drives.
type Planner interface {
	Next(index int, remaining, spotPrice float64) (plan.RoundPlan, error)
	HedgeLeg(index int, spotFilledQty, futuresPrice float64) (exec.Leg, error)
}

type Submitter interface {
	Submit(ctx context.Context, leg exec.Leg) (exec.FillRecord, error)
}

type Verifier interface {
	Await(ctx context.Context, leg exec.Leg, initial exec.FillRecord) (exec.FillRecord, error)
}

// PriceSource supplies fresh marks for sizing and minimum checks.
type PriceSource interface {
	SpotPrice(ctx context.Context, symbol string) (float64, error)
	FuturesPrice(ctx context.Context, symbol string) (float64, error)
}

// Recorder receives finished rounds for out-of-band persistence. It
// must not block the round loop.
type Recorder interface {
	RecordRound(r Round)
}

// Alerter is paged when a round acquires spot exposure it cannot hedge.
type Alerter interface {
	NotifyUnhedged(ctx context.Context, roundIndex int, symbol string, spotQty, spotQuote float64, reason string) error
}

// hedgeSlack tolerates float noise when comparing the hedge fill
// against the requested quantity.
const hedgeSlack = 1e-9

// journalTimeout bounds the audit append, which runs on a context
// detached from the (possibly cancelled) run context.
const journalTimeout = 3 * time.Second

// Coordinator runs the batch loop: plan a round from the remaining
// capital, work the spot leg to a terminal state, then size and work
// the futures leg off the spot leg's realized fill. Capital is only
// considered deployed once the spot leg reports a fill.
type Coordinator struct {
	cfg      config.StrategyConfig
	runID    string
	planner  Planner
	submit   Submitter
	verify   Verifier
	prices   PriceSource
	journal  state.Journal
	recorder Recorder
	alerter  Alerter
	metrics  *metrics.Metrics
	log      *zap.Logger
	sleep    exec.SleepFunc
	now      func() time.Time
}

func NewCoordinator(cfg config.StrategyConfig, runID string, planner Planner, submit Submitter, verify Verifier, prices PriceSource, log *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		runID:   runID,
		planner: planner,
		submit:  submit,
		verify:  verify,
		prices:  prices,
		metrics: metrics.NewNoop(),
		log:     log,
		sleep:   exec.RealSleep,
		now:     time.Now,
	}
}

func (c *Coordinator) SetJournal(j state.Journal)    { c.journal = j }
func (c *Coordinator) SetRecorder(r Recorder)        { c.recorder = r }
func (c *Coordinator) SetAlerter(a Alerter)          { c.alerter = a }
func (c *Coordinator) SetMetrics(m *metrics.Metrics) { c.metrics = m }
func (c *Coordinator) SetSleep(sleep exec.SleepFunc) { c.sleep = sleep }

// Run executes rounds until the capital is spent, a halt condition
// trips, or ctx is canceled. The summary is returned in every case;
// the error is non-nil only for cancellation.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	agg := NewAggregator(c.runID, string(c.cfg.Mode), c.cfg.SpotSymbol, c.cfg.FuturesSymbol, c.cfg.CapitalUSD)
	remaining := c.cfg.CapitalUSD
	noProgress := 0

	for index := 1; ; index++ {
		if ctx.Err() != nil {
			return agg.Finish(EndCanceled), ctx.Err()
		}

		// Only sell-mode sizing converts quote to a base quantity, so
		// buy-mode rounds skip the price fetch entirely.
		var spotPrice float64
		if c.cfg.Mode == config.ModeSellSpotLongFutures {
			price, err := c.prices.SpotPrice(ctx, c.cfg.SpotSymbol)
			if err != nil {
				if ctx.Err() != nil {
					return agg.Finish(EndCanceled), ctx.Err()
				}
				c.log.Warn("spot price fetch failed", zap.Int("round", index), zap.Error(err))
				noProgress++
				if noProgress >= c.cfg.MaxRoundFailures {
					return agg.Finish(EndMaxFailures), nil
				}
				if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
					return agg.Finish(EndCanceled), err
				}
				index--
				continue
			}
			spotPrice = price
		}

		rp, err := c.planner.Next(index, remaining, spotPrice)
		if errors.Is(err, plan.ErrInsufficientRemainder) {
			c.log.Info("capital exhausted",
				zap.Int("rounds", index-1),
				zap.Float64("remaining_usd", remaining))
			return agg.Finish(EndCapitalExhausted), nil
		}
		if err != nil {
			return agg.Finish(EndHalted), fmt.Errorf("plan round %d: %w", index, err)
		}

		round := c.runRound(ctx, rp)
		remaining -= round.CapitalDelta
		c.finishRound(ctx, agg, round)

		if ctx.Err() != nil {
			return agg.Finish(EndCanceled), ctx.Err()
		}
		if round.Outcome == OutcomeSuccess {
			noProgress = 0
		} else {
			if c.haltOnDegraded() {
				c.log.Warn("halting batch after problem round",
					zap.Int("round", round.Index),
					zap.String("outcome", string(round.Outcome)))
				return agg.Finish(EndHalted), nil
			}
			if round.CapitalDelta == 0 {
				noProgress++
				if noProgress >= c.cfg.MaxRoundFailures {
					c.log.Error("too many consecutive failed rounds",
						zap.Int("failures", noProgress))
					return agg.Finish(EndMaxFailures), nil
				}
			}
		}

		if err := c.sleep(ctx, c.cfg.BatchDelay); err != nil {
			return agg.Finish(EndCanceled), err
		}
	}
}

// runRound walks one round through its state machine. The futures leg
// is sized from the spot leg's realized fill, not the planned size.
func (c *Coordinator) runRound(ctx context.Context, rp plan.RoundPlan) Round {
	sm := NewStateMachine()
	round := Round{
		Index:       rp.Index,
		State:       sm.State,
		NotionalUSD: rp.NotionalUSD,
		SpotLeg:     rp.SpotLeg,
		Timestamp:   c.now().UTC(),
	}
	log := c.log.With(zap.Int("round", rp.Index))
	log.Info("round started",
		zap.Float64("notional_usd", rp.NotionalUSD),
		zap.String("spot_side", string(rp.SpotLeg.Side)))

	round.State = sm.Apply(EventSubmitSpot)
	spotAck, err := c.submit.Submit(ctx, rp.SpotLeg)
	if err != nil {
		c.metrics.OrdersFailed.Inc()
		round.State = sm.Apply(EventSpotFail)
		round.Outcome = OutcomeFailed
		round.Reason = fmt.Sprintf("spot submit: %v", err)
		return round
	}
	c.metrics.OrdersPlaced.Inc()

	spotFill, err := c.verify.Await(ctx, rp.SpotLeg, spotAck)
	round.SpotFill = spotFill
	if err != nil {
		// The spot order may still have filled. Whatever the final
		// query observed counts as deployed capital.
		round.CapitalDelta = spotFill.QuoteQty
		switch {
		case spotFill.Filled():
			round.State = sm.Apply(EventSpotFill)
			round.Outcome = OutcomeDegraded
			round.Reason = fmt.Sprintf("spot fill unverified: %v", err)
		case spotFill.Terminal():
			// The exchange confirmed nothing executed.
			round.State = sm.Apply(EventSpotFail)
			round.Outcome = OutcomeFailed
			round.Reason = fmt.Sprintf("spot leg: %v", err)
		default:
			// The order is still live on the exchange; the round cannot
			// be called aborted, only unresolved.
			round.Outcome = OutcomeDegraded
			round.Reason = fmt.Sprintf("spot fill unresolved: %v", err)
		}
		return round
	}
	if !spotFill.Filled() {
		round.State = sm.Apply(EventSpotFail)
		round.Outcome = OutcomeFailed
		round.Reason = fmt.Sprintf("spot order terminal without fill: %s", spotFill.Status)
		return round
	}
	round.State = sm.Apply(EventSpotFill)
	round.CapitalDelta = spotFill.QuoteQty
	log.Info("spot leg filled",
		zap.Float64("qty", spotFill.FilledQty),
		zap.Float64("quote", spotFill.QuoteQty),
		zap.Float64("avg_price", spotFill.AvgPrice))

	futuresPrice, err := c.prices.FuturesPrice(ctx, c.cfg.FuturesSymbol)
	if err != nil {
		// The minimum-notional check degrades to a quantity-only check.
		log.Warn("futures price fetch failed", zap.Error(err))
		futuresPrice = 0
	}
	hedge, err := c.planner.HedgeLeg(rp.Index, spotFill.FilledQty, futuresPrice)
	if err != nil {
		round.State = sm.Apply(EventFuturesFail)
		round.Outcome = OutcomeFailed
		round.Reason = fmt.Sprintf("hedge sizing: %v", err)
		return round
	}
	round.FuturesLeg = hedge

	round.State = sm.Apply(EventSubmitFutures)
	futAck, err := c.submit.Submit(ctx, hedge)
	if err != nil {
		c.metrics.OrdersFailed.Inc()
		round.State = sm.Apply(EventFuturesFail)
		round.Outcome = OutcomeFailed
		round.Reason = fmt.Sprintf("futures submit: %v", err)
		return round
	}
	c.metrics.OrdersPlaced.Inc()

	futFill, err := c.verify.Await(ctx, hedge, futAck)
	round.FuturesFill = futFill
	if err != nil {
		round.Outcome = OutcomeDegraded
		round.Reason = fmt.Sprintf("futures fill unverified: %v", err)
		return round
	}
	if !futFill.Filled() {
		round.State = sm.Apply(EventFuturesFail)
		round.Outcome = OutcomeFailed
		round.Reason = fmt.Sprintf("futures order terminal without fill: %s", futFill.Status)
		return round
	}
	round.State = sm.Apply(EventFuturesFill)
	if futFill.FilledQty < hedge.Quantity-hedgeSlack {
		round.Outcome = OutcomeDegraded
		round.Reason = fmt.Sprintf("hedge partially filled: %.8f of %.8f", futFill.FilledQty, hedge.Quantity)
		return round
	}
	round.Outcome = OutcomeSuccess
	log.Info("round hedged",
		zap.Float64("spot_qty", spotFill.FilledQty),
		zap.Float64("futures_qty", futFill.FilledQty))
	return round
}

// finishRound fans the completed round out to the aggregate, journal,
// recorder, metrics and alerting.
func (c *Coordinator) finishRound(ctx context.Context, agg *Aggregator, round Round) {
	agg.Add(round)

	switch round.Outcome {
	case OutcomeSuccess:
		c.metrics.RoundsSuccess.Inc()
	case OutcomeDegraded:
		c.metrics.RoundsDegraded.Inc()
	default:
		c.metrics.RoundsFailed.Inc()
	}

	if round.Outcome != OutcomeSuccess {
		c.log.Warn("round did not complete cleanly",
			zap.Int("round", round.Index),
			zap.String("state", string(round.State)),
			zap.String("outcome", string(round.Outcome)),
			zap.String("reason", round.Reason))
	}

	if c.journal != nil {
		// The append must survive run cancellation: the last round of a
		// cancelled run is the audit record that matters most.
		journalCtx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		payload, err := json.Marshal(round)
		if err == nil {
			err = c.journal.AppendRound(journalCtx, c.runID, round.Index, string(payload))
		}
		cancel()
		if err != nil {
			c.log.Warn("journal append failed", zap.Int("round", round.Index), zap.Error(err))
		}
	}
	if c.recorder != nil {
		c.recorder.RecordRound(round)
	}
	if c.alerter != nil && round.Unhedged() {
		if err := c.alerter.NotifyUnhedged(ctx, round.Index, round.SpotLeg.Symbol,
			round.SpotFill.FilledQty, round.SpotFill.QuoteQty, round.Reason); err != nil {
			c.log.Warn("unhedged alert failed", zap.Int("round", round.Index), zap.Error(err))
		}
	}
}

func (c *Coordinator) haltOnDegraded() bool {
	if c.cfg.HaltOnDegraded == nil {
		return true
	}
	return *c.cfg.HaltOnDegraded
}
