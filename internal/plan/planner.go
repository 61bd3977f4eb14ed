package plan

import (
	"errors"
	"fmt"
	"math"

	"aster-funding-bot/internal/config"
	"aster-funding-bot/internal/exec"
	"aster-funding-bot/internal/market"
)

// ErrInsufficientRemainder means the remaining capital can no longer
// produce an order the exchange will accept. It terminates the run
// normally, it is not a failure.
var ErrInsufficientRemainder = errors.New("remaining capital below exchange minimum")

// RoundPlan is the target for one batch round: how much quote to
// deploy and the spot leg that deploys it.
type RoundPlan struct {
	Index       int
	NotionalUSD float64
	SpotLeg     exec.Leg
}

// Planner derives per-round order legs from the remaining capital.
// It owns no mutable state; the coordinator feeds it the remaining
// capital and a fresh spot price each round.
type Planner struct {
	mode           config.Mode
	spotSymbol     string
	futuresSymbol  string
	batchQuote     float64
	runID          string
	spotFilters    market.Filters
	futuresFilters market.Filters
}

func New(cfg config.StrategyConfig, spotFilters, futuresFilters market.Filters) *Planner {
	return &Planner{
		mode:           cfg.Mode,
		spotSymbol:     cfg.SpotSymbol,
		futuresSymbol:  cfg.FuturesSymbol,
		batchQuote:     cfg.BatchQuote,
		spotFilters:    spotFilters,
		futuresFilters: futuresFilters,
	}
}

// SetRunID namespaces client order ids so two runs against the same
// account cannot collide on the exchange's dedup key.
func (p *Planner) SetRunID(runID string) {
	p.runID = runID
}

func (p *Planner) clientOrderID(index int, leg string) string {
	if p.runID == "" {
		return fmt.Sprintf("round-%d-%s", index, leg)
	}
	return fmt.Sprintf("%s-round-%d-%s", p.runID, index, leg)
}

func (p *Planner) SpotSide() exec.Side {
	if p.mode == config.ModeSellSpotLongFutures {
		return exec.SideSell
	}
	return exec.SideBuy
}

func (p *Planner) FuturesSide() exec.Side {
	if p.mode == config.ModeSellSpotLongFutures {
		return exec.SideBuy
	}
	return exec.SideSell
}

// Next plans the round's spot leg. spotPrice is only consulted in sell
// mode, where the quote-denominated target has to be converted to a
// base quantity on the lot grid.
func (p *Planner) Next(index int, remaining, spotPrice float64) (RoundPlan, error) {
	if remaining <= 0 {
		return RoundPlan{}, ErrInsufficientRemainder
	}
	notional := math.Min(p.batchQuote, remaining)
	if p.spotFilters.MinNotional > 0 && notional < p.spotFilters.MinNotional {
		return RoundPlan{}, fmt.Errorf("%w: %.4f leftover vs %.4f min notional",
			ErrInsufficientRemainder, notional, p.spotFilters.MinNotional)
	}

	leg := exec.Leg{
		Market:        exec.MarketSpot,
		Side:          p.SpotSide(),
		Symbol:        p.spotSymbol,
		ClientOrderID: p.clientOrderID(index, "spot"),
	}
	if leg.Side == exec.SideBuy {
		leg.QuoteQuantity = notional
	} else {
		if spotPrice <= 0 {
			return RoundPlan{}, fmt.Errorf("spot price required to size a sell leg, got %.8f", spotPrice)
		}
		qty := p.spotFilters.FloorToStep(notional / spotPrice)
		if qty < p.spotFilters.MinQty || qty <= 0 {
			return RoundPlan{}, fmt.Errorf("%w: %.8f base after rounding vs %.8f min qty",
				ErrInsufficientRemainder, qty, p.spotFilters.MinQty)
		}
		leg.Quantity = qty
	}
	return RoundPlan{Index: index, NotionalUSD: notional, SpotLeg: leg}, nil
}

// HedgeLeg sizes the futures leg from the spot leg's realized fill,
// never from the planned quantity. A quantity that rounds below the
// futures minimums cannot be hedged and is reported as an error so the
// coordinator can flag the exposed round.
func (p *Planner) HedgeLeg(index int, spotFilledQty, futuresPrice float64) (exec.Leg, error) {
	qty := p.futuresFilters.FloorToStep(spotFilledQty)
	if qty <= 0 || qty < p.futuresFilters.MinQty {
		return exec.Leg{}, fmt.Errorf("hedge quantity %.8f below futures minimum %.8f",
			qty, p.futuresFilters.MinQty)
	}
	if p.futuresFilters.MinNotional > 0 && futuresPrice > 0 && qty*futuresPrice < p.futuresFilters.MinNotional {
		return exec.Leg{}, fmt.Errorf("hedge notional %.4f below futures minimum %.4f",
			qty*futuresPrice, p.futuresFilters.MinNotional)
	}
	return exec.Leg{
		Market:        exec.MarketFutures,
		Side:          p.FuturesSide(),
		Symbol:        p.futuresSymbol,
		Quantity:      qty,
		ClientOrderID: p.clientOrderID(index, "futures"),
	}, nil
}
