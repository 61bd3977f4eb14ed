package exec

import (
	"context"
	"time"

	"aster-funding-bot/internal/asterdex"
)

type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Leg is one side of the paired trade. Spot market buys are
// quote-denominated (QuoteQuantity), everything else trades a base
// Quantity.
type Leg struct {
	Market        MarketType `json:"market"`
	Side          Side       `json:"side"`
	Symbol        string     `json:"symbol"`
	Quantity      float64    `json:"quantity,omitempty"`
	QuoteQuantity float64    `json:"quote_quantity,omitempty"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
}

// FillRecord is the observed execution state of one order.
type FillRecord struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
	QuoteQty  float64 `json:"quote_qty"`
	Fee       float64 `json:"fee"`
}

func (r FillRecord) Terminal() bool {
	return asterdex.TerminalStatus(r.Status)
}

func (r FillRecord) Filled() bool {
	return r.FilledQty > 0
}

// Gateway is the slice of the exchange the execution layer needs.
type Gateway interface {
	SubmitOrder(ctx context.Context, leg Leg) (FillRecord, error)
	OrderStatus(ctx context.Context, market MarketType, symbol, orderID string) (FillRecord, error)
}

// SleepFunc is an injectable suspend point so timeout paths can be
// tested without real waiting.
type SleepFunc func(ctx context.Context, d time.Duration) error

func RealSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
