package app

import (
	"context"
	"fmt"
	"strconv"

	"aster-funding-bot/internal/asterdex"
	"aster-funding-bot/internal/exec"
)

// exchangeAPI is the slice of the REST client the order gateway uses.
type exchangeAPI interface {
	SpotMarketBuy(ctx context.Context, symbol string, quoteQty float64, clientOrderID string) (asterdex.Order, error)
	SpotMarketSell(ctx context.Context, symbol string, qty float64, clientOrderID string) (asterdex.Order, error)
	FuturesMarketOrder(ctx context.Context, symbol, side string, qty float64, clientOrderID string) (asterdex.Order, error)
	SpotOrderStatus(ctx context.Context, symbol string, orderID int64) (asterdex.Order, error)
	FuturesOrderStatus(ctx context.Context, symbol string, orderID int64) (asterdex.Order, error)
}

// gateway adapts the exchange REST client to the execution layer's
// market-neutral order interface.
type gateway struct {
	api exchangeAPI
}

func (g *gateway) SubmitOrder(ctx context.Context, leg exec.Leg) (exec.FillRecord, error) {
	var (
		order asterdex.Order
		err   error
	)
	switch {
	case leg.Market == exec.MarketFutures:
		order, err = g.api.FuturesMarketOrder(ctx, leg.Symbol, string(leg.Side), leg.Quantity, leg.ClientOrderID)
	case leg.Side == exec.SideBuy:
		order, err = g.api.SpotMarketBuy(ctx, leg.Symbol, leg.QuoteQuantity, leg.ClientOrderID)
	default:
		order, err = g.api.SpotMarketSell(ctx, leg.Symbol, leg.Quantity, leg.ClientOrderID)
	}
	if err != nil {
		return exec.FillRecord{}, err
	}
	return fillRecord(order), nil
}

func (g *gateway) OrderStatus(ctx context.Context, market exec.MarketType, symbol, orderID string) (exec.FillRecord, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exec.FillRecord{}, fmt.Errorf("malformed order id %q: %w", orderID, err)
	}
	var order asterdex.Order
	if market == exec.MarketFutures {
		order, err = g.api.FuturesOrderStatus(ctx, symbol, id)
	} else {
		order, err = g.api.SpotOrderStatus(ctx, symbol, id)
	}
	if err != nil {
		return exec.FillRecord{}, err
	}
	return fillRecord(order), nil
}

func fillRecord(o asterdex.Order) exec.FillRecord {
	return exec.FillRecord{
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		Status:    o.Status,
		FilledQty: o.ExecutedSize(),
		AvgPrice:  o.AveragePrice(),
		QuoteQty:  o.QuoteFilled(),
		Fee:       o.FeeTotal(),
	}
}
