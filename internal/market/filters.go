package market

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"aster-funding-bot/internal/asterdex"
)

// Filters holds the order-size constraints the exchange enforces for a
// symbol: LOT_SIZE step and minimum, and the minimum order notional.
type Filters struct {
	Symbol      string
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

func FiltersFor(info asterdex.ExchangeInfo, symbol string) (Filters, error) {
	for _, sym := range info.Symbols {
		if sym.Symbol != symbol {
			continue
		}
		filters := Filters{Symbol: symbol}
		for _, flt := range sym.Filters {
			switch flt.FilterType {
			case "LOT_SIZE":
				filters.StepSize = asterdex.Float(flt.StepSize)
				filters.MinQty = asterdex.Float(flt.MinQty)
			case "MIN_NOTIONAL":
				raw := flt.MinNotional
				if raw == "" {
					raw = flt.Notional
				}
				filters.MinNotional = asterdex.Float(raw)
			}
		}
		if filters.StepSize <= 0 {
			return Filters{}, fmt.Errorf("symbol %s has no LOT_SIZE filter", symbol)
		}
		return filters, nil
	}
	return Filters{}, fmt.Errorf("symbol %s not found in exchangeInfo", symbol)
}

// FloorToStep rounds a quantity down onto the lot-size grid. The small
// epsilon keeps quantities that are already on the grid from being
// knocked down a step by float noise.
func (f Filters) FloorToStep(v float64) float64 {
	if f.StepSize <= 0 {
		return v
	}
	steps := math.Floor(v/f.StepSize + 1e-9)
	if steps <= 0 {
		return 0
	}
	decimals := decimalsOf(strconv.FormatFloat(f.StepSize, 'f', -1, 64))
	return roundTo(steps*f.StepSize, decimals)
}

// AcceptsQty reports whether a quantity at the given reference price
// clears both the minimum quantity and minimum notional filters.
func (f Filters) AcceptsQty(qty, price float64) bool {
	if qty < f.MinQty {
		return false
	}
	if f.MinNotional > 0 && price > 0 && qty*price < f.MinNotional {
		return false
	}
	return true
}

func roundTo(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(value)
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}

func decimalsOf(step string) int {
	step = strings.TrimRight(strings.TrimSpace(step), "0")
	idx := strings.Index(step, ".")
	if idx < 0 {
		return 0
	}
	return len(step) - idx - 1
}
