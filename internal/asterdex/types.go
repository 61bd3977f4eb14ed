package asterdex

import (
	"strconv"
	"strings"
)

// Order status values shared by the spot and futures order endpoints.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusExpired         = "EXPIRED"
	StatusRejected        = "REJECTED"
)

func TerminalStatus(status string) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// Order is the wire shape returned by /api/v1/order and /fapi/v1/order.
// Numeric fields arrive as strings.
type Order struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	Side                string `json:"side"`
	Type                string `json:"type"`
	Price               string `json:"price"`
	AvgPrice            string `json:"avgPrice"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CumQuote            string `json:"cumQuote"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	UpdateTime          int64  `json:"updateTime"`
	Fills               []Fill `json:"fills"`
}

type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

func (o Order) ExecutedSize() float64 {
	return Float(o.ExecutedQty)
}

// QuoteFilled returns the cumulative quote amount spent or received,
// falling back to the per-fill breakdown when the aggregate is absent.
func (o Order) QuoteFilled() float64 {
	for _, raw := range []string{o.CumQuote, o.CummulativeQuoteQty} {
		if v := Float(raw); v > 0 {
			return v
		}
	}
	var total float64
	for _, fill := range o.Fills {
		total += Float(fill.Price) * Float(fill.Qty)
	}
	return total
}

func (o Order) AveragePrice() float64 {
	if v := Float(o.AvgPrice); v > 0 {
		return v
	}
	var qty, notional float64
	for _, fill := range o.Fills {
		q := Float(fill.Qty)
		qty += q
		notional += q * Float(fill.Price)
	}
	if qty > 0 {
		return notional / qty
	}
	if executed := o.ExecutedSize(); executed > 0 {
		if quote := o.QuoteFilled(); quote > 0 {
			return quote / executed
		}
	}
	return Float(o.Price)
}

func (o Order) FeeTotal() float64 {
	var total float64
	for _, fill := range o.Fills {
		total += Float(fill.Commission)
	}
	return total
}

type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type PremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []SymbolFilter `json:"filters"`
}

type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize"`
	MinQty      string `json:"minQty"`
	MinNotional string `json:"minNotional"`
	Notional    string `json:"notional"`
}

type SpotAccount struct {
	Balances []SpotBalance `json:"balances"`
}

type SpotBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type FuturesBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// Float parses the exchange's string-encoded decimals, returning 0 for
// anything unparsable.
func Float(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatQty renders a quantity without trailing zeros, matching the
// representation the exchange's filters expect.
func FormatQty(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return s
}
