package scanner

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"aster-funding-bot/internal/asterdex"
	"aster-funding-bot/internal/config"
)

// fundingPeriodsPerDay matches the exchange's 8-hour funding schedule.
const fundingPeriodsPerDay = 3

// AnnualizedAPR converts a per-period funding rate to a yearly rate.
func AnnualizedAPR(rate float64) float64 {
	return rate * fundingPeriodsPerDay * 365
}

// Opportunity is one symbol's current funding picture. A positive
// FundingRate pays the short side, which is what the default
// buy-spot-short-futures mode collects.
type Opportunity struct {
	Symbol      string    `json:"symbol"`
	FundingRate float64   `json:"funding_rate"`
	APR         float64   `json:"apr"`
	MarkPrice   float64   `json:"mark_price"`
	NextFunding time.Time `json:"next_funding"`
}

// PremiumSource is the slice of the futures REST API the scanner needs.
type PremiumSource interface {
	PremiumIndexAll(ctx context.Context) ([]asterdex.PremiumIndex, error)
}

// Stream delivers live mark-price events for watch mode.
type Stream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, streams ...string) error
	Run(ctx context.Context, handler func(json.RawMessage)) error
}

// Scanner ranks futures symbols by annualized funding yield.
type Scanner struct {
	src    PremiumSource
	minAPR float64
	top    int
	log    *zap.Logger
}

func New(src PremiumSource, cfg config.ScannerConfig, log *zap.Logger) *Scanner {
	return &Scanner{src: src, minAPR: cfg.MinFundingAPR, top: cfg.Top, log: log}
}

// Scan fetches every symbol's premium index and returns the top
// opportunities by APR, highest first, at or above the configured
// minimum.
func (s *Scanner) Scan(ctx context.Context) ([]Opportunity, error) {
	indexes, err := s.src.PremiumIndexAll(ctx)
	if err != nil {
		return nil, err
	}
	opps := make([]Opportunity, 0, len(indexes))
	for _, idx := range indexes {
		rate := asterdex.Float(idx.LastFundingRate)
		apr := AnnualizedAPR(rate)
		if apr < s.minAPR {
			continue
		}
		opps = append(opps, Opportunity{
			Symbol:      idx.Symbol,
			FundingRate: rate,
			APR:         apr,
			MarkPrice:   asterdex.Float(idx.MarkPrice),
			NextFunding: time.UnixMilli(idx.NextFundingTime),
		})
	}
	sort.Slice(opps, func(i, j int) bool {
		if opps[i].APR != opps[j].APR {
			return opps[i].APR > opps[j].APR
		}
		return opps[i].Symbol < opps[j].Symbol
	})
	if s.top > 0 && len(opps) > s.top {
		opps = opps[:s.top]
	}
	return opps, nil
}

type markPriceEvent struct {
	Event           string `json:"e"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// Watch subscribes to the symbols' mark-price streams and invokes
// onUpdate for every funding update above the minimum APR. It blocks
// until the stream ends or ctx is canceled.
func (s *Scanner) Watch(ctx context.Context, stream Stream, symbols []string, onUpdate func(Opportunity)) error {
	if err := stream.Connect(ctx); err != nil {
		return err
	}
	names := make([]string, len(symbols))
	for i, sym := range symbols {
		names[i] = strings.ToLower(sym) + "@markPrice"
	}
	if err := stream.Subscribe(ctx, names...); err != nil {
		return err
	}
	return stream.Run(ctx, func(msg json.RawMessage) {
		var ev markPriceEvent
		if err := json.Unmarshal(msg, &ev); err != nil || ev.Event != "markPriceUpdate" {
			return
		}
		rate := asterdex.Float(ev.FundingRate)
		apr := AnnualizedAPR(rate)
		if apr < s.minAPR {
			return
		}
		onUpdate(Opportunity{
			Symbol:      ev.Symbol,
			FundingRate: rate,
			APR:         apr,
			MarkPrice:   asterdex.Float(ev.MarkPrice),
			NextFunding: time.UnixMilli(ev.NextFundingTime),
		})
	})
}
