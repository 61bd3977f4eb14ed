package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aster-funding-bot/internal/asterdex"

	"go.uber.org/zap"
)

// ErrFillTimeout means the attempt budget ran out before the order
// reached a terminal status. The last observed record is still
// returned alongside it.
var ErrFillTimeout = errors.New("fill verification timed out")

const finalQueryTimeout = 5 * time.Second

// Verifier polls an order until it reaches a terminal status. Terminal
// records are cached so re-verifying a finished order returns the
// identical record without touching the exchange. When the run context
// is cancelled mid-poll, one final status query runs on a fresh
// context so no in-flight leg exits unaccounted for.
type Verifier struct {
	gw          Gateway
	interval    time.Duration
	maxAttempts int
	log         *zap.Logger
	sleep       SleepFunc

	mu       sync.Mutex
	terminal map[string]FillRecord
}

func NewVerifier(gw Gateway, interval time.Duration, maxAttempts int, log *zap.Logger) *Verifier {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Verifier{
		gw:          gw,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
		sleep:       RealSleep,
		terminal:    make(map[string]FillRecord),
	}
}

// SetSleep overrides the polling suspend point. Tests only.
func (v *Verifier) SetSleep(sleep SleepFunc) {
	if sleep != nil {
		v.sleep = sleep
	}
}

// Await blocks until the order is terminal or the attempt budget is
// exhausted. The initial record is the submission response; market
// orders frequently come back already FILLED, in which case no status
// query is issued at all.
func (v *Verifier) Await(ctx context.Context, leg Leg, initial FillRecord) (FillRecord, error) {
	key := recordKey(leg.Market, leg.Symbol, initial.OrderID)
	if cached, ok := v.cached(key); ok {
		return cached, nil
	}
	if initial.Terminal() {
		v.remember(key, initial)
		return initial, nil
	}
	if initial.OrderID == "" {
		return initial, errors.New("order id is required for verification")
	}

	last := initial
	var lastErr error
	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		if err := v.sleep(ctx, v.interval); err != nil {
			return v.finalQuery(leg, last, err)
		}
		record, err := v.gw.OrderStatus(ctx, leg.Market, leg.Symbol, initial.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				return v.finalQuery(leg, last, ctx.Err())
			}
			if !asterdex.IsRetryable(err) {
				return last, err
			}
			lastErr = err
			v.log.Warn("order status poll failed",
				zap.String("order_id", initial.OrderID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		last = record
		v.log.Debug("order status",
			zap.String("order_id", record.OrderID),
			zap.String("status", record.Status),
			zap.Float64("filled_qty", record.FilledQty),
		)
		if record.Terminal() {
			v.remember(key, record)
			return record, nil
		}
	}
	if lastErr != nil {
		return last, fmt.Errorf("%w after %d attempts: last error: %v", ErrFillTimeout, v.maxAttempts, lastErr)
	}
	return last, fmt.Errorf("%w after %d attempts: last status %s", ErrFillTimeout, v.maxAttempts, last.Status)
}

// finalQuery records the last known state of an in-flight order before
// surfacing cancellation, using a context detached from the cancelled
// run.
func (v *Verifier) finalQuery(leg Leg, last FillRecord, cause error) (FillRecord, error) {
	queryCtx, cancel := context.WithTimeout(context.Background(), finalQueryTimeout)
	defer cancel()
	record, err := v.gw.OrderStatus(queryCtx, leg.Market, leg.Symbol, last.OrderID)
	if err != nil {
		v.log.Warn("final order status query failed",
			zap.String("order_id", last.OrderID),
			zap.Error(err),
		)
		return last, cause
	}
	if record.Terminal() {
		v.remember(recordKey(leg.Market, leg.Symbol, record.OrderID), record)
	}
	return record, cause
}

func (v *Verifier) cached(key string) (FillRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	record, ok := v.terminal[key]
	return record, ok
}

func (v *Verifier) remember(key string, record FillRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.terminal[key] = record
}

func recordKey(market MarketType, symbol, orderID string) string {
	return string(market) + ":" + symbol + ":" + orderID
}
