package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aster-funding-bot/internal/asterdex"
	"aster-funding-bot/internal/state"

	"go.uber.org/zap"
)

const rateLimitBackoffFactor = 4

// Submitter places one order leg with bounded retries. Transport
// failures and rate limiting are retried with exponential backoff;
// exchange rejections are returned immediately since resubmitting the
// same payload cannot succeed. Legs carrying a client order id are
// submitted at most once across restarts via the state store.
type Submitter struct {
	gw          Gateway
	store       state.Store
	log         *zap.Logger
	maxAttempts int
	backoff     time.Duration
	sleep       SleepFunc
	rateLimited func()

	mu    sync.Mutex
	cache map[string]string
}

func NewSubmitter(gw Gateway, store state.Store, maxAttempts int, backoff time.Duration, log *zap.Logger) *Submitter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &Submitter{
		gw:          gw,
		store:       store,
		log:         log,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       RealSleep,
		cache:       make(map[string]string),
	}
}

// SetSleep overrides the retry suspend point. Tests only.
func (s *Submitter) SetSleep(sleep SleepFunc) {
	if sleep != nil {
		s.sleep = sleep
	}
}

// OnRateLimited registers a hook invoked once per rate-limited attempt.
func (s *Submitter) OnRateLimited(fn func()) {
	s.rateLimited = fn
}

func (s *Submitter) Submit(ctx context.Context, leg Leg) (FillRecord, error) {
	if leg.ClientOrderID == "" {
		return s.submitWithRetry(ctx, leg)
	}
	cacheKey := "cloid:" + leg.ClientOrderID
	s.mu.Lock()
	if oid, ok := s.cache[cacheKey]; ok {
		s.mu.Unlock()
		return FillRecord{OrderID: oid, Status: asterdex.StatusNew}, nil
	}
	s.mu.Unlock()
	if s.store != nil {
		if oid, ok, err := s.store.Get(ctx, cacheKey); err != nil {
			return FillRecord{}, err
		} else if ok {
			s.mu.Lock()
			s.cache[cacheKey] = oid
			s.mu.Unlock()
			return FillRecord{OrderID: oid, Status: asterdex.StatusNew}, nil
		}
	}
	record, err := s.submitWithRetry(ctx, leg)
	if err != nil {
		return FillRecord{}, err
	}
	if s.store != nil {
		if err := s.store.Set(ctx, cacheKey, record.OrderID); err != nil {
			s.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.cache[cacheKey] = record.OrderID
	s.mu.Unlock()
	return record, nil
}

func (s *Submitter) submitWithRetry(ctx context.Context, leg Leg) (FillRecord, error) {
	backoff := s.backoff
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		record, err := s.gw.SubmitOrder(ctx, leg)
		if err == nil {
			if record.OrderID == "" {
				return FillRecord{}, fmt.Errorf("exchange returned no order id for %s %s %s", leg.Market, leg.Side, leg.Symbol)
			}
			return record, nil
		}
		if !asterdex.IsRetryable(err) {
			return FillRecord{}, err
		}
		lastErr = err
		if attempt == s.maxAttempts {
			break
		}
		wait := backoff
		if asterdex.IsRateLimited(err) {
			wait = backoff * rateLimitBackoffFactor
			if s.rateLimited != nil {
				s.rateLimited()
			}
			s.log.Warn("rate limited, backing off",
				zap.String("symbol", leg.Symbol),
				zap.Duration("wait", wait),
			)
		}
		if err := s.sleep(ctx, wait); err != nil {
			return FillRecord{}, err
		}
		backoff *= 2
	}
	return FillRecord{}, fmt.Errorf("submit failed after %d attempts: %w", s.maxAttempts, lastErr)
}
