package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"aster-funding-bot/internal/alerts"
	"aster-funding-bot/internal/asterdex"
	"aster-funding-bot/internal/asterdex/rest"
	"aster-funding-bot/internal/batch"
	"aster-funding-bot/internal/config"
	"aster-funding-bot/internal/exec"
	"aster-funding-bot/internal/market"
	"aster-funding-bot/internal/metrics"
	"aster-funding-bot/internal/plan"
	"aster-funding-bot/internal/state/sqlite"
	"aster-funding-bot/internal/timescale"
)

// App owns the wiring for one batch run: exchange client, local state,
// metrics, alerting and the round coordinator.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	runID  string
	store  *sqlite.Store
	rest   *rest.Client
	alerts *alerts.Telegram
	writer *timescale.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	apiKey := strings.TrimSpace(os.Getenv("ASTERDEX_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ASTERDEX_API_KEY is required")
	}
	apiSecret := strings.TrimSpace(os.Getenv("ASTERDEX_API_SECRET"))
	if apiSecret == "" {
		return nil, errors.New("ASTERDEX_API_SECRET is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	runID := "run-" + time.Now().UTC().Format("20060102T150405Z")
	writer, err := timescale.New(cfg.Timescale, runID, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &App{
		cfg:    cfg,
		log:    log,
		runID:  runID,
		store:  store,
		rest:   rest.New(cfg.REST, apiKey, apiSecret, log),
		alerts: alerts.NewTelegram(cfg.Telegram, log),
		writer: writer,
	}, nil
}

func (a *App) RunID() string {
	return a.runID
}

// Run executes the batch loop and returns its summary. The summary is
// valid even when the run ends on cancellation.
func (a *App) Run(ctx context.Context) (batch.Summary, error) {
	defer a.store.Close()
	defer a.writer.Close()

	m := metrics.NewNoop()
	if a.cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: prom.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	spotInfo, err := a.rest.SpotExchangeInfo(ctx)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("spot exchange info: %w", err)
	}
	futInfo, err := a.rest.FuturesExchangeInfo(ctx)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("futures exchange info: %w", err)
	}
	spotFilters, err := market.FiltersFor(spotInfo, a.cfg.Strategy.SpotSymbol)
	if err != nil {
		return batch.Summary{}, err
	}
	futFilters, err := market.FiltersFor(futInfo, a.cfg.Strategy.FuturesSymbol)
	if err != nil {
		return batch.Summary{}, err
	}
	a.log.Info("symbol filters loaded",
		zap.Float64("spot_step", spotFilters.StepSize),
		zap.Float64("futures_step", futFilters.StepSize))

	if !a.cfg.Strategy.SkipPreflight {
		if err := a.preflight(ctx); err != nil {
			return batch.Summary{}, fmt.Errorf("preflight: %w", err)
		}
	}

	planner := plan.New(a.cfg.Strategy, spotFilters, futFilters)
	planner.SetRunID(a.runID)
	gw := &gateway{api: a.rest}
	submitter := exec.NewSubmitter(gw, a.store, a.cfg.Strategy.SubmitAttempts, a.cfg.Strategy.SubmitBackoff, a.log)
	submitter.OnRateLimited(m.RateLimitHits.Inc)
	verifier := exec.NewVerifier(gw, a.cfg.Strategy.PollInterval, a.cfg.Strategy.MaxPollAttempts, a.log)

	coord := batch.NewCoordinator(a.cfg.Strategy, a.runID, planner, submitter, verifier, a.rest, a.log)
	coord.SetJournal(a.store)
	coord.SetMetrics(m)
	coord.SetAlerter(a.alerts)
	if a.writer != nil {
		a.writer.Start(ctx)
		coord.SetRecorder(a.writer)
	}

	a.log.Info("batch run starting",
		zap.String("run_id", a.runID),
		zap.String("mode", string(a.cfg.Strategy.Mode)),
		zap.Float64("capital_usd", a.cfg.Strategy.CapitalUSD),
		zap.Float64("batch_quote", a.cfg.Strategy.BatchQuote))
	if err := a.alerts.NotifyRunStarted(ctx, a.runID, string(a.cfg.Strategy.Mode),
		a.cfg.Strategy.SpotSymbol, a.cfg.Strategy.CapitalUSD, a.cfg.Strategy.BatchQuote); err != nil {
		a.log.Warn("run-start alert failed", zap.Error(err))
	}

	summary, runErr := coord.Run(ctx)

	// The summary alert outlives a cancelled run context.
	alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.alerts.NotifySummary(alertCtx, summary); err != nil {
		a.log.Warn("summary alert failed", zap.Error(err))
	}
	return summary, runErr
}

// preflight verifies the account can fund the run before any order is
// placed. Buy mode needs quote on spot; sell mode needs the base asset.
// Futures margin is checked against a single round's notional since
// rounds settle sequentially.
func (a *App) preflight(ctx context.Context) error {
	strat := a.cfg.Strategy
	quote := quoteAsset(strat.SpotSymbol)

	account, err := a.rest.SpotAccount(ctx)
	if err != nil {
		return fmt.Errorf("spot account: %w", err)
	}
	if strat.Mode == config.ModeSellSpotLongFutures {
		base := strings.TrimSuffix(strat.SpotSymbol, quote)
		price, err := a.rest.SpotPrice(ctx, strat.SpotSymbol)
		if err != nil {
			return fmt.Errorf("spot price: %w", err)
		}
		if price <= 0 {
			return fmt.Errorf("spot price for %s is %v", strat.SpotSymbol, price)
		}
		need := strat.CapitalUSD / price
		if free := spotFree(account, base); free < need {
			return fmt.Errorf("insufficient spot %s: have %.8f, need %.8f", base, free, need)
		}
	} else {
		if free := spotFree(account, quote); free < strat.CapitalUSD {
			return fmt.Errorf("insufficient spot %s: have %.2f, need %.2f", quote, free, strat.CapitalUSD)
		}
	}

	balances, err := a.rest.FuturesBalances(ctx)
	if err != nil {
		return fmt.Errorf("futures balances: %w", err)
	}
	if avail := futuresAvailable(balances, quote); avail < strat.BatchQuote {
		return fmt.Errorf("insufficient futures margin %s: have %.2f, need %.2f", quote, avail, strat.BatchQuote)
	}
	return nil
}

func quoteAsset(symbol string) string {
	for _, q := range []string{"USDT", "USDC", "FDUSD", "USD"} {
		if strings.HasSuffix(symbol, q) {
			return q
		}
	}
	return "USDT"
}

func spotFree(account asterdex.SpotAccount, asset string) float64 {
	for _, b := range account.Balances {
		if b.Asset == asset {
			return asterdex.Float(b.Free)
		}
	}
	return 0
}

func futuresAvailable(balances []asterdex.FuturesBalance, asset string) float64 {
	for _, b := range balances {
		if b.Asset == asset {
			return asterdex.Float(b.AvailableBalance)
		}
	}
	return 0
}
