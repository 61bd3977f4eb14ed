package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"aster-funding-bot/internal/batch"
	"aster-funding-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer persists finished rounds to TimescaleDB off the round loop.
// All methods are safe on a nil receiver so the caller can wire it
// unconditionally and let a disabled config produce a nil writer.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	runID   string
	rounds  chan batch.Round
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.TimescaleConfig, runID string, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		runID:  runID,
		rounds: make(chan batch.Round, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// RecordRound enqueues a round without blocking. Rounds are dropped,
// with a counter, when the queue is full.
func (w *Writer) RecordRound(r batch.Round) {
	if w == nil {
		return
	}
	select {
	case w.rounds <- r:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale round queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-w.rounds:
			w.writeRound(ctx, r)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		run_id TEXT NOT NULL,
		round_index INTEGER NOT NULL,
		state TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		notional_usd DOUBLE PRECISION NOT NULL,
		capital_delta DOUBLE PRECISION NOT NULL,
		spot_symbol TEXT NOT NULL,
		spot_side TEXT NOT NULL,
		spot_qty DOUBLE PRECISION NOT NULL,
		spot_quote DOUBLE PRECISION NOT NULL,
		spot_avg_price DOUBLE PRECISION NOT NULL,
		futures_symbol TEXT NOT NULL DEFAULT '',
		futures_side TEXT NOT NULL DEFAULT '',
		futures_qty DOUBLE PRECISION NOT NULL,
		futures_quote DOUBLE PRECISION NOT NULL,
		fees_usd DOUBLE PRECISION NOT NULL
	)`, w.table("batch_rounds"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("batch_rounds"))); err != nil && w.log != nil {
		w.log.Warn("timescale batch_rounds hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeRound(ctx context.Context, r batch.Round) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, run_id, round_index, state, outcome, reason, notional_usd, capital_delta,
		spot_symbol, spot_side, spot_qty, spot_quote, spot_avg_price,
		futures_symbol, futures_side, futures_qty, futures_quote, fees_usd
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	)`, w.table("batch_rounds"))
	if _, err := w.db.ExecContext(ctx, query,
		r.Timestamp,
		w.runID,
		r.Index,
		string(r.State),
		string(r.Outcome),
		r.Reason,
		r.NotionalUSD,
		r.CapitalDelta,
		r.SpotLeg.Symbol,
		string(r.SpotLeg.Side),
		r.SpotFill.FilledQty,
		r.SpotFill.QuoteQty,
		r.SpotFill.AvgPrice,
		r.FuturesLeg.Symbol,
		string(r.FuturesLeg.Side),
		r.FuturesFill.FilledQty,
		r.FuturesNotional(),
		r.SpotFill.Fee+r.FuturesFill.Fee,
	); err != nil && w.log != nil {
		w.log.Warn("timescale round insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	if w.schema == "" || w.schema == "public" {
		return name
	}
	return w.schema + "." + name
}
