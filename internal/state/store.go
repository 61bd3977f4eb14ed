package state

import "context"

// Store is a small KV surface used for order idempotency keys and run
// metadata.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Journal persists per-round outcome records so a run can be audited
// after the process exits, in particular rounds that ended with an
// unhedged position.
type Journal interface {
	AppendRound(ctx context.Context, runID string, index int, payload string) error
	RoundsForRun(ctx context.Context, runID string) ([]string, error)
}
