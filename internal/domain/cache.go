package domain

import (
	"context"
	"time"
)

// QuoteCache holds the latest quote snapshot per symbol for consumers outside
// the controller process (dashboards, other bots on the same account).
type QuoteCache interface {
	SetQuote(ctx context.Context, q QuoteSnapshot) error
	// GetQuote returns the latest snapshot for symbol, or ErrNotFound.
	GetQuote(ctx context.Context, symbol string) (QuoteSnapshot, error)
}

// LockManager provides distributed locks so that at most one chaser runs per
// symbol per account across processes.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld when another
	// holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
