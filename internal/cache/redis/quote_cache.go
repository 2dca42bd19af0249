package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seojinlab/kisbot/internal/domain"
)

// quoteTTL bounds how long a published quote stays readable. Quotes are
// refreshed every poll cycle; a vanished key just means the chaser stopped.
const quoteTTL = 5 * time.Minute

// QuoteCache implements domain.QuoteCache on Redis so dashboards and other
// processes can read the latest ladder the chaser observed.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest snapshot for its symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.QuoteSnapshot) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("redis: encode quote: %w", err)
	}
	if err := qc.rdb.Set(ctx, quoteKey(q.Symbol), data, quoteTTL).Err(); err != nil {
		return fmt.Errorf("redis: save quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns the latest snapshot for symbol, or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	data, err := qc.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.QuoteSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: load quote %s: %w", symbol, err)
	}

	var q domain.QuoteSnapshot
	if err := json.Unmarshal(data, &q); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("redis: decode quote %s: %w", symbol, err)
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
