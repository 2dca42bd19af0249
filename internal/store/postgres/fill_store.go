package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seojinlab/kisbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Record inserts one decoded execution notice.
func (s *FillStore) Record(ctx context.Context, n domain.ExecutionNotice) error {
	const query = `
		INSERT INTO fills (
			account_no, order_no, orig_order_no, symbol, symbol_name,
			side, is_revision, is_rejected,
			fill_qty, fill_price, order_qty, event_time, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.pool.Exec(ctx, query,
		n.AccountNo, n.OrderNo, n.OrigOrderNo, n.Symbol, n.SymbolName,
		string(n.Side), n.IsRevision, n.IsRejected,
		n.FillQty, n.FillPrice, n.OrderQty, n.EventTime, n.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record fill for order %s: %w", n.OrderNo, err)
	}
	return nil
}

// ListBefore returns fills received strictly before the cutoff, oldest
// first.
func (s *FillStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionNotice, error) {
	const query = `
		SELECT account_no, order_no, orig_order_no, symbol, symbol_name,
		       side, is_revision, is_rejected,
		       fill_qty, fill_price, order_qty, event_time, received_at
		FROM fills
		WHERE received_at < $1
		ORDER BY received_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()

	fills, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills: %w", err)
	}
	return fills, nil
}

// DeleteBefore removes fills received strictly before the cutoff. Called by
// the archiver after a successful export.
func (s *FillStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fills WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanFillRows(rows pgx.Rows) ([]domain.ExecutionNotice, error) {
	var fills []domain.ExecutionNotice
	for rows.Next() {
		var n domain.ExecutionNotice
		var side string
		err := rows.Scan(
			&n.AccountNo, &n.OrderNo, &n.OrigOrderNo, &n.Symbol, &n.SymbolName,
			&side, &n.IsRevision, &n.IsRejected,
			&n.FillQty, &n.FillPrice, &n.OrderQty, &n.EventTime, &n.ReceivedAt,
		)
		if err != nil {
			return nil, err
		}
		n.Side = domain.OrderSide(side)
		fills = append(fills, n)
	}
	return fills, rows.Err()
}

// Compile-time interface check.
var _ domain.FillStore = (*FillStore)(nil)
