package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seojinlab/kisbot/internal/domain"
)

// CommandStore implements domain.CommandStore using PostgreSQL.
type CommandStore struct {
	pool *pgxpool.Pool
}

// NewCommandStore creates a CommandStore backed by the given connection pool.
func NewCommandStore(pool *pgxpool.Pool) *CommandStore {
	return &CommandStore{pool: pool}
}

// Record inserts one order command into the audit trail.
func (s *CommandStore) Record(ctx context.Context, cmd domain.OrderCommand) error {
	const query = `
		INSERT INTO order_commands (
			id, action, symbol, order_no, orig_no,
			price, quantity, rt_cd, message, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		cmd.ID, string(cmd.Action), cmd.Symbol, cmd.OrderNo, cmd.OrigNo,
		cmd.Price, cmd.Quantity, cmd.RtCd, cmd.Message, cmd.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record command %s: %w", cmd.ID, err)
	}
	return nil
}

// ListBefore returns commands issued strictly before the cutoff, oldest
// first.
func (s *CommandStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OrderCommand, error) {
	const query = `
		SELECT id, action, symbol, order_no, orig_no,
		       price, quantity, rt_cd, message, issued_at
		FROM order_commands
		WHERE issued_at < $1
		ORDER BY issued_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list commands: %w", err)
	}
	defer rows.Close()

	cmds, err := scanCommandRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan commands: %w", err)
	}
	return cmds, nil
}

// DeleteBefore removes commands issued strictly before the cutoff. Called
// by the archiver after a successful export.
func (s *CommandStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM order_commands WHERE issued_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete commands: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCommandRows(rows pgx.Rows) ([]domain.OrderCommand, error) {
	var cmds []domain.OrderCommand
	for rows.Next() {
		var cmd domain.OrderCommand
		var action string
		err := rows.Scan(
			&cmd.ID, &action, &cmd.Symbol, &cmd.OrderNo, &cmd.OrigNo,
			&cmd.Price, &cmd.Quantity, &cmd.RtCd, &cmd.Message, &cmd.IssuedAt,
		)
		if err != nil {
			return nil, err
		}
		cmd.Action = domain.CommandAction(action)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// Compile-time interface check.
var _ domain.CommandStore = (*CommandStore)(nil)
