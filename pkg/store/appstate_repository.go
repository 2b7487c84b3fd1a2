package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppStateRepository tracks the append-only log of committed block
// heights and the app_hash pkg/abciapp computed for each.
type AppStateRepository struct{}

func NewAppStateRepository() *AppStateRepository { return &AppStateRepository{} }

// Head returns the most recently appended (height, hash) pair, if any.
func (r *AppStateRepository) Head(ctx context.Context, q Querier) (int64, []byte, error) {
	var height int64
	var hash []byte
	err := q.QueryRowContext(ctx,
		"SELECT block_height, app_hash FROM app_state ORDER BY created_at DESC LIMIT 1").
		Scan(&height, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("store: app_state head: %w", err)
	}
	return height, hash, nil
}

// Append records a new (height, hash) pair at commit time.
func (r *AppStateRepository) Append(ctx context.Context, q Querier, height int64, hash []byte, now time.Time) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO app_state (block_height, app_hash, created_at) VALUES ($1, $2, $3)",
		height, hash, now.UTC())
	if err != nil {
		return fmt.Errorf("store: app_state append: %w", err)
	}
	return nil
}
