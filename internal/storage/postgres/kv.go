package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// KV stores consent and other small values in analytics_kv.
type KV struct {
	db *DB
}

func NewKV(db *DB) *KV { return &KV{db: db} }

func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := k.db.Pool.QueryRow(ctx, `SELECT value FROM analytics_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	_, err := k.db.Pool.Exec(ctx, `
INSERT INTO analytics_kv (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (k *KV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.Pool.Exec(ctx, `DELETE FROM analytics_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (k *KV) Ready(ctx context.Context) error { return k.db.Ready(ctx) }
