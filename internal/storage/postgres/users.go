package postgres

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpsertUserTraits merges traits into the stored traits of userID.
func (db *DB) UpsertUserTraits(ctx context.Context, userID string, traits map[string]any) error {
	if traits == nil {
		traits = map[string]any{}
	}
	b, err := json.Marshal(traits)
	if err != nil {
		return fmt.Errorf("encode traits: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
INSERT INTO analytics_users (user_id, traits, updated_at) VALUES ($1, $2::jsonb, now())
ON CONFLICT (user_id) DO UPDATE SET traits = analytics_users.traits || EXCLUDED.traits, updated_at = now()`,
		userID, string(b))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", userID, err)
	}
	return nil
}
