package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/idempotency"
)

var eventColumns = []string{"event_key", "event_name", "category", "action", "label", "value", "properties", "user_id", "session_id", "ts_epoch"}

type Writer struct {
	db *DB
}

func NewWriter(db *DB) *Writer { return &Writer{db: db} }

// InsertBatch inserts events with ON CONFLICT DO NOTHING so replays of the
// same event are idempotent.
func (w *Writer) InsertBatch(ctx context.Context, items []domain.Event) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	sql, args := buildInsert(items)
	ct, err := w.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func buildInsert(items []domain.Event) (string, []any) {
	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*len(eventColumns))

	argi := 1
	next := func(v any, cast string) string {
		args = append(args, v)
		ph := fmt.Sprintf("$%d%s", argi, cast)
		argi++
		return ph
	}

	for _, ev := range items {
		key, _ := idempotency.DeriveKey(ev)
		ph := make([]string, 0, len(eventColumns))

		ph = append(ph, next(key, ""))
		ph = append(ph, next(ev.Name, ""))
		ph = append(ph, next(nullable(ev.Category), ""))
		ph = append(ph, next(nullable(ev.Action), ""))
		ph = append(ph, next(nullable(ev.Label), ""))

		if ev.Value == nil {
			ph = append(ph, next(nil, ""))
		} else {
			ph = append(ph, next(*ev.Value, ""))
		}

		// properties JSONB (nil or JSON string)
		if len(ev.Properties) == 0 {
			ph = append(ph, next(nil, "::jsonb"))
		} else {
			b, _ := json.Marshal(ev.Properties)
			ph = append(ph, next(string(b), "::jsonb"))
		}

		ph = append(ph, next(nullable(ev.UserID), ""))
		ph = append(ph, next(ev.SessionID, ""))
		ph = append(ph, next(ev.Timestamp.Unix(), ""))

		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sql := "INSERT INTO analytics_events (" + strings.Join(eventColumns, ",") + ") VALUES " +
		strings.Join(placeholders, ",") +
		" ON CONFLICT DO NOTHING"
	return sql, args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
