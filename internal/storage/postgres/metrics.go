package postgres

import (
	"context"
	"fmt"
)

type MetricsTotals struct {
	Count          int64 `json:"count"`
	UniqueSessions int64 `json:"unique_sessions"`
	UniqueUsers    int64 `json:"unique_users"`
}

type MetricsBucket struct {
	BucketStart    int64 `json:"bucket_start"`
	Count          int64 `json:"count"`
	UniqueSessions int64 `json:"unique_sessions"`
}

// metricsFilter builds the WHERE clause shared by the stats queries.
// eventName is optional (empty string means "no filter").
func metricsFilter(eventName string, from, to int64) (string, []any) {
	cond := "WHERE ts_epoch >= $1 AND ts_epoch <= $2"
	args := []any{from, to}
	if eventName != "" {
		cond += " AND event_name=$3"
		args = append(args, eventName)
	}
	return cond, args
}

func (db *DB) QueryTotals(ctx context.Context, eventName string, from, to int64) (MetricsTotals, error) {
	var res MetricsTotals
	cond, args := metricsFilter(eventName, from, to)

	sql := "SELECT COUNT(*)::bigint, COUNT(DISTINCT session_id)::bigint, COUNT(DISTINCT user_id)::bigint FROM analytics_events " + cond
	row := db.Pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&res.Count, &res.UniqueSessions, &res.UniqueUsers); err != nil {
		return res, fmt.Errorf("scan totals: %w", err)
	}
	return res, nil
}

func (db *DB) QueryBucketsDaily(ctx context.Context, eventName string, from, to int64) ([]MetricsBucket, error) {
	cond, args := metricsFilter(eventName, from, to)

	sql := fmt.Sprintf(`
SELECT
  EXTRACT(EPOCH FROM date_trunc('day', to_timestamp(ts_epoch)))::bigint AS bucket_start,
  COUNT(*)::bigint AS cnt,
  COUNT(DISTINCT session_id)::bigint AS uniq
FROM analytics_events
%s
GROUP BY 1
ORDER BY 1 ASC`, cond)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MetricsBucket
	for rows.Next() {
		var b MetricsBucket
		if err := rows.Scan(&b.BucketStart, &b.Count, &b.UniqueSessions); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
