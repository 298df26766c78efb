package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SQLSink bulk-inserts audit records into the request_audit table.
type SQLSink struct {
	db *sql.DB
}

func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Flush(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	sqlStr := `INSERT INTO request_audit (
		request_id, operation, status, error_kind, duration_ms, created_at
	) VALUES`

	placeholders := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*6)
	for _, r := range records {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.RequestID,
			r.Operation,
			r.Status,
			r.ErrorKind,
			r.Duration.Milliseconds(),
			r.CreatedAt,
		)
	}
	_, err := s.db.ExecContext(ctx, sqlStr+" "+strings.Join(placeholders, ","), args...)
	if err != nil {
		return fmt.Errorf("failed inserting %d audit records: %w", len(records), err)
	}
	return nil
}

// RedisStats mirrors rolling operation counts into redis with a TTL.
type RedisStats struct {
	client *redis.Client
}

func NewRedisStats(client *redis.Client) *RedisStats {
	return &RedisStats{client: client}
}

func (r *RedisStats) SetOperationCount(ctx context.Context, operation string, count int64, ttl time.Duration) error {
	key := fmt.Sprintf("modelgate:stats:op:%s", operation)
	if err := r.client.IncrBy(ctx, key, count).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, ttl).Err()
}
