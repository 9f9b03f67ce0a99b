package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "commitgate"

// RedisRecorder persists events in Redis: per-repository event lists plus an
// aggregate stats hash.
type RedisRecorder struct {
	rdb       redis.UniversalClient
	keyPrefix string

	// HistoryLimit caps each per-repository event list. Zero keeps everything.
	HistoryLimit int64
}

// NewRedisRecorder returns a recorder writing under the given key prefix.
func NewRedisRecorder(rdb redis.UniversalClient, keyPrefix string) *RedisRecorder {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisRecorder{rdb: rdb, keyPrefix: keyPrefix, HistoryLimit: 1000}
}

func (r *RedisRecorder) key(parts ...string) string {
	return r.keyPrefix + ":" + strings.Join(parts, ":")
}

// RecordVerification appends the check outcome and bumps the aggregate
// counters in one transaction.
func (r *RedisRecorder) RecordVerification(ctx context.Context, event VerificationEvent) error {
	if event.CheckedAt.IsZero() {
		event.CheckedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verification event: %w", err)
	}

	listKey := r.key("verifications", event.Repository)
	statsKey := r.key("stats", event.Repository)

	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, listKey, raw)
	if r.HistoryLimit > 0 {
		pipe.LTrim(ctx, listKey, 0, r.HistoryLimit-1)
	}
	pipe.HIncrBy(ctx, statsKey, "verifications", 1)
	if event.Verdict {
		pipe.HIncrBy(ctx, statsKey, "passed", 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	return nil
}

// RecordDecision appends the reviewer decision and bumps the matching counter.
func (r *RedisRecorder) RecordDecision(ctx context.Context, event DecisionEvent) error {
	if event.DecidedAt.IsZero() {
		event.DecidedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal decision event: %w", err)
	}

	listKey := r.key("decisions", event.Repository)
	statsKey := r.key("stats", event.Repository)

	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, listKey, raw)
	if r.HistoryLimit > 0 {
		pipe.LTrim(ctx, listKey, 0, r.HistoryLimit-1)
	}
	switch event.Decision {
	case DecisionApproved:
		pipe.HIncrBy(ctx, statsKey, "approved", 1)
	case DecisionRejected:
		pipe.HIncrBy(ctx, statsKey, "rejected", 1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// Verifications returns the most recent verification events for a repository,
// newest first.
func (r *RedisRecorder) Verifications(ctx context.Context, repository string, limit int64) ([]VerificationEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	raws, err := r.rdb.LRange(ctx, r.key("verifications", repository), 0, limit-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}

	events := make([]VerificationEvent, 0, len(raws))
	for _, raw := range raws {
		var event VerificationEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("decode verification event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Stats returns the aggregate counters for a repository. Missing counters
// read as zero.
func (r *RedisRecorder) Stats(ctx context.Context, repository string) (Stats, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key("stats", repository)).Result()
	if err != nil && err != redis.Nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}

	var stats Stats
	for field, raw := range fields {
		var value int64
		if _, err := fmt.Sscanf(raw, "%d", &value); err != nil {
			continue
		}
		switch field {
		case "verifications":
			stats.Verifications = value
		case "passed":
			stats.Passed = value
		case "approved":
			stats.Approved = value
		case "rejected":
			stats.Rejected = value
		}
	}
	return stats, nil
}

// Ping validates the Redis connection.
func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
