package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator checks and records whether a report has been sent recently.
type Deduplicator struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Deduplicator backed by Redis. Recorded keys expire after ttl;
// a non-positive ttl keeps them forever.
func New(redisURL, password string, ttl time.Duration, logger *slog.Logger) (*Deduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &Deduplicator{rdb: rdb, ttl: max(ttl, 0), logger: logger}, nil
}

// Close shuts down the Redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

// Ping reports whether Redis is reachable.
func (d *Deduplicator) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

// AlreadySent returns true if key was recorded within the TTL window. Redis
// errors are treated as "not sent" so a report is never lost to an outage.
func (d *Deduplicator) AlreadySent(ctx context.Context, key string) bool {
	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		d.logger.Warn("dedup lookup failed", "key", key, "error", err)
		return false
	}
	return exists > 0
}

// Record marks key as sent for the configured TTL.
func (d *Deduplicator) Record(ctx context.Context, key string) {
	if err := d.rdb.Set(ctx, key, time.Now().Unix(), d.ttl).Err(); err != nil {
		d.logger.Warn("dedup record failed", "key", key, "error", err)
	}
}
