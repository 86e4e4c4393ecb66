package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"scanwedge/internal/scanner"
)

// RedisSink publishes scans to <prefix>:scans and keeps the newest in
// the list <prefix>:recent.
type RedisSink struct {
	rdb    *redis.Client
	prefix string
	limit  int64
}

// NewRedisSink connects lazily with opts. recentLimit caps the recent
// list; 0 skips the list and only publishes.
func NewRedisSink(opts *redis.Options, prefix string, recentLimit int) (*RedisSink, error) {
	if prefix == "" {
		return nil, errors.New("redis sink: prefix cannot be empty")
	}
	return &RedisSink{
		rdb:    redis.NewClient(opts),
		prefix: prefix,
		limit:  int64(recentLimit),
	}, nil
}

// ScansChannel is the pub/sub channel scans are published on.
func (s *RedisSink) ScansChannel() string { return s.prefix + ":scans" }

// RecentKey is the list holding the newest scans, newest first.
func (s *RedisSink) RecentKey() string { return s.prefix + ":recent" }

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Ping verifies connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Deliver implements Sink.
func (s *RedisSink) Deliver(ctx context.Context, r scanner.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal scan: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if s.limit > 0 {
			pipe.LPush(ctx, s.RecentKey(), payload)
			pipe.LTrim(ctx, s.RecentKey(), 0, s.limit-1)
		}
		pipe.Publish(ctx, s.ScansChannel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish scan: %w", err)
	}
	return nil
}

// Recent returns up to n scans from the recent list, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int) ([]scanner.Result, error) {
	if n <= 0 {
		return []scanner.Result{}, nil
	}
	items, err := s.rdb.LRange(ctx, s.RecentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent scans: %w", err)
	}

	out := make([]scanner.Result, 0, len(items))
	for _, item := range items {
		var r scanner.Result
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode recent scan: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Close closes the redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
