package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// IngestLease serializes ingestion runs per document across processes with a
// SETNX lock. The TTL bounds how long a crashed worker can block a document.
type IngestLease struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewIngestLease(client *redisv9.Client, ttl time.Duration) *IngestLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IngestLease{client: client, ttl: ttl}
}

func (l *IngestLease) Acquire(ctx context.Context, documentID uint) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(documentID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis acquire ingest lease failed: %w", err)
	}
	return ok, nil
}

// Held reports whether an ingestion run currently holds the document's lease.
func (l *IngestLease) Held(ctx context.Context, documentID uint) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check ingest lease failed: %w", err)
	}
	return n > 0, nil
}

func (l *IngestLease) Release(ctx context.Context, documentID uint) error {
	if err := l.client.Del(ctx, l.key(documentID)).Err(); err != nil {
		return fmt.Errorf("redis release ingest lease failed: %w", err)
	}
	return nil
}

func (l *IngestLease) key(documentID uint) string {
	return fmt.Sprintf("ingest:lease:%d", documentID)
}
