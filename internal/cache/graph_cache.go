package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"investigraph/internal/graph"
)

// GraphCache keeps rendered graph views out of MySQL on repeat reads. Views
// only change on reprocessing, so invalidation happens there and on delete.
type GraphCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewGraphCache(client *redisv9.Client, ttl time.Duration) *GraphCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GraphCache{client: client, ttl: ttl}
}

func (c *GraphCache) GetView(ctx context.Context, userID, documentID uint) (*graph.View, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID, documentID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get graph view failed: %w", err)
	}

	var view graph.View
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached graph view failed: %w", err)
	}
	return &view, true, nil
}

func (c *GraphCache) SetView(ctx context.Context, userID, documentID uint, view *graph.View) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal graph view cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID, documentID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set graph view failed: %w", err)
	}
	return nil
}

func (c *GraphCache) DeleteView(ctx context.Context, userID, documentID uint) error {
	if err := c.client.Del(ctx, c.key(userID, documentID)).Err(); err != nil {
		return fmt.Errorf("redis delete graph view failed: %w", err)
	}
	return nil
}

func (c *GraphCache) key(userID, documentID uint) string {
	return fmt.Sprintf("graph:view:%d:%d", userID, documentID)
}
