// Package cache provides a redis-backed read-through cache for requirement
// and document listings, plus the scope-keyed invalidation hook mutations
// call after commit.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reqgraph/api/internal/store"
)

// Client wraps a redis connection with the cache key scheme.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to redis and verifies the connection.
func New(redisURL string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient builds a cache over an existing redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{client: client, ttl: ttl}
}

func requirementListKey(tenant, project string) string {
	return "req:list:" + tenant + ":" + project
}

func requirementCountKey(tenant, project string) string {
	return "req:count:" + tenant + ":" + project
}

func documentListKey(tenant, project string) string {
	return "doc:list:" + tenant + ":" + project
}

// GetRequirementList returns the cached plain listing for a scope, if any.
func (c *Client) GetRequirementList(ctx context.Context, tenant, project string) ([]store.Requirement, bool) {
	payload, err := c.client.Get(ctx, requirementListKey(tenant, project)).Result()
	if err != nil {
		return nil, false
	}
	var items []store.Requirement
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *Client) SetRequirementList(ctx context.Context, tenant, project string, items []store.Requirement) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal requirement list: %w", err)
	}
	if err := c.client.Set(ctx, requirementListKey(tenant, project), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache requirement list: %w", err)
	}
	return nil
}

func (c *Client) GetRequirementCount(ctx context.Context, tenant, project string) (int, bool) {
	count, err := c.client.Get(ctx, requirementCountKey(tenant, project)).Int()
	if err != nil {
		return 0, false
	}
	return count, true
}

func (c *Client) SetRequirementCount(ctx context.Context, tenant, project string, count int) error {
	if err := c.client.Set(ctx, requirementCountKey(tenant, project), count, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache requirement count: %w", err)
	}
	return nil
}

func (c *Client) GetDocumentList(ctx context.Context, tenant, project string) ([]store.Document, bool) {
	payload, err := c.client.Get(ctx, documentListKey(tenant, project)).Result()
	if err != nil {
		return nil, false
	}
	var items []store.Document
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *Client) SetDocumentList(ctx context.Context, tenant, project string, items []store.Document) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal document list: %w", err)
	}
	if err := c.client.Set(ctx, documentListKey(tenant, project), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache document list: %w", err)
	}
	return nil
}

// InvalidateRequirements drops the requirement list and count entries for a
// tenant+project scope.
func (c *Client) InvalidateRequirements(ctx context.Context, tenant, project string) error {
	err := c.client.Del(ctx,
		requirementListKey(tenant, project),
		requirementCountKey(tenant, project),
	).Err()
	if err != nil {
		return fmt.Errorf("invalidate requirement caches: %w", err)
	}
	return nil
}

// InvalidateDocuments drops the document list entry for a tenant+project scope.
func (c *Client) InvalidateDocuments(ctx context.Context, tenant, project string) error {
	if err := c.client.Del(ctx, documentListKey(tenant, project)).Err(); err != nil {
		return fmt.Errorf("invalidate document cache: %w", err)
	}
	return nil
}

// Ping checks if redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
