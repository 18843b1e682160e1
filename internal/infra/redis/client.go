package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarklabs/chainrisk/internal/core/domain"
)

// Client wraps Redis operations for the sanctions mirror and ingest locks.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks the Redis connection.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func sanctionsSetKey(chainID domain.ChainID) string {
	return fmt.Sprintf("sanctions:%s", chainID)
}

func sanctionsMetaKey(chainID domain.ChainID, address string) string {
	return fmt.Sprintf("sanctions:%s:%s", chainID, address)
}

func ingestLockKey(chainID domain.ChainID, address string) string {
	return fmt.Sprintf("ingest:%s:%s", chainID, address)
}

// AddListing mirrors a sanctions list entry.
func (c *Client) AddListing(
	ctx context.Context,
	chainID domain.ChainID,
	address, listName string,
	effectiveDate time.Time,
) error {
	if err := c.rdb.SAdd(ctx, sanctionsSetKey(chainID), address).Err(); err != nil {
		return fmt.Errorf("sadd failed: %w", err)
	}
	meta := map[string]any{
		"list_name":      listName,
		"effective_date": effectiveDate.UTC().Format(time.RFC3339),
	}
	if err := c.rdb.HSet(ctx, sanctionsMetaKey(chainID, address), meta).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// RemoveListing deletes a mirrored sanctions entry.
func (c *Client) RemoveListing(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) error {
	if err := c.rdb.SRem(ctx, sanctionsSetKey(chainID), address).Err(); err != nil {
		return fmt.Errorf("srem failed: %w", err)
	}
	return c.rdb.Del(ctx, sanctionsMetaKey(chainID, address)).Err()
}

// LookupListing checks whether an address is on the mirrored sanctions list.
// found=false means the address is not listed.
func (c *Client) LookupListing(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) (listName string, effectiveDate time.Time, found bool, err error) {
	member, err := c.rdb.SIsMember(ctx, sanctionsSetKey(chainID), address).Result()
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("sismember failed: %w", err)
	}
	if !member {
		return "", time.Time{}, false, nil
	}

	meta, err := c.rdb.HGetAll(ctx, sanctionsMetaKey(chainID, address)).Result()
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("hgetall failed: %w", err)
	}

	listName = meta["list_name"]
	if raw, ok := meta["effective_date"]; ok {
		if ts, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			effectiveDate = ts
		}
	}
	return listName, effectiveDate, true, nil
}

// ListedAddresses returns every mirrored listing for a chain.
func (c *Client) ListedAddresses(
	ctx context.Context,
	chainID domain.ChainID,
) ([]string, error) {
	return c.rdb.SMembers(ctx, sanctionsSetKey(chainID)).Result()
}

// AcquireIngestLock attempts to claim an address for history ingestion so
// replicas don't page the same history concurrently.
func (c *Client) AcquireIngestLock(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, ingestLockKey(chainID, address), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseIngestLock releases an ingestion claim.
func (c *Client) ReleaseIngestLock(
	ctx context.Context,
	chainID domain.ChainID,
	address string,
) error {
	return c.rdb.Del(ctx, ingestLockKey(chainID, address)).Err()
}
