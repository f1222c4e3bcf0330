package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMirrorMiss signals that a stock line has no mirror entry yet, so
// the caller must fall back to the database for the availability check.
var ErrMirrorMiss = errors.New("stock line not mirrored")

//go:embed scripts/reserve_hold.lua
var reserveHoldScript string

//go:embed scripts/release_hold.lua
var releaseHoldScript string

//go:embed scripts/consume_hold.lua
var consumeHoldScript string

// Client mirrors stock-line availability in Redis so obviously-doomed
// reservations can be rejected without touching Postgres. Postgres
// remains the system of record; the mirror is reconciled on every
// authoritative write.
type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	consumeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveHoldScript),
		releaseScript: redis.NewScript(releaseHoldScript),
		consumeScript: redis.NewScript(consumeHoldScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockLineKey(stockLineID int64) string {
	return fmt.Sprintf("stockline:%d", stockLineID)
}

// ReserveHold atomically places a hold on the mirrored stock line.
// Returns false when the mirror shows insufficient availability.
func (c *Client) ReserveHold(ctx context.Context, stockLineID int64, quantity int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{stockLineKey(stockLineID)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("reserve hold script failed: %w", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	if success == -1 {
		return false, ErrMirrorMiss
	}

	return success == 1, nil
}

// ReleaseHold atomically returns a held quantity to the mirrored pool.
// Releasing against an unmirrored line is a no-op; the next sync seeds
// the correct counters from the database.
func (c *Client) ReleaseHold(ctx context.Context, stockLineID int64, quantity int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{stockLineKey(stockLineID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release hold script failed: %w", err)
	}
	return nil
}

// ConsumeHold atomically converts a hold into an on-hand decrement.
// Consuming against an unmirrored line is a no-op; seeding the mirror
// is left to SyncMirror so a consume never plants a zeroed entry.
func (c *Client) ConsumeHold(ctx context.Context, stockLineID int64, quantity int) error {
	_, err := c.consumeScript.Run(ctx, c.rdb, []string{stockLineKey(stockLineID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("consume hold script failed: %w", err)
	}
	return nil
}

// InitStockLine seeds the mirror for a stock line
func (c *Client) InitStockLine(ctx context.Context, stockLineID int64, onHand, held int) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, stockLineKey(stockLineID), "on_hand", onHand)
	pipe.HSet(ctx, stockLineKey(stockLineID), "held", held)

	_, err := pipe.Exec(ctx)
	return err
}

// GetStockLine retrieves the mirrored counters for a stock line
func (c *Client) GetStockLine(ctx context.Context, stockLineID int64) (onHand, held int, err error) {
	result, err := c.rdb.HGetAll(ctx, stockLineKey(stockLineID)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, fmt.Errorf("stock line mirror not found: %d", stockLineID)
	}

	var onHandInt, heldInt int
	fmt.Sscanf(result["on_hand"], "%d", &onHandInt)
	fmt.Sscanf(result["held"], "%d", &heldInt)

	return onHandInt, heldInt, nil
}

// AcquireSaleLock serializes mutations against a single sale. Two
// concurrent AddItem calls on the same cart must not lose a totals
// recalculation, so callers take this lock before touching the sale.
func (c *Client) AcquireSaleLock(ctx context.Context, saleID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:sale:%d", saleID), "1", ttl).Result()
}

// ReleaseSaleLock releases the per-sale mutation lock
func (c *Client) ReleaseSaleLock(ctx context.Context, saleID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:sale:%d", saleID)).Err()
}
