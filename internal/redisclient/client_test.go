package redisclient

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveHoldScript),
		releaseScript: redis.NewScript(releaseHoldScript),
		consumeScript: redis.NewScript(consumeHoldScript),
	}, mr
}

func TestReserveHoldUnmirroredLine(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	ok, err := client.ReserveHold(ctx, 42, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMirrorMiss)
}

func TestConsumeHoldDoesNotMaterializeMirror(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	// A consume racing ahead of the first sync must not plant a zeroed
	// entry that later reads would take as a definitive empty line.
	require.NoError(t, client.ConsumeHold(ctx, 42, 1))
	assert.False(t, mr.Exists("stockline:42"))

	ok, err := client.ReserveHold(ctx, 42, 1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMirrorMiss)
}

func TestReleaseHoldDoesNotMaterializeMirror(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.ReleaseHold(ctx, 42, 1))
	assert.False(t, mr.Exists("stockline:42"))
}

func TestInitStockLineSeedsMirror(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InitStockLine(ctx, 7, 5, 2))

	onHand, held, err := client.GetStockLine(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, onHand)
	assert.Equal(t, 2, held)

	ok, err := client.ReserveHold(ctx, 7, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHoldLifecycle(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.InitStockLine(ctx, 7, 5, 0))

	ok, err := client.ReserveHold(ctx, 7, 3)
	require.NoError(t, err)
	require.True(t, ok)

	// Only 2 remain available; a definitive rejection, not a miss.
	ok, err = client.ReserveHold(ctx, 7, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.ConsumeHold(ctx, 7, 3))
	onHand, held, err := client.GetStockLine(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, onHand)
	assert.Equal(t, 0, held)

	ok, err = client.ReserveHold(ctx, 7, 2)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, client.ReleaseHold(ctx, 7, 2))
	_, held, err = client.GetStockLine(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, held)
}
