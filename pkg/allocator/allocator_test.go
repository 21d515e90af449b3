package allocator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Minute)
}

func TestAllocator_AllocateSkipsDeadWorker(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, a.RegisterWorker(ctx, "http://dead:9000"))
	// No heartbeat for the dead worker: it has a rank entry but no hb key.
	require.NoError(t, a.Heartbeat(ctx, "http://live:9000"))
	require.NoError(t, a.RegisterWorker(ctx, "http://live:9000"))

	got, err := a.Allocate(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "http://live:9000", got)
}

func TestAllocator_AllocateNoneAvailable(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	_, err := a.Allocate(ctx, 10)
	assert.Error(t, err)
}

func TestAllocator_AllocateRespectsCapacity(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, a.RegisterWorker(ctx, "http://w:9000"))
	require.NoError(t, a.Heartbeat(ctx, "http://w:9000"))

	// capacity_limit of 1: the first allocation fills it, the second has
	// nowhere to go.
	got, err := a.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://w:9000", got)

	_, err = a.Allocate(ctx, 1)
	assert.Error(t, err)
}

func TestAllocator_ReleaseClampsAtZero(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, a.RegisterWorker(ctx, "http://w:9000"))
	require.NoError(t, a.Release(ctx, "http://w:9000"))
	require.NoError(t, a.Release(ctx, "http://w:9000"))

	load, err := a.Load(ctx, "http://w:9000")
	require.NoError(t, err)
	assert.Equal(t, 0, load)
}

func TestAllocator_AllocateThenRelease(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, a.RegisterWorker(ctx, "http://w:9000"))
	require.NoError(t, a.Heartbeat(ctx, "http://w:9000"))

	_, err := a.Allocate(ctx, 5)
	require.NoError(t, err)

	load, err := a.Load(ctx, "http://w:9000")
	require.NoError(t, err)
	assert.Equal(t, 1, load)

	require.NoError(t, a.Release(ctx, "http://w:9000"))

	load, err = a.Load(ctx, "http://w:9000")
	require.NoError(t, err)
	assert.Equal(t, 0, load)
}

func TestAllocator_Reap(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	require.NoError(t, a.RegisterWorker(ctx, "http://stale:9000"))
	require.NoError(t, a.RegisterWorker(ctx, "http://fresh:9000"))
	require.NoError(t, a.Heartbeat(ctx, "http://fresh:9000"))

	n, err := a.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = a.Load(ctx, "http://stale:9000")
	assert.Error(t, err)

	load, err := a.Load(ctx, "http://fresh:9000")
	require.NoError(t, err)
	assert.Equal(t, 0, load)
}
