package registry

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiregate/screening/internal/domain"
)

func newTestRegistry(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, 30*time.Second), mr
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	assert.Equal(t, "h1", mustGet(t, mr, "session:conn:s1"))

	require.NoError(t, reg.Release(ctx, "s1", "h1"))
	assert.False(t, mr.Exists("session:conn:s1"))
}

func TestAcquireHeldSessionIsBusy(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	err := reg.Acquire(ctx, "s1", "h2")
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
}

func TestReacquireOwnLeaseRefreshes(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	mr.FastForward(20 * time.Second)
	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	mr.FastForward(20 * time.Second)
	assert.True(t, mr.Exists("session:conn:s1"), "re-acquire reset the TTL")
}

func TestStealReportsDisplacedHolder(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	prev, err := reg.Steal(ctx, "s1", "h2")
	require.NoError(t, err)
	assert.Equal(t, "h1", prev)
	assert.Equal(t, "h2", mustGet(t, mr, "session:conn:s1"))

	prev, err = reg.Steal(ctx, "free", "h3")
	require.NoError(t, err)
	assert.Empty(t, prev, "stealing a free session displaces nobody")
}

func TestReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	require.NoError(t, reg.Release(ctx, "s1", "other"))
	assert.Equal(t, "h1", mustGet(t, mr, "session:conn:s1"), "a stale holder cannot free the lease")
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	mr.FastForward(20 * time.Second)
	require.NoError(t, reg.Refresh(ctx, "s1", "h1"))
	mr.FastForward(20 * time.Second)
	assert.True(t, mr.Exists("session:conn:s1"))

	assert.ErrorIs(t, reg.Refresh(ctx, "s1", "h2"), domain.ErrSessionBusy)
	assert.ErrorIs(t, reg.Refresh(ctx, "missing", "h1"), domain.ErrNotFound)
}

func TestLeaseExpiresWithoutRefresh(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Acquire(ctx, "s1", "h1"))
	mr.FastForward(31 * time.Second)
	require.NoError(t, reg.Acquire(ctx, "s1", "h2"), "a crashed holder's lease frees itself")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
