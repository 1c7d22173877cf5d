package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLockIsExclusive(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	first := NewLocker(client, "resource:wlt_1:/wallets", "holder-1")
	second := NewLocker(client, "resource:wlt_1:/wallets", "holder-2")

	require.NoError(t, first.Lock(ctx, time.Minute))
	err := second.Lock(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestLockReacquiredAfterExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	first := NewLocker(client, "resource:wlt_1:/wallets", "holder-1")
	require.NoError(t, first.Lock(ctx, time.Second))

	mr.FastForward(2 * time.Second)

	second := NewLocker(client, "resource:wlt_1:/wallets", "holder-2")
	assert.NoError(t, second.Lock(ctx, time.Minute))
}

func TestUnlockOnlyByHolder(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "resource:wlt_2:/kyc", "holder-1")
	require.NoError(t, holder.Lock(ctx, time.Minute))

	intruder := NewLocker(client, "resource:wlt_2:/kyc", "someone-else")
	assert.Error(t, intruder.Unlock(ctx))
	assert.NoError(t, holder.Unlock(ctx))

	held, err := holder.IsHeld(ctx)
	assert.NoError(t, err)
	assert.False(t, held)
}

func TestForceRelease(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	holder := NewLocker(client, "resource:wlt_3:/wallets", "crashed-holder")
	require.NoError(t, holder.Lock(ctx, time.Hour))

	sweeper := NewLocker(client, "resource:wlt_3:/wallets", "sweeper")
	require.NoError(t, sweeper.ForceRelease(ctx))

	assert.NoError(t, sweeper.Lock(ctx, time.Minute))
}
