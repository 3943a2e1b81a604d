package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/pkg/carrier"
)

func TestRedis_AcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	l := lock.NewRedis(mr.Addr(), time.Minute, 0)
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()

	require.NoError(t, l.Ping(ctx))

	release, err := l.Acquire(ctx, lock.OrderKey("1001"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("courierhub:lock:order:1001"))

	_, err = l.Acquire(ctx, lock.OrderKey("1001"))
	assert.True(t, errors.Is(err, carrier.ErrConcurrencyConflict))

	release()
	assert.False(t, mr.Exists("courierhub:lock:order:1001"))

	again, err := l.Acquire(ctx, lock.OrderKey("1001"))
	require.NoError(t, err)
	again()
}

func TestRedis_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	l := lock.NewRedis(mr.Addr(), time.Second, 0)
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "k")
	require.NoError(t, err, "expired lock can be taken over")

	stale()
	assert.True(t, mr.Exists("courierhub:lock:k"), "stale holder must not delete the new lock")

	fresh()
	assert.False(t, mr.Exists("courierhub:lock:k"))
}

func TestRedis_WaitsForRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	l := lock.NewRedis(mr.Addr(), time.Minute, time.Second)
	t.Cleanup(func() { _ = l.Close() })
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	next, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	next()
}

func TestRedis_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	l := lock.NewRedis(mr.Addr(), time.Minute, 0)
	t.Cleanup(func() { _ = l.Close() })
	mr.Close()

	_, err := l.Acquire(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis lock")
}
