package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/courierhub/internal/lock"
	"github.com/tournevent/courierhub/pkg/carrier"
)

func TestLocal_ExclusivePerKey(t *testing.T) {
	l := lock.NewLocal(0)
	ctx := context.Background()

	release, err := l.Acquire(ctx, lock.OrderKey("1"))
	require.NoError(t, err)
	assert.True(t, l.Held("order:1"))

	_, err = l.Acquire(ctx, lock.OrderKey("1"))
	assert.True(t, errors.Is(err, carrier.ErrConcurrencyConflict))

	other, err := l.Acquire(ctx, lock.OrderKey("2"))
	require.NoError(t, err, "different keys do not contend")
	other()

	release()
	release() // second call is ignored
	assert.False(t, l.Held("order:1"))

	again, err := l.Acquire(ctx, lock.OrderKey("1"))
	require.NoError(t, err)
	again()
}

func TestLocal_WaitsForRelease(t *testing.T) {
	l := lock.NewLocal(time.Second)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	next, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	next()
}

func TestLocal_WaitTimeout(t *testing.T) {
	l := lock.NewLocal(20 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = l.Acquire(ctx, "k")
	assert.True(t, errors.Is(err, carrier.ErrConcurrencyConflict))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := lock.NewLocal(time.Minute)

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLocal_SerializesConcurrentHolders(t *testing.T) {
	l := lock.NewLocal(5 * time.Second)
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, l.Held("k"))
}
