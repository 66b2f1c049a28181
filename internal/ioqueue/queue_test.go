package ioqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4s1ght/ibfs/internal/ierrors"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	q := New(time.Second, nil)
	lease, err := q.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, lease.Expired())
	require.NoError(t, lease.Release())
}

func TestFIFOOrdering(t *testing.T) {
	q := New(5 * time.Second, nil)

	first, err := q.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := q.Acquire(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			l.Release()
		}(i)
		time.Sleep(5 * time.Millisecond) // stagger requests onto the queue in order
	}

	require.NoError(t, first.Release())
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order, "leases must be granted in request order")
}

func TestLeaseTimeoutAdvancesQueue(t *testing.T) {
	q := New(20*time.Millisecond, nil)

	stuck, err := q.Acquire(context.Background())
	require.NoError(t, err)

	next, err := q.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, next.Release())

	time.Sleep(40 * time.Millisecond)
	assert.True(t, stuck.Expired())

	err = stuck.Release()
	assert.True(t, ierrors.Is(err, ierrors.LeaseTimedOut))
}

func TestReleaseIsIdempotent(t *testing.T) {
	q := New(time.Second, nil)
	lease, err := q.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release())
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	q := New(time.Second, nil)
	held, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = q.AcquireTimeout(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
