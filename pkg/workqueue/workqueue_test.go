package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerKeyOrderInline(t *testing.T) {
	q := New(Config{Workers: 1})

	var mu sync.Mutex
	var order []string
	record := func(s string) Task {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
			return nil
		}
	}

	for i := 0; i < 3; i++ {
		_, err := q.Submit("a", record(fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
		_, err = q.Submit("b", record(fmt.Sprintf("b%d", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 6, q.Depth())

	ran := q.RunFor(50 * time.Millisecond)
	assert.Equal(t, 6, ran)
	assert.Equal(t, 0, q.Depth())

	// Lanes are served round robin.
	assert.Equal(t, []string{"a0", "b0", "a1", "b1", "a2", "b2"}, order)
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	q := New(Config{Workers: 4})
	q.Start()
	defer q.Stop()

	var active, maxActive int32
	var tickets []*Ticket
	for i := 0; i < 20; i++ {
		tk, err := q.Submit("c1", func(context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, tk := range tickets {
		require.NoError(t, tk.Wait(ctx))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestIndependentKeysRunInParallel(t *testing.T) {
	q := New(Config{Workers: 2})
	q.Start()
	defer q.Stop()

	release := make(chan struct{})
	started := make(chan string, 2)
	block := func(key string) Task {
		return func(context.Context) error {
			started <- key
			<-release
			return nil
		}
	}

	a, err := q.Submit("a", block("a"))
	require.NoError(t, err)
	b, err := q.Submit("b", block("b"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("second key did not start while first was blocked")
		}
	}
	assert.Equal(t, 2, q.Running())
	close(release)

	ctx := context.Background()
	assert.NoError(t, a.Wait(ctx))
	assert.NoError(t, b.Wait(ctx))
}

func TestCallbackExactlyOnce(t *testing.T) {
	q := New(Config{})
	boom := errors.New("boom")

	var calls int32
	var got error
	_, err := q.SubmitWithCallback("c1", func(context.Context) error { return boom }, func(err error) {
		atomic.AddInt32(&calls, 1)
		got = err
	})
	require.NoError(t, err)

	q.RunFor(20 * time.Millisecond)
	q.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.ErrorIs(t, got, boom)
}

func TestCancelQueuedTask(t *testing.T) {
	q := New(Config{})

	var ran bool
	var cbErr error
	tk, err := q.SubmitWithCallback("c1", func(context.Context) error { ran = true; return nil }, func(err error) { cbErr = err })
	require.NoError(t, err)

	assert.True(t, tk.Cancel())
	assert.False(t, tk.Cancel())
	assert.Equal(t, 0, q.Depth())

	<-tk.Done()
	assert.True(t, errors.Is(tk.Err(), types.ErrCancelled))
	assert.True(t, errors.Is(cbErr, types.ErrCancelled))

	assert.False(t, q.RunOne())
	assert.False(t, ran)
}

func TestCancelDoesNotPreempt(t *testing.T) {
	q := New(Config{Workers: 1})
	q.Start()
	defer q.Stop()

	entered := make(chan struct{})
	release := make(chan struct{})
	tk, err := q.Submit("c1", func(context.Context) error {
		close(entered)
		<-release
		return nil
	})
	require.NoError(t, err)

	<-entered
	assert.False(t, tk.Cancel())
	close(release)
	assert.NoError(t, tk.Wait(context.Background()))
}

func TestRunUntil(t *testing.T) {
	q := New(Config{})

	var count int32
	for i := 0; i < 5; i++ {
		_, err := q.Submit("c1", func(context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok := q.RunUntil(ctx, func() bool { return atomic.LoadInt32(&count) == 3 })
	assert.True(t, ok)
	assert.Equal(t, 2, q.Depth())

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	assert.False(t, q.RunUntil(short, func() bool { return atomic.LoadInt32(&count) == 10 }))
	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
}

func TestStopFailsPending(t *testing.T) {
	q := New(Config{})
	tk, err := q.Submit("c1", func(context.Context) error { return nil })
	require.NoError(t, err)

	q.Stop()

	assert.ErrorIs(t, tk.Wait(context.Background()), ErrClosed)
	_, err = q.Submit("c1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPanicBecomesError(t *testing.T) {
	q := New(Config{})
	tk, err := q.Submit("c1", func(context.Context) error { panic("bad hook") })
	require.NoError(t, err)

	q.RunOne()
	err = tk.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad hook")
}

func TestDoContextCancelledWhileQueued(t *testing.T) {
	q := New(Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := q.Do(ctx, "c1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, q.Depth())
}

func TestDrain(t *testing.T) {
	q := New(Config{Workers: 2})
	q.Start()
	defer q.Stop()

	for i := 0; i < 10; i++ {
		_, err := q.Submit(fmt.Sprintf("c%d", i%3), func(context.Context) error {
			time.Sleep(time.Millisecond)
			return nil
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 0, q.Running())
}
