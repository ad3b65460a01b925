package future

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaiter struct {
	notified atomic.Int32
}

func (w *countingWaiter) OnFutureCompleted() {
	w.notified.Add(1)
}

func TestCompleteAndGet(t *testing.T) {
	f := New[int]()

	require.NoError(t, f.Complete(42))

	value, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.True(t, f.IsDone())
	assert.False(t, f.IsCompletedExceptionally())
}

func TestCompleteExceptionally(t *testing.T) {
	f := New[int]()
	cause := errors.New("boom")

	require.NoError(t, f.CompleteExceptionally("something failed", cause))

	_, err := f.Get()
	require.Error(t, err)

	var completionErr *CompletionError
	require.ErrorAs(t, err, &completionErr)
	assert.Equal(t, "something failed", completionErr.Message)
	assert.ErrorIs(t, err, cause)

	exception, ok := f.Exception()
	assert.True(t, ok)
	assert.Equal(t, cause, exception)
}

func TestDoubleCompleteFails(t *testing.T) {
	f := New[int]()

	require.NoError(t, f.Complete(1))
	assert.ErrorIs(t, f.Complete(2), ErrAlreadyCompleted)
	assert.ErrorIs(t, f.CompleteExceptionally("late", nil), ErrAlreadyCompleted)

	value, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, value)
}

func TestConcurrentCompleteHasOneWinner(t *testing.T) {
	for round := 0; round < 100; round++ {
		f := New[int]()

		var failures atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(value int) {
				defer wg.Done()
				if err := f.Complete(value); err != nil {
					failures.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), failures.Load())
		assert.True(t, f.IsDone())
	}
}

func TestWaitersNotifiedExactlyOnce(t *testing.T) {
	f := New[int]()

	waiters := make([]*countingWaiter, 10)
	for i := range waiters {
		waiters[i] = &countingWaiter{}
		assert.True(t, f.Block(waiters[i]))
	}

	require.NoError(t, f.Complete(7))

	for _, w := range waiters {
		assert.Equal(t, int32(1), w.notified.Load())
	}
}

func TestLateWaiterStillNotified(t *testing.T) {
	f := New[int]()
	require.NoError(t, f.Complete(7))

	w := &countingWaiter{}
	pending := f.Block(w)

	assert.False(t, pending)
	assert.Equal(t, int32(1), w.notified.Load())
}

func TestWaiterOverflowQueue(t *testing.T) {
	f := New[int]()

	count := blockedTaskCapacity + 8
	waiters := make([]*countingWaiter, count)
	for i := range waiters {
		waiters[i] = &countingWaiter{}
		f.Block(waiters[i])
	}

	require.NoError(t, f.Complete(1))

	for i, w := range waiters {
		assert.Equal(t, int32(1), w.notified.Load(), "waiter %d", i)
	}
}

func TestGetTimeout(t *testing.T) {
	f := New[int]()

	_, err := f.GetTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGetUnblocksOnComplete(t *testing.T) {
	f := New[int]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Complete(9)
	}()

	value, err := f.GetTimeout(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 9, value)
}

func TestCancelUnsupported(t *testing.T) {
	f := New[int]()
	assert.ErrorIs(t, f.Cancel(), errors.ErrUnsupported)
	assert.False(t, f.IsCancelled())
}

func TestCloseDrainsWaitersAndIsReusable(t *testing.T) {
	f := New[int]()

	w := &countingWaiter{}
	f.Block(w)

	assert.True(t, f.Close())
	assert.Equal(t, int32(1), w.notified.Load())
	assert.True(t, f.IsClosed())
	assert.False(t, f.Close())

	f.SetAwaitingResult()
	assert.True(t, f.IsAwaitingResult())

	require.NoError(t, f.Complete(3))
	value, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 3, value)
}

func TestCompleteAfterCloseFails(t *testing.T) {
	f := New[int]()
	f.Close()

	assert.ErrorIs(t, f.Complete(1), ErrAlreadyCompleted)
}

func TestGetObservesClose(t *testing.T) {
	f := New[int]()

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Close()
	}()

	_, err := f.GetTimeout(5 * time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJoinReturnsValue(t *testing.T) {
	f := New[string]()
	require.NoError(t, f.Complete("done"))
	assert.Equal(t, "done", f.Join())
}

func TestJoinPanicsOnFailure(t *testing.T) {
	f := New[string]()
	require.NoError(t, f.CompleteExceptionally("broken", errors.New("cause")))

	assert.Panics(t, func() {
		f.Join()
	})
}

func TestWorkerThreadMayNotBlock(t *testing.T) {
	if !workerDetectionSupported {
		t.Skip("worker thread detection is not supported on this platform")
	}

	f := New[int]()

	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		deregister := RegisterWorkerThread()
		defer deregister()

		_, err := f.Get()
		errCh <- err
	}()

	assert.ErrorIs(t, <-errCh, ErrBlockingNotPermitted)
}

func TestNonWorkerThreadMayBlock(t *testing.T) {
	f := New[int]()
	require.NoError(t, f.Complete(5))

	value, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, value)
}

func TestConcurrentWaitersAndCompletion(t *testing.T) {
	f := New[int]()

	const waiterCount = 100
	waiters := make([]*countingWaiter, waiterCount)

	var wg sync.WaitGroup
	for i := 0; i < waiterCount; i++ {
		waiters[i] = &countingWaiter{}
		wg.Add(1)
		go func(w Waiter) {
			defer wg.Done()
			f.Block(w)
		}(waiters[i])
	}

	go f.Complete(1)
	wg.Wait()

	// Every waiter is eventually notified exactly once, whether it was
	// enqueued before or after the completion published.
	deadline := time.Now().Add(5 * time.Second)
	for i, w := range waiters {
		for w.notified.Load() == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("waiter %d was never notified", i)
			}
			runtime.Gosched()
		}
	}
	time.Sleep(10 * time.Millisecond)
	for i, w := range waiters {
		assert.Equal(t, int32(1), w.notified.Load(), "waiter %d", i)
	}
}

func TestRingQueueOfferPoll(t *testing.T) {
	r := newWaiterRing(4)

	w1, w2 := &countingWaiter{}, &countingWaiter{}
	assert.True(t, r.offer(w1))
	assert.True(t, r.offer(w2))

	assert.Same(t, Waiter(w1), r.poll())
	assert.Same(t, Waiter(w2), r.poll())
	assert.Nil(t, r.poll())
}

func TestRingQueueFull(t *testing.T) {
	r := newWaiterRing(4)

	for i := 0; i < 4; i++ {
		assert.True(t, r.offer(&countingWaiter{}))
	}
	assert.False(t, r.offer(&countingWaiter{}))

	assert.NotNil(t, r.poll())
	assert.True(t, r.offer(&countingWaiter{}))
}

func TestLinkedQueueOrder(t *testing.T) {
	q := newWaiterQueue()
	assert.Nil(t, q.poll())

	waiters := make([]*countingWaiter, 8)
	for i := range waiters {
		waiters[i] = &countingWaiter{}
		q.add(waiters[i])
	}

	for i := range waiters {
		assert.Same(t, Waiter(waiters[i]), q.poll(), "element %d", i)
	}
	assert.Nil(t, q.poll())
}

func ExampleFuture() {
	f := New[string]()

	go func() {
		f.Complete("result")
	}()

	value, _ := f.Get()
	fmt.Println(value)
	// Output: result
}
