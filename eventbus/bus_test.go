package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchOrder(t *testing.T) {
	b := New(nil)

	var got []int
	b.On("tick", func(any) { got = append(got, 1) })
	b.On("tick", func(any) { got = append(got, 2) })
	b.On("tick", func(any) { got = append(got, 3) })

	b.Dispatch("tick", nil)

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestDispatchPayload(t *testing.T) {
	b := New(nil)

	var got any
	b.On("msg", func(e any) { got = e })
	b.Dispatch("msg", "hello")

	assert.Equal(t, "hello", got)
}

func TestWildcardIsExactName(t *testing.T) {
	b := New(nil)

	var star, exact int
	b.On("server.*", func(any) { star++ })
	b.On("server.response.created", func(any) { exact++ })

	// Dispatching the specific name never resolves the wildcard
	// subscription; publishers dispatch both names explicitly.
	b.Dispatch("server.response.created", nil)
	assert.Equal(t, 0, star)
	assert.Equal(t, 1, exact)

	b.Dispatch("server.*", nil)
	assert.Equal(t, 1, star)
	assert.Equal(t, 1, exact)
}

func TestOff(t *testing.T) {
	b := New(nil)

	var fired int
	sub := b.On("tick", func(any) { fired++ })

	b.Dispatch("tick", nil)
	b.Off(sub)
	b.Dispatch("tick", nil)
	b.Off(sub) // removing twice is a no-op

	assert.Equal(t, 1, fired)
}

func TestClear(t *testing.T) {
	b := New(nil)

	var fired int
	b.On("a", func(any) { fired++ })
	b.On("b", func(any) { fired++ })

	b.Clear()
	b.Dispatch("a", nil)
	b.Dispatch("b", nil)

	assert.Zero(t, fired)
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	b := New(nil)

	var after int
	b.On("tick", func(any) { panic("boom") })
	b.On("tick", func(any) { after++ })

	require.NotPanics(t, func() { b.Dispatch("tick", nil) })
	assert.Equal(t, 1, after)
}

func TestWaitForNext(t *testing.T) {
	b := New(nil)

	type result struct {
		event any
		err   error
	}
	done := make(chan result, 1)
	ready := make(chan struct{})

	go func() {
		close(ready)
		event, err := b.WaitForNext(context.Background(), "msg")
		done <- result{event, err}
	}()

	<-ready
	// Dispatch until the waiter has registered; WaitForNext subscribes
	// asynchronously from this goroutine's point of view.
	require.Eventually(t, func() bool {
		b.Dispatch("msg", 42)
		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Equal(t, 42, r.event)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestWaitForNextDeregistersAfterFirstFire(t *testing.T) {
	b := New(nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = b.WaitForNext(context.Background(), "msg")
	}()

	require.Eventually(t, func() bool {
		b.Dispatch("msg", nil)
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.handlers["msg"]) == 0
	}, time.Second, time.Millisecond)
	wg.Wait()
}

func TestWaitForNextContextCancelled(t *testing.T) {
	b := New(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.WaitForNext(ctx, "never")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The one-shot handler must be gone after the wait returns.
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.handlers["never"])
}
