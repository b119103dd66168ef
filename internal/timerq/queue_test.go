package timerq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_FiresInOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	q := New(WithNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))
	defer q.Close()

	var fired []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	q.Schedule(base.Add(2*time.Minute), record("b"))
	q.Schedule(base.Add(1*time.Minute), record("a"))
	q.Schedule(base.Add(3*time.Minute), record("c"))

	mu.Lock()
	now = base.Add(2 * time.Minute)
	mu.Unlock()
	q.poke()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"a", "b"}, fired)
	mu.Unlock()
	require.Equal(t, 1, q.Pending())
}

func TestQueue_CancelPreventsFire(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := base
	q := New(WithNow(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}))
	defer q.Close()

	var fired bool
	tok := q.Schedule(base.Add(time.Minute), func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	require.True(t, q.Cancel(tok))
	require.False(t, q.Cancel(tok), "second cancel reports not pending")
	require.Equal(t, 0, q.Pending())

	mu.Lock()
	now = base.Add(2 * time.Minute)
	mu.Unlock()
	q.poke()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	require.False(t, fired)
	mu.Unlock()
}

func TestQueue_RealClockFires(t *testing.T) {
	q := New()
	defer q.Close()

	ch := make(chan struct{})
	q.Schedule(time.Now().Add(20*time.Millisecond), func() { close(ch) })

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestQueue_PastFireTimeRunsImmediately(t *testing.T) {
	q := New()
	defer q.Close()

	ch := make(chan struct{})
	q.Schedule(time.Now().Add(-time.Minute), func() { close(ch) })

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("past-due timer never fired")
	}
}
