// Package timerq provides cancellable one-shot timers backed by a single
// min-heap and one dispatch goroutine. Callbacks run on the dispatch
// goroutine, outside the queue lock.
package timerq

import (
	"container/heap"
	"sync"
	"time"
)

// Token identifies a scheduled timer for cancellation. The zero Token is
// never issued.
type Token uint64

type entry struct {
	token    Token
	fireAt   time.Time
	fn       func()
	index    int
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Queue schedules and cancels one-shot timers.
type Queue struct {
	mu      sync.Mutex
	now     func() time.Time
	entries entryHeap
	byToken map[Token]*entry
	last    Token
	wake    chan struct{}
	done    chan struct{}
	closed  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue and starts its dispatch goroutine.
func New(opts ...Option) *Queue {
	q := &Queue{
		now:     time.Now,
		byToken: make(map[Token]*entry),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Schedule registers fn to run at fireAt. A fireAt in the past fires on the
// next dispatch pass.
func (q *Queue) Schedule(fireAt time.Time, fn func()) Token {
	q.mu.Lock()
	q.last++
	e := &entry{token: q.last, fireAt: fireAt, fn: fn}
	heap.Push(&q.entries, e)
	q.byToken[e.token] = e
	q.mu.Unlock()

	q.poke()
	return e.token
}

// Cancel invalidates a pending timer. It reports whether the timer was
// still pending; a fired or already-canceled token returns false.
func (q *Queue) Cancel(tok Token) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byToken[tok]
	if !ok || e.canceled {
		return false
	}
	e.canceled = true
	delete(q.byToken, tok)
	if e.index >= 0 {
		heap.Remove(&q.entries, e.index)
	}
	return true
}

// Pending reports the number of armed timers.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byToken)
}

// Close stops the dispatch goroutine. Pending timers never fire.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

func (q *Queue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// collectDue pops every entry whose fire time has arrived and returns the
// callbacks to run plus the wait until the next entry (0 if none pending).
func (q *Queue) collectDue() ([]func(), time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []func()
	for len(q.entries) > 0 && !q.entries[0].fireAt.After(now) {
		e := heap.Pop(&q.entries).(*entry)
		delete(q.byToken, e.token)
		if !e.canceled {
			due = append(due, e.fn)
		}
	}
	if len(q.entries) == 0 {
		return due, 0
	}
	return due, q.entries[0].fireAt.Sub(now)
}

func (q *Queue) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, wait := q.collectDue()
		for _, fn := range due {
			fn()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if wait > 0 {
			timer.Reset(wait)
		}

		if wait > 0 {
			select {
			case <-q.done:
				return
			case <-q.wake:
			case <-timer.C:
			}
		} else {
			select {
			case <-q.done:
				return
			case <-q.wake:
			}
		}
	}
}
