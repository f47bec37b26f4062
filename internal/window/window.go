// Package window implements the bounded, ordered-by-timestamp sliding
// buffer (L6) shared by the Correlation Engine's transcription and chat
// buffers.
package window

import (
	"sort"
	"sync"
	"time"
)

// Timestamped is implemented by anything a Buffer can hold.
type Timestamped interface {
	Ts() time.Time
}

// Buffer is a bounded ordered sequence of timestamped items. After every
// Add/Prune, size <= maxSize and every item satisfies now - item.Ts() <=
// windowMs (modulo the latest prune, i.e. until the next prune runs).
type Buffer[T Timestamped] struct {
	mu       sync.Mutex
	items    []T
	windowMs time.Duration
	maxSize  int
}

// New creates a Buffer with the given window duration and max size.
func New[T Timestamped](windowMs time.Duration, maxSize int) *Buffer[T] {
	return &Buffer[T]{windowMs: windowMs, maxSize: maxSize}
}

// Add appends item in timestamp order and evicts the oldest entry if the
// buffer would exceed maxSize. Items are expected to arrive in roughly
// chronological order (the producer clock), but Add inserts at the correct
// sorted position regardless.
func (b *Buffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := item.Ts()
	idx := sort.Search(len(b.items), func(i int) bool { return b.items[i].Ts().After(ts) || b.items[i].Ts().Equal(ts) })
	b.items = append(b.items, item)
	copy(b.items[idx+1:], b.items[idx:])
	b.items[idx] = item

	if len(b.items) > b.maxSize {
		b.items = b.items[len(b.items)-b.maxSize:]
	}
}

// Prune drops items older than now - windowMs.
func (b *Buffer[T]) Prune(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(now)
}

func (b *Buffer[T]) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.windowMs)
	idx := sort.Search(len(b.items), func(i int) bool { return !b.items[i].Ts().Before(cutoff) })
	if idx > 0 {
		b.items = b.items[idx:]
	}
}

// Range returns all items with lo <= ts <= hi in ascending time order.
func (b *Buffer[T]) Range(lo, hi time.Time) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, 0)
	for _, item := range b.items {
		ts := item.Ts()
		if (ts.Equal(lo) || ts.After(lo)) && (ts.Equal(hi) || ts.Before(hi)) {
			out = append(out, item)
		}
	}
	return out
}

// Size returns the current item count.
func (b *Buffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Items returns a snapshot copy of all buffered items in ascending order.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}
