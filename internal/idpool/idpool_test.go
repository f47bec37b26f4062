package idpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTakeReturnsUniqueIDsWithinLivePool(t *testing.T) {
	p := New(50)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id := p.Take()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id from pool: %s", id)
		seen[id] = struct{}{}
	}
}

func TestTakeFallsBackToInlineGenerationWhenEmpty(t *testing.T) {
	p := New(1)
	first := p.Take()
	assert.Len(t, first, 16) // 8 bytes hex-encoded

	// Pool is now empty (refill may be async); draining further must still
	// return well-formed ids via the inline path.
	second := p.Take()
	assert.Len(t, second, 16)
}

func TestRefillTriggersBelowThreshold(t *testing.T) {
	p := New(DefaultSize)
	for i := 0; i < DefaultSize-RefillThreshold+1; i++ {
		p.Take()
	}

	assert.Eventually(t, func() bool {
		return p.Size() > RefillThreshold
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentTakeIsSafe(t *testing.T) {
	p := New(DefaultSize)
	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- p.Take()
		}()
	}
	wg.Wait()
	close(ids)

	count := 0
	for range ids {
		count++
	}
	assert.Equal(t, 200, count)
}
