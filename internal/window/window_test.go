package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ts  time.Time
	val int
}

func (i item) Ts() time.Time { return i.ts }

func TestAddKeepsAscendingOrder(t *testing.T) {
	b := New[item](time.Minute, 10)
	base := time.Now()
	b.Add(item{ts: base.Add(3 * time.Second), val: 3})
	b.Add(item{ts: base.Add(1 * time.Second), val: 1})
	b.Add(item{ts: base.Add(2 * time.Second), val: 2})

	items := b.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{items[0].val, items[1].val, items[2].val})
}

func TestAddEvictsOldestOverCap(t *testing.T) {
	b := New[item](time.Minute, 2)
	base := time.Now()
	b.Add(item{ts: base, val: 1})
	b.Add(item{ts: base.Add(time.Second), val: 2})
	b.Add(item{ts: base.Add(2 * time.Second), val: 3})

	items := b.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].val)
	assert.Equal(t, 3, items[1].val)
}

func TestPruneDropsOlderThanWindow(t *testing.T) {
	b := New[item](5*time.Second, 100)
	now := time.Now()
	b.Add(item{ts: now.Add(-10 * time.Second), val: 1})
	b.Add(item{ts: now.Add(-1 * time.Second), val: 2})

	b.Prune(now)
	items := b.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].val)
}

func TestRangeReturnsInclusiveBounds(t *testing.T) {
	b := New[item](time.Minute, 100)
	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Add(item{ts: now.Add(time.Duration(i) * time.Second), val: i})
	}

	got := b.Range(now.Add(1*time.Second), now.Add(3*time.Second))
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].val, got[1].val, got[2].val})
}

func TestSizeMatchesItemCount(t *testing.T) {
	b := New[item](time.Minute, 100)
	assert.Equal(t, 0, b.Size())
	b.Add(item{ts: time.Now(), val: 1})
	assert.Equal(t, 1, b.Size())
}
