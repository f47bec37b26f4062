package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/overlay-engine/internal/bus"
	"github.com/streamcore/overlay-engine/internal/events"
)

func newAgg(now time.Time) (*Aggregator, *bus.Bus) {
	b := bus.New(zerolog.Nop())
	a := New(b, Options{Now: func() time.Time { return now }}, zerolog.Nop())
	return a, b
}

func TestRecordEmoteUsageTodayNeverExceedsAllTime(t *testing.T) {
	a, _ := newAgg(time.Now())
	a.RecordEmoteUsage([]string{"A", "A", "B"}, nil, "u1")
	a.RecordEmoteUsage([]string{"A"}, []string{"nA"}, "u2")

	stats := a.GetEmoteStats()
	byName := map[string]EmoteStat{}
	for _, s := range append(stats.TopToday) {
		byName[s.Name+string(s.Kind)] = s
	}
	for _, s := range byName {
		assert.LessOrEqual(t, s.Today, s.AllTime)
	}
}

func TestEmoteTopNOrderingScenario(t *testing.T) {
	a, _ := newAgg(time.Now())
	a.RecordEmoteUsage([]string{"A", "A", "B"}, nil, "u1")
	a.RecordEmoteUsage([]string{"A"}, []string{"nA"}, "u2")

	stats := a.GetEmoteStats()
	require.Len(t, stats.TopToday, 3)
	assert.Equal(t, "A", stats.TopToday[0].Name)
	assert.Equal(t, uint64(3), stats.TopToday[0].Today)
	assert.Equal(t, "B", stats.TopToday[1].Name)
	assert.Equal(t, "nA", stats.TopToday[2].Name)
	assert.Equal(t, EmoteNative, stats.TopToday[2].Kind)
}

func TestDailyResetZerosTodayPreservesAllTime(t *testing.T) {
	a, _ := newAgg(time.Now())
	a.RecordEmoteUsage([]string{"A", "A", "A", "A", "A"}, nil, "u1") // today=5 all_time=5
	for i := 0; i < 15; i++ {
		a.RecordEmoteUsage([]string{"A"}, nil, "u1") // bring all_time to 20
	}
	stats := a.GetEmoteStats()
	require.Equal(t, uint64(20), stats.TopToday[0].AllTime)
	require.Equal(t, uint64(20), stats.TopToday[0].Today)

	a.ResetDaily()

	stats = a.GetEmoteStats()
	assert.Equal(t, uint64(0), stats.TopToday[0].Today)
	assert.Equal(t, uint64(20), stats.TopToday[0].AllTime)
	assert.Equal(t, uint64(0), a.GetDailyStats().TotalMessages)
}

func TestFollowerRingEvictsOldestOverCap(t *testing.T) {
	a, _ := newAgg(time.Now())
	a.opts.MaxFollowers = 3
	base := time.Now()
	for i := 0; i < 5; i++ {
		a.RecordFollower("user", base.Add(time.Duration(i)*time.Second))
	}
	followers := a.GetRecentFollowers(10)
	require.Len(t, followers, 3)
	// Most recent first.
	assert.True(t, followers[0].Timestamp.After(followers[1].Timestamp))
}

func TestEmoteEvictionDropsLowestAllTimeTies(t *testing.T) {
	a, _ := newAgg(time.Now())
	a.opts.MaxEmoteEntries = 2
	a.RecordEmoteUsage([]string{"first"}, nil, "u")
	a.RecordEmoteUsage([]string{"second"}, nil, "u")
	a.RecordEmoteUsage([]string{"third"}, nil, "u") // triggers eviction, all counts tied at 1

	stats := a.GetEmoteStats()
	names := map[string]bool{}
	for _, s := range stats.TopAllTime {
		names[s.Name] = true
	}
	// All three entries are tied at all_time=1 when "third" pushes the count
	// over the cap; the later-inserted-first-dropped tie break evicts
	// "third", the newest of the three.
	assert.False(t, names["third"])
}

func TestMalformedChatEventIsLoggedAndDropped(t *testing.T) {
	a, b := newAgg(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	assert.NotPanics(t, func() {
		b.Publish(events.Envelope{Topic: events.TopicChat, Payload: "not-a-chat-message"})
	})
	time.Sleep(20 * time.Millisecond)
}

func TestBusIntegrationRecordsEmoteAndFollow(t *testing.T) {
	a, b := newAgg(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	b.Publish(events.Envelope{Topic: events.TopicChat, Payload: events.ChatMessage{
		UserName: "viewer1", Emotes: []string{"Kappa"},
	}})
	b.Publish(events.Envelope{Topic: events.TopicFollowers, Payload: events.Follow{
		UserName: "newfollower", TimestampMs: time.Now().UnixMilli(),
	}})

	require.Eventually(t, func() bool {
		return a.GetDailyStats().TotalMessages == 1 && a.GetDailyStats().TotalFollows == 1
	}, time.Second, 5*time.Millisecond)
}
