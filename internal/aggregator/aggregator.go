// Package aggregator implements the Content Aggregator (C1): an actor that
// consumes chat and follower events over the bus and maintains in-memory
// emote counters, a recent-followers ring, and daily counters, answering
// synchronous queries from the Producer (for ticker enrichment) and any
// other reader.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamcore/overlay-engine/internal/bus"
	"github.com/streamcore/overlay-engine/internal/events"
	"github.com/streamcore/overlay-engine/internal/service"
)

// Defaults per §6.
const (
	DefaultMaxEmoteEntries = 1000
	DefaultMaxFollowers    = 100
)

// EmoteKind distinguishes regular emotes from native (channel) emotes.
type EmoteKind string

const (
	EmoteRegular EmoteKind = "regular"
	EmoteNative  EmoteKind = "native"
)

type emoteKey struct {
	name string
	kind EmoteKind
}

type emoteCounter struct {
	today    uint64
	allTime  uint64
	insertAt int64 // monotonic insertion sequence, for eviction tie-breaking
}

// EmoteStat is a single row in a top-N listing.
type EmoteStat struct {
	Name    string
	Kind    EmoteKind
	Today   uint64
	AllTime uint64
}

// EmoteStats is the result of GetEmoteStats.
type EmoteStats struct {
	RegularEmotes int
	NativeEmotes  int
	TopToday      []EmoteStat
	TopAllTime    []EmoteStat
}

// Follower is one entry in the recent-followers ring.
type Follower struct {
	Timestamp time.Time
	UserName  string
}

// DailyStats is the result of GetDailyStats.
type DailyStats struct {
	TotalMessages uint64
	TotalFollows  uint64
	StartedAt     time.Time
}

// Options configures the Aggregator. Zero values use §6 defaults.
type Options struct {
	MaxEmoteEntries int
	MaxFollowers    int
	// Location sets the zone used to compute the next local midnight for
	// the daily reset. UTC is the documented default (§4.9, §9 open
	// question pinned to UTC here).
	Location *time.Location
	// Now is overridable for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxEmoteEntries <= 0 {
		o.MaxEmoteEntries = DefaultMaxEmoteEntries
	}
	if o.MaxFollowers <= 0 {
		o.MaxFollowers = DefaultMaxFollowers
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Aggregator is the C1 actor. All mutable state is owned exclusively by
// the actor goroutine started by Start; GetX query methods read under a
// mutex rather than round-tripping through the mailbox, matching §5's
// "synchronous query operations on the Aggregator."
type Aggregator struct {
	opts   Options
	logger zerolog.Logger
	b      *bus.Bus

	mu          sync.Mutex
	emotes      map[emoteKey]*emoteCounter
	insertSeq   int64
	followers   []Follower
	daily       DailyStats

	chatSub      *bus.Subscription
	followersSub *bus.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Aggregator subscribed to TopicChat and TopicFollowers.
func New(b *bus.Bus, opts Options, logger zerolog.Logger) *Aggregator {
	opts = opts.withDefaults()
	return &Aggregator{
		opts:   opts,
		logger: logger.With().Str("component", "aggregator").Logger(),
		b:      b,
		emotes: make(map[emoteKey]*emoteCounter),
		daily:  DailyStats{StartedAt: opts.Now()},
	}
}

// Start begins consuming the bus and scheduling the daily reset and hourly
// cleanup. Implements service.Service.
func (a *Aggregator) Start(ctx context.Context) error {
	ctx, cancel := a.initContext(ctx)

	a.chatSub = a.b.Subscribe(events.TopicChat)
	a.followersSub = a.b.Subscribe(events.TopicFollowers)

	go a.run(ctx)
	go a.scheduleDailyReset(ctx)
	go a.scheduleHourlyCleanup(ctx)

	_ = cancel
	return nil
}

func (a *Aggregator) initContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	a.ctx = ctx
	a.cancel = cancel
	a.done = make(chan struct{})
	return ctx, cancel
}

func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-a.chatSub.C():
			if !ok {
				return
			}
			a.handleChat(env)
		case env, ok := <-a.followersSub.C():
			if !ok {
				return
			}
			a.handleFollow(env)
		}
	}
}

func (a *Aggregator) handleChat(env events.Envelope) {
	msg, ok := env.Payload.(events.ChatMessage)
	if !ok {
		a.logger.Warn().Str("topic", env.Topic).Msg("malformed_event: chat payload has wrong type")
		return
	}
	a.RecordEmoteUsage(msg.Emotes, msg.NativeEmotes, msg.UserName)

	a.mu.Lock()
	a.daily.TotalMessages++
	a.mu.Unlock()
}

func (a *Aggregator) handleFollow(env events.Envelope) {
	f, ok := env.Payload.(events.Follow)
	if !ok {
		a.logger.Warn().Str("topic", env.Topic).Msg("malformed_event: follow payload has wrong type")
		return
	}
	a.RecordFollower(f.UserName, time.UnixMilli(f.TimestampMs))
}

// RecordEmoteUsage atomically increments today/all_time for each emote
// (inserting (1,1) on absence). It does not touch the daily message
// counter: handleChat bumps TotalMessages separately, so direct callers
// (e.g. tests) can record emotes without counting a message.
func (a *Aggregator) RecordEmoteUsage(emotes, nativeEmotes []string, user string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, name := range emotes {
		a.bumpEmoteLocked(name, EmoteRegular)
	}
	for _, name := range nativeEmotes {
		a.bumpEmoteLocked(name, EmoteNative)
	}
	a.evictOverCapLocked()
}

func (a *Aggregator) bumpEmoteLocked(name string, kind EmoteKind) {
	key := emoteKey{name: name, kind: kind}
	c, ok := a.emotes[key]
	if !ok {
		a.insertSeq++
		c = &emoteCounter{insertAt: a.insertSeq}
		a.emotes[key] = c
	}
	c.today++
	c.allTime++
}

// evictOverCapLocked drops the lowest-all_time entries until at most
// MaxEmoteEntries remain, breaking ties by later-inserted-first-dropped
// (§3 EmoteCounter eviction).
func (a *Aggregator) evictOverCapLocked() {
	if len(a.emotes) <= a.opts.MaxEmoteEntries {
		return
	}

	type row struct {
		key emoteKey
		c   *emoteCounter
	}
	rows := make([]row, 0, len(a.emotes))
	for k, c := range a.emotes {
		rows = append(rows, row{key: k, c: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].c.allTime != rows[j].c.allTime {
			return rows[i].c.allTime < rows[j].c.allTime
		}
		// tie: later-inserted first dropped => higher insertAt sorts first
		return rows[i].c.insertAt > rows[j].c.insertAt
	})

	toDrop := len(a.emotes) - a.opts.MaxEmoteEntries
	for i := 0; i < toDrop; i++ {
		delete(a.emotes, rows[i].key)
	}
}

// RecordFollower inserts (ts, user) into the follower ring, evicting the
// oldest entry if over cap.
func (a *Aggregator) RecordFollower(user string, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.followers = append(a.followers, Follower{Timestamp: ts, UserName: user})
	sort.SliceStable(a.followers, func(i, j int) bool { return a.followers[i].Timestamp.Before(a.followers[j].Timestamp) })
	if len(a.followers) > a.opts.MaxFollowers {
		a.followers = a.followers[len(a.followers)-a.opts.MaxFollowers:]
	}
	a.daily.TotalFollows++
}

// GetEmoteStats returns aggregate counts and the top-10 today/all-time
// lists, ordered by count descending with alphabetical tie-break.
func (a *Aggregator) GetEmoteStats() EmoteStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := make([]EmoteStat, 0, len(a.emotes))
	regular, native := 0, 0
	for k, c := range a.emotes {
		rows = append(rows, EmoteStat{Name: k.name, Kind: k.kind, Today: c.today, AllTime: c.allTime})
		if k.kind == EmoteRegular {
			regular++
		} else {
			native++
		}
	}

	top := func(by func(EmoteStat) uint64) []EmoteStat {
		cp := make([]EmoteStat, len(rows))
		copy(cp, rows)
		sort.Slice(cp, func(i, j int) bool {
			vi, vj := by(cp[i]), by(cp[j])
			if vi != vj {
				return vi > vj
			}
			return cp[i].Name < cp[j].Name
		})
		if len(cp) > 10 {
			cp = cp[:10]
		}
		return cp
	}

	return EmoteStats{
		RegularEmotes: regular,
		NativeEmotes:  native,
		TopToday:      top(func(e EmoteStat) uint64 { return e.Today }),
		TopAllTime:    top(func(e EmoteStat) uint64 { return e.AllTime }),
	}
}

// GetRecentFollowers returns up to limit followers, most recent first.
func (a *Aggregator) GetRecentFollowers(limit int) []Follower {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.followers)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Follower, limit)
	for i := 0; i < limit; i++ {
		out[i] = a.followers[n-1-i]
	}
	return out
}

// GetDailyStats returns the current daily counters.
func (a *Aggregator) GetDailyStats() DailyStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.daily
}

// Enrich answers the Producer's synchronous ticker-slot query (§9's
// cyclic-call note: this is the one in-process call that bypasses the bus).
// Content types the Aggregator has no data for return ok=false so the
// caller substitutes its own fallback.
func (a *Aggregator) Enrich(contentType string) (any, bool) {
	switch contentType {
	case "emote_stats":
		return a.GetEmoteStats(), true
	case "recent_follows":
		return a.GetRecentFollowers(10), true
	case "daily_stats":
		return a.GetDailyStats(), true
	default:
		return nil, false
	}
}

// ResetDaily zeros all emote "today" counters and daily counters,
// preserving all_time, and stamps a new started_at.
func (a *Aggregator) ResetDaily() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.emotes {
		c.today = 0
	}
	a.daily = DailyStats{StartedAt: a.opts.Now()}
}

// Cleanup enforces MaxFollowers/MaxEmoteEntries (hourly maintenance, §4.9).
func (a *Aggregator) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.followers) > a.opts.MaxFollowers {
		a.followers = a.followers[len(a.followers)-a.opts.MaxFollowers:]
	}
	a.evictOverCapLocked()
}

func (a *Aggregator) nextMidnight() time.Time {
	now := a.opts.Now().In(a.opts.Location)
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, a.opts.Location).AddDate(0, 0, 1)
	return midnight
}

func (a *Aggregator) scheduleDailyReset(ctx context.Context) {
	for {
		wait := time.Until(a.nextMidnight())
		if wait <= 0 {
			wait = 24 * time.Hour
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			a.ResetDaily()
		}
	}
}

func (a *Aggregator) scheduleHourlyCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Cleanup()
		}
	}
}

// Stop cancels the actor's goroutines and unsubscribes from the bus.
func (a *Aggregator) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.chatSub != nil {
		a.chatSub.Close()
	}
	if a.followersSub != nil {
		a.followersSub.Close()
	}
	if a.done != nil {
		<-a.done
	}
	return nil
}

// GetStatus implements service.Service.
func (a *Aggregator) GetStatus() service.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return service.Status{
		Name:    "aggregator",
		Running: a.ctx != nil && a.ctx.Err() == nil,
		Detail: map[string]any{
			"emote_entries":    len(a.emotes),
			"followers":        len(a.followers),
			"total_messages":   a.daily.TotalMessages,
			"total_follows":    a.daily.TotalFollows,
		},
	}
}

// GetHealth implements service.Service; the aggregator is always healthy
// unless its actor goroutine has stopped.
func (a *Aggregator) GetHealth() service.Health {
	if a.ctx == nil || a.ctx.Err() != nil {
		return service.Health{Healthy: false, Reason: "actor stopped"}
	}
	return service.Health{Healthy: true}
}

// GetInfo implements service.Service.
func (a *Aggregator) GetInfo() service.Info {
	return service.Info{
		Name: "aggregator",
		Facts: map[string]any{
			"max_emote_entries": a.opts.MaxEmoteEntries,
			"max_followers":     a.opts.MaxFollowers,
		},
	}
}
