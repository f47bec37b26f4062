// Package producer implements the Stream Producer (C3): the central state
// machine that owns the interrupt stack, the ticker rotation, and the
// derived active-content slot, broadcasting on stream:updates after every
// mutation. It is the largest single actor in the core and the only one
// that writes to more than one external collaborator (the enrichment query
// into the Content Aggregator and the state snapshot persisted to a
// StateStore).
package producer

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamcore/overlay-engine/internal/aggregator"
	"github.com/streamcore/overlay-engine/internal/breaker"
	"github.com/streamcore/overlay-engine/internal/bus"
	"github.com/streamcore/overlay-engine/internal/events"
	"github.com/streamcore/overlay-engine/internal/idpool"
	"github.com/streamcore/overlay-engine/internal/retry"
	"github.com/streamcore/overlay-engine/internal/service"
	"github.com/streamcore/overlay-engine/internal/timer"
)

// ShowID is the closed set of shows the Producer can be switched between.
type ShowID string

const (
	ShowVariety ShowID = "variety"
	ShowIronmon ShowID = "ironmon"
	ShowCoding  ShowID = "coding"
)

// InterruptType is the closed set of interrupt kinds, each with a default
// priority and duration per §3.
type InterruptType string

const (
	InterruptAlert          InterruptType = "alert"
	InterruptManualOverride InterruptType = "manual_override"
	InterruptSubTrain       InterruptType = "sub_train"
)

func defaultPriority(t InterruptType) uint8 {
	switch t {
	case InterruptAlert, InterruptManualOverride:
		return 100
	case InterruptSubTrain:
		return 50
	default:
		return 10
	}
}

func defaultDurationMs(t InterruptType) uint32 {
	switch t {
	case InterruptAlert:
		return 10_000
	case InterruptSubTrain:
		return 300_000
	case InterruptManualOverride:
		return 30_000
	default:
		return 15_000
	}
}

// Interrupt is one entry in the InterruptStack.
type Interrupt struct {
	ID         string
	Type       InterruptType
	Priority   uint8
	Data       map[string]any
	DurationMs uint32
	StartedAt  time.Time
}

// ActiveContent is the derived, non-authoritative "what's on screen now"
// slot. A nil value means nothing is available to show.
type ActiveContent struct {
	Type      string
	Data      any
	Priority  uint8
	StartedAt time.Time
}

// ShowChange is the payload of the show_change variant published on
// stream:updates.
type ShowChange struct {
	Show      ShowID
	Game      string
	ChangedAt time.Time
}

// ContentUpdate is the payload of the content_update variant published on
// stream:updates whenever active content changes outside of a full
// mutation broadcast (ticker advance, interrupt expiry).
type ContentUpdate struct {
	Type      string
	Data      any
	Timestamp time.Time
}

// ProducerState is the full synchronous snapshot returned by GetState and
// carried as the stream_update payload. TimerCount substitutes for the raw
// timer map, which is never serialized or exposed (it is a private
// implementation detail of timer discipline, §4.11).
type ProducerState struct {
	CurrentShow    ShowID
	ActiveContent  *ActiveContent
	InterruptStack []Interrupt
	TickerRotation []string
	TickerIndex    int
	TimerCount     int
	Version        uint64
	LastUpdated    time.Time
}

// Enricher answers synchronous content queries for ticker slots. The
// Content Aggregator (C1) implements this; the Producer never imports
// anything from C1 beyond this interface, and the call is always wrapped
// in a safe-call recover so a panicking enrichment source cannot take the
// Producer's mailbox down with it (§4.11, §9 cyclic-call note).
type Enricher interface {
	Enrich(contentType string) (data any, ok bool)
}

// Telemetry receives the per-broadcast metric triple described in §4.11.
// Implemented by internal/metrics; nil is a valid no-op collaborator.
type Telemetry interface {
	ObserveProducerState(interruptCount, timerCount int, version uint64)
}

// InterruptOptions overrides an interrupt's default priority/duration. A
// zero value for either field means "use the type's default".
type InterruptOptions struct {
	DurationMs uint32
	Priority   uint8
}

// Options configures a Producer. Zero values fall back to §6 defaults.
type Options struct {
	TickerInterval          time.Duration
	SubTrainDuration        time.Duration
	CleanupInterval         time.Duration
	MaxTimers               int
	MaxInterruptStackSize   int
	InterruptStackKeepCount int
	DefaultRotations        map[ShowID][]string
	ShowCategoryMap         map[string]ShowID
	FallbackPayloads        map[string]any
	// Now is overridable in tests.
	Now func() time.Time
}

// defaultRotations returns the §8-scenario-1 variety rotation plus
// reasonable per-show defaults for the other two shows; it fills
// Options.DefaultRotations when unset.
func defaultRotations() map[ShowID][]string {
	return map[ShowID][]string{
		ShowVariety: {"emote_stats", "recent_follows", "stream_goals", "daily_stats"},
		ShowIronmon: {"ironmon_run_stats", "emote_stats", "recent_follows"},
		ShowCoding:  {"commit_stats", "build_status", "emote_stats"},
	}
}

// defaultFallbackPayloads is the fixed per-content-type substitute used
// when the Enricher is absent, returns !ok, or panics (§4.11 enrichment
// guard).
func defaultFallbackPayloads() map[string]any {
	return map[string]any{
		"emote_stats":       aggregator.EmoteStats{},
		"recent_follows":    []aggregator.Follower{},
		"daily_stats":       aggregator.DailyStats{},
		"stream_goals":      map[string]any{"status": "unavailable"},
		"ironmon_run_stats": map[string]any{"status": "unavailable"},
		"commit_stats":      map[string]any{"status": "unavailable"},
		"build_status":      map[string]any{"status": "unknown"},
	}
}

func (o Options) withDefaults() Options {
	if o.TickerInterval <= 0 {
		o.TickerInterval = 15 * time.Second
	}
	if o.SubTrainDuration <= 0 {
		o.SubTrainDuration = 300 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 600 * time.Second
	}
	if o.MaxTimers <= 0 {
		o.MaxTimers = 100
	}
	if o.MaxInterruptStackSize <= 0 {
		o.MaxInterruptStackSize = 50
	}
	if o.InterruptStackKeepCount <= 0 {
		o.InterruptStackKeepCount = 25
	}
	if o.DefaultRotations == nil {
		o.DefaultRotations = defaultRotations()
	}
	if o.ShowCategoryMap == nil {
		o.ShowCategoryMap = map[string]ShowID{}
	}
	if o.FallbackPayloads == nil {
		o.FallbackPayloads = defaultFallbackPayloads()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Producer is the C3 actor.
type Producer struct {
	opts      Options
	logger    zerolog.Logger
	b         *bus.Bus
	wheel     *timer.Wheel
	ids       *idpool.Pool
	enricher  Enricher
	store     StateStore
	br        *breaker.Registry
	telemetry Telemetry

	mu             sync.Mutex
	currentShow    ShowID
	activeContent  *ActiveContent
	interruptStack []Interrupt
	tickerRotation []string
	tickerIndex    int
	timers         map[string]timer.Ref
	version        uint64
	lastUpdated    time.Time

	chatSub    *bus.Subscription
	followSub  *bus.Subscription
	subSub     *bus.Subscription
	cheerSub   *bus.Subscription
	twitchSub  *bus.Subscription
	channelSub *bus.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Producer. store and enricher are optional external
// collaborators; a nil store skips persistence/restore, a nil enricher
// always falls back to FallbackPayloads.
func New(b *bus.Bus, wheel *timer.Wheel, ids *idpool.Pool, enricher Enricher, store StateStore, br *breaker.Registry, telemetry Telemetry, opts Options, logger zerolog.Logger) *Producer {
	opts = opts.withDefaults()
	return &Producer{
		opts:      opts,
		logger:    logger.With().Str("component", "producer").Logger(),
		b:         b,
		wheel:     wheel,
		ids:       ids,
		enricher:  enricher,
		store:     store,
		br:        br,
		telemetry: telemetry,
		timers:    make(map[string]timer.Ref),
	}
}

// Start restores persisted state (if any), subscribes to the six input
// topics, and begins the ticker-tick and cleanup loops.
func (p *Producer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.ctx = ctx
	p.cancel = cancel
	p.done = make(chan struct{})

	p.restore(ctx)

	p.chatSub = p.b.Subscribe(events.TopicChat)
	p.followSub = p.b.Subscribe(events.TopicFollowers)
	p.subSub = p.b.Subscribe(events.TopicSubscriptions)
	p.cheerSub = p.b.Subscribe(events.TopicCheers)
	p.twitchSub = p.b.Subscribe(events.TopicTwitchEvents)
	p.channelSub = p.b.Subscribe(events.TopicChannelUpdates)

	go p.run(ctx)
	return nil
}

// restore implements §4.11's init-time read: on a present, valid snapshot,
// fields are restored and interrupts are rearmed with their remaining
// duration; otherwise the Producer starts fresh on the variety show.
func (p *Producer) restore(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		p.currentShow = ShowVariety
		p.tickerRotation = append([]string(nil), p.opts.DefaultRotations[ShowVariety]...)
		p.activeContent = p.deriveActiveContentLocked()
		return
	}

	snap, ok, err := p.store.Load(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("state_corrupt: producer snapshot unreadable, starting fresh")
		ok = false
	}
	if !ok || snap.CurrentShow == "" || snap.Version == 0 {
		p.currentShow = ShowVariety
		p.tickerRotation = append([]string(nil), p.opts.DefaultRotations[ShowVariety]...)
		p.activeContent = p.deriveActiveContentLocked()
		return
	}

	p.currentShow = snap.CurrentShow
	p.tickerRotation = append([]string(nil), snap.TickerRotation...)
	p.tickerIndex = snap.TickerIndex
	p.version = snap.Version

	now := p.opts.Now()
	for _, it := range snap.InterruptStack {
		remaining := time.Duration(it.DurationMs)*time.Millisecond - now.Sub(it.StartedAt)
		if now.Before(it.StartedAt) {
			p.logger.Warn().Str("interrupt_id", it.ID).Msg("clock went backwards on restore, rearming full duration")
			remaining = time.Duration(it.DurationMs) * time.Millisecond
		}
		if remaining <= 0 {
			continue
		}
		if remaining < time.Second {
			remaining = time.Second
		}
		ref := p.wheel.Arm(it.ID, remaining, nil)
		p.timers[it.ID] = ref
		p.interruptStack = append(p.interruptStack, it)
	}
	p.sortStackLocked()
	p.activeContent = p.deriveActiveContentLocked()
}

func (p *Producer) run(ctx context.Context) {
	defer close(p.done)

	tickerTick := time.NewTicker(p.opts.TickerInterval)
	defer tickerTick.Stop()
	cleanupTick := time.NewTicker(p.opts.CleanupInterval)
	defer cleanupTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickerTick.C:
			p.handleTickerTick()
		case <-cleanupTick.C:
			p.handleCleanupTick()
		case fire, ok := <-p.wheel.Fires():
			if !ok {
				return
			}
			p.handleTimerFire(fire.ID)
		case env, ok := <-p.subSub.C():
			if !ok {
				return
			}
			p.handleSubscriptionEnvelope(env)
		case env, ok := <-p.channelSub.C():
			if !ok {
				return
			}
			p.handleChannelUpdateEnvelope(env)
		case _, ok := <-p.chatSub.C():
			if !ok {
				return
			}
			// Reserved for future ticker content (stream_goals/emote-driven
			// alerts); the Producer does not mutate state on chat directly.
		case _, ok := <-p.followSub.C():
			if !ok {
				return
			}
		case _, ok := <-p.cheerSub.C():
			if !ok {
				return
			}
		case _, ok := <-p.twitchSub.C():
			if !ok {
				return
			}
		}
	}
}

func (p *Producer) handleSubscriptionEnvelope(env events.Envelope) {
	sub, ok := env.Payload.(events.Subscription)
	if !ok {
		p.logger.Warn().Msg("invalid_interrupt: subscription payload has wrong type")
		return
	}
	p.onSubscription(sub)
}

func (p *Producer) handleChannelUpdateEnvelope(env events.Envelope) {
	update, ok := env.Payload.(events.ChannelUpdate)
	if !ok {
		p.logger.Warn().Msg("malformed channel:updates payload")
		return
	}
	p.onChannelUpdate(update)
}

// detectShow maps a channel update to a show via the configured category-id
// table, falling back to substring matches on the category name (§4.11).
func detectShow(update events.ChannelUpdate, categoryMap map[string]ShowID) (ShowID, bool) {
	if show, ok := categoryMap[update.CategoryID]; ok {
		return show, true
	}
	name := strings.ToLower(update.CategoryName)
	switch {
	case strings.Contains(name, "pokemon") && strings.Contains(name, "fire"):
		return ShowIronmon, true
	case strings.Contains(name, "software") || strings.Contains(name, "development"):
		return ShowCoding, true
	case strings.Contains(name, "just chatting"):
		return ShowVariety, true
	}
	return "", false
}

func (p *Producer) onChannelUpdate(update events.ChannelUpdate) {
	show, ok := detectShow(update, p.opts.ShowCategoryMap)
	if !ok {
		return
	}
	p.mu.Lock()
	same := p.currentShow == show
	p.mu.Unlock()
	if same {
		return
	}
	p.ChangeShow(show, map[string]any{"game": update.CategoryName})
}

// onSubscription implements §4.11's sub-train coalescing rule.
func (p *Producer) onSubscription(sub events.Subscription) {
	p.mu.Lock()
	var target *Interrupt
	for i := range p.interruptStack {
		if p.interruptStack[i].Type == InterruptSubTrain {
			target = &p.interruptStack[i]
			break
		}
	}

	if target != nil {
		p.wheel.Cancel(target.ID)
		count, _ := target.Data["count"].(int)
		target.Data["count"] = count + 1
		target.Data["latest_subscriber"] = sub.UserName
		target.Data["latest_tier"] = sub.Tier
		ref := p.wheel.Arm(target.ID, p.opts.SubTrainDuration, nil)
		p.timers[target.ID] = ref
	} else {
		id := p.ids.Take()
		it := Interrupt{
			ID:       id,
			Type:     InterruptSubTrain,
			Priority: defaultPriority(InterruptSubTrain),
			Data: map[string]any{
				"count":             1,
				"latest_subscriber": sub.UserName,
				"latest_tier":       sub.Tier,
			},
			DurationMs: uint32(p.opts.SubTrainDuration.Milliseconds()),
			StartedAt:  p.opts.Now(),
		}
		p.insertInterruptLocked(it)
		ref := p.wheel.Arm(id, p.opts.SubTrainDuration, nil)
		p.timers[id] = ref
		p.enforceTimerLimitLocked()
	}

	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcast(snap, state)
}

// GetState returns a synchronous snapshot of the full producer state.
func (p *Producer) GetState() ProducerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// ChangeShow sets the current show, installs its default ticker rotation,
// resets the ticker cursor, and broadcasts.
func (p *Producer) ChangeShow(show ShowID, meta map[string]any) ProducerState {
	p.mu.Lock()
	p.currentShow = show
	p.tickerRotation = append([]string(nil), p.opts.DefaultRotations[show]...)
	p.tickerIndex = 0
	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcast(snap, state)
	p.b.Publish(events.Envelope{
		Topic:     events.TopicStreamUpdates,
		Type:      "show_change",
		Payload:   ShowChange{Show: show, Game: metaGame(meta), ChangedAt: p.opts.Now()},
		Timestamp: p.opts.Now(),
	})
	return state
}

func metaGame(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	g, _ := meta["game"].(string)
	return g
}

// AddInterrupt creates an Interrupt, inserts it into the stack, arms its
// timer, and broadcasts.
func (p *Producer) AddInterrupt(itype InterruptType, data map[string]any, opts InterruptOptions) Interrupt {
	priority := opts.Priority
	if priority == 0 {
		priority = defaultPriority(itype)
	}
	duration := opts.DurationMs
	if duration == 0 {
		duration = defaultDurationMs(itype)
	}

	id := p.ids.Take()
	it := Interrupt{ID: id, Type: itype, Priority: priority, Data: data, DurationMs: duration, StartedAt: p.opts.Now()}

	p.mu.Lock()
	p.insertInterruptLocked(it)
	ref := p.wheel.Arm(id, time.Duration(duration)*time.Millisecond, nil)
	p.timers[id] = ref
	p.enforceTimerLimitLocked()
	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcast(snap, state)
	return it
}

// RemoveInterrupt cancels the interrupt's timer, removes it from the stack,
// re-derives active content, and broadcasts. Unknown ids are a no-op.
func (p *Producer) RemoveInterrupt(id string) {
	p.mu.Lock()
	if !p.removeInterruptLocked(id) {
		p.mu.Unlock()
		return
	}
	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcast(snap, state)
}

func (p *Producer) removeInterruptLocked(id string) bool {
	idx := -1
	for i, it := range p.interruptStack {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	p.interruptStack = append(p.interruptStack[:idx], p.interruptStack[idx+1:]...)
	p.wheel.Cancel(id)
	delete(p.timers, id)
	return true
}

// UpdateTickerContent replaces the rotation, resets the cursor, and
// broadcasts.
func (p *Producer) UpdateTickerContent(list []string) ProducerState {
	p.mu.Lock()
	p.tickerRotation = append([]string(nil), list...)
	p.tickerIndex = 0
	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcast(snap, state)
	return state
}

// ForceContent is equivalent to AddInterrupt(manual_override, {type,data},
// {duration}).
func (p *Producer) ForceContent(contentType string, data map[string]any, durationMs uint32) Interrupt {
	payload := map[string]any{"type": contentType, "data": data}
	return p.AddInterrupt(InterruptManualOverride, payload, InterruptOptions{DurationMs: durationMs})
}

func (p *Producer) handleTimerFire(id string) {
	p.mu.Lock()
	if !p.removeInterruptLocked(id) {
		p.mu.Unlock()
		return
	}
	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcastContentUpdate(snap, state)
}

func (p *Producer) handleTickerTick() {
	p.mu.Lock()
	if len(p.tickerRotation) > 0 {
		p.tickerIndex = (p.tickerIndex + 1) % len(p.tickerRotation)
	}
	interruptsActive := len(p.interruptStack) > 0
	if interruptsActive {
		p.mu.Unlock()
		return
	}
	p.activeContent = p.deriveActiveContentLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcastContentUpdate(snap, state)
}

// handleCleanupTick implements §4.11's periodic cleanup: cancel orphaned
// timers, enforce the interrupt-stack cap defensively, bump version and
// persist.
func (p *Producer) handleCleanupTick() {
	p.mu.Lock()
	stackIDs := make(map[string]struct{}, len(p.interruptStack))
	for _, it := range p.interruptStack {
		stackIDs[it.ID] = struct{}{}
	}
	for id := range p.timers {
		if _, ok := stackIDs[id]; !ok {
			p.wheel.Cancel(id)
			delete(p.timers, id)
		}
	}

	if len(p.interruptStack) > p.opts.MaxInterruptStackSize {
		dropped := p.interruptStack[p.opts.InterruptStackKeepCount:]
		p.interruptStack = append([]Interrupt(nil), p.interruptStack[:p.opts.InterruptStackKeepCount]...)
		for _, it := range dropped {
			p.wheel.Cancel(it.ID)
			delete(p.timers, it.ID)
		}
	}

	p.enforceTimerLimitLocked()
	p.version++
	p.lastUpdated = p.opts.Now()
	snap, state := p.snapshotLocked(), p.stateLocked()
	p.mu.Unlock()

	p.persistAndBroadcast(snap, state)
}

// insertInterruptLocked appends it, re-sorts the stack, and truncates an
// overflow per §3's InterruptStack invariant.
func (p *Producer) insertInterruptLocked(it Interrupt) {
	p.interruptStack = append(p.interruptStack, it)
	p.sortStackLocked()
	if len(p.interruptStack) > p.opts.MaxInterruptStackSize {
		dropped := p.interruptStack[p.opts.InterruptStackKeepCount:]
		p.interruptStack = append([]Interrupt(nil), p.interruptStack[:p.opts.InterruptStackKeepCount]...)
		for _, d := range dropped {
			p.wheel.Cancel(d.ID)
			delete(p.timers, d.ID)
		}
	}
}

func (p *Producer) sortStackLocked() {
	sort.SliceStable(p.interruptStack, func(i, j int) bool {
		a, b := p.interruptStack[i], p.interruptStack[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.StartedAt.Before(b.StartedAt)
	})
}

// enforceTimerLimitLocked drops the oldest-by-started_at interrupts (and
// their timers) until |timers| <= MaxTimers.
func (p *Producer) enforceTimerLimitLocked() {
	if len(p.timers) <= p.opts.MaxTimers {
		return
	}
	byAge := append([]Interrupt(nil), p.interruptStack...)
	sort.SliceStable(byAge, func(i, j int) bool { return byAge[i].StartedAt.Before(byAge[j].StartedAt) })

	for _, it := range byAge {
		if len(p.timers) <= p.opts.MaxTimers {
			break
		}
		if _, armed := p.timers[it.ID]; !armed {
			continue
		}
		p.removeInterruptLocked(it.ID)
	}
}

// deriveActiveContentLocked implements §4.11's active-content derivation.
func (p *Producer) deriveActiveContentLocked() *ActiveContent {
	if len(p.interruptStack) > 0 {
		head := p.interruptStack[0]
		return &ActiveContent{Type: string(head.Type), Data: head.Data, Priority: head.Priority, StartedAt: head.StartedAt}
	}
	if len(p.tickerRotation) == 0 {
		return nil
	}
	contentType := p.tickerRotation[p.tickerIndex]
	return &ActiveContent{Type: contentType, Data: p.safeEnrich(contentType), Priority: 10, StartedAt: p.opts.Now()}
}

// safeEnrich wraps the Enricher call in a recover so a panicking C1 cannot
// take down the Producer's run loop, substituting the fixed fallback
// payload for the content type (§4.11, §7's user-visible-behavior note).
func (p *Producer) safeEnrich(contentType string) (data any) {
	data = p.opts.FallbackPayloads[contentType]
	if p.enricher == nil {
		return data
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn().Interface("panic", r).Str("content_type", contentType).Msg("enrichment panic recovered, using fallback")
			data = p.opts.FallbackPayloads[contentType]
		}
	}()
	if d, ok := p.enricher.Enrich(contentType); ok {
		data = d
	}
	return data
}

func (p *Producer) snapshotLocked() Snapshot {
	return Snapshot{
		CurrentShow:    p.currentShow,
		InterruptStack: append([]Interrupt(nil), p.interruptStack...),
		TickerRotation: append([]string(nil), p.tickerRotation...),
		TickerIndex:    p.tickerIndex,
		Version:        p.version,
	}
}

func (p *Producer) stateLocked() ProducerState {
	return ProducerState{
		CurrentShow:    p.currentShow,
		ActiveContent:  p.activeContent,
		InterruptStack: append([]Interrupt(nil), p.interruptStack...),
		TickerRotation: append([]string(nil), p.tickerRotation...),
		TickerIndex:    p.tickerIndex,
		TimerCount:     len(p.timers),
		Version:        p.version,
		LastUpdated:    p.lastUpdated,
	}
}

// persistAndBroadcast persists the snapshot (best-effort, retry+breaker
// wrapped), emits telemetry, and publishes the full state as the
// stream_update variant.
func (p *Producer) persistAndBroadcast(snap Snapshot, state ProducerState) {
	p.persist(snap)
	if p.telemetry != nil {
		p.telemetry.ObserveProducerState(len(state.InterruptStack), state.TimerCount, state.Version)
	}
	p.b.Publish(events.Envelope{
		Topic:     events.TopicStreamUpdates,
		Type:      "stream_update",
		Payload:   state,
		Timestamp: p.opts.Now(),
	})
}

// persistAndBroadcastContentUpdate is persistAndBroadcast plus an
// additional content_update variant, used whenever active content changed
// as a side effect of a timer firing or a ticker advance rather than a
// direct API call.
func (p *Producer) persistAndBroadcastContentUpdate(snap Snapshot, state ProducerState) {
	p.persistAndBroadcast(snap, state)
	if state.ActiveContent == nil {
		return
	}
	p.b.Publish(events.Envelope{
		Topic: events.TopicStreamUpdates,
		Type:  "content_update",
		Payload: ContentUpdate{
			Type:      state.ActiveContent.Type,
			Data:      state.ActiveContent.Data,
			Timestamp: p.opts.Now(),
		},
		Timestamp: p.opts.Now(),
	})
}

func (p *Producer) persist(snap Snapshot) {
	if p.store == nil {
		return
	}
	res := retry.Do(p.ctx, func(ctx context.Context) (struct{}, error) {
		err := p.br.Do("producer_store", func() error {
			return p.store.Save(ctx, snap)
		})
		return struct{}{}, err
	}, retry.Options{})
	if res.Err != nil {
		p.logger.Warn().Err(res.Err).Msg("producer state persist failed")
	}
}

// Stop implements service.Service.
func (p *Producer) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	for _, sub := range []*bus.Subscription{p.chatSub, p.followSub, p.subSub, p.cheerSub, p.twitchSub, p.channelSub} {
		if sub != nil {
			sub.Close()
		}
	}
	if p.done != nil {
		<-p.done
	}
	return nil
}

// GetStatus implements service.Service.
func (p *Producer) GetStatus() service.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return service.Status{
		Name:    "producer",
		Running: p.ctx != nil && p.ctx.Err() == nil,
		Detail: map[string]any{
			"current_show":   string(p.currentShow),
			"interrupt_count": len(p.interruptStack),
			"timer_count":     len(p.timers),
			"version":         p.version,
		},
	}
}

// GetHealth implements service.Service.
func (p *Producer) GetHealth() service.Health {
	if p.ctx == nil || p.ctx.Err() != nil {
		return service.Health{Healthy: false, Reason: "actor stopped"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.timers) > p.opts.MaxTimers {
		return service.Health{Healthy: false, Reason: "timer count over cap"}
	}
	return service.Health{Healthy: true}
}

// GetInfo implements service.Service.
func (p *Producer) GetInfo() service.Info {
	return service.Info{Name: "producer"}
}
