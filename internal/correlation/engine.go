// Package correlation implements the Correlation Engine (C2): it holds two
// sliding buffers (transcription, chat), scores chat arrivals against
// recent transcription snippets, deduplicates by fingerprint, and persists
// accepted correlations off the hot path.
package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/streamcore/overlay-engine/internal/breaker"
	"github.com/streamcore/overlay-engine/internal/bus"
	"github.com/streamcore/overlay-engine/internal/correlationstore"
	"github.com/streamcore/overlay-engine/internal/events"
	"github.com/streamcore/overlay-engine/internal/retry"
	"github.com/streamcore/overlay-engine/internal/service"
	"github.com/streamcore/overlay-engine/internal/window"
)

// Defaults per §6.
const (
	TranscriptionWindow = 30 * time.Second
	ChatWindow          = 30 * time.Second
	BufferMaxSize       = 100
	LookbackMin         = 3000 * time.Millisecond
	LookbackMax         = 7000 * time.Millisecond
	FingerprintRetention = 5 * time.Minute
	ActiveCorrelationsCap = 50
	MinConfidence        = 0.4
)

type transcriptionItem struct {
	id   string
	text string
	ts   time.Time
}

func (t transcriptionItem) Ts() time.Time { return t.ts }

type chatItem struct {
	id   string
	user string
	text string
	emote bool
	ts    time.Time
}

func (c chatItem) Ts() time.Time { return c.ts }

// FormattedCorrelation is published on correlation:insights.
type FormattedCorrelation struct {
	Correlation correlationstore.Correlation
}

// Options configures the Engine. Now is overridable for tests.
type Options struct {
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine is the C2 actor.
type Engine struct {
	opts   Options
	logger zerolog.Logger
	b      *bus.Bus
	store  correlationstore.Store
	br     *breaker.Registry

	transcriptions *window.Buffer[transcriptionItem]
	chats          *window.Buffer[chatItem]

	mu               sync.Mutex
	fingerprints     map[string]time.Time
	activeCorrelations []correlationstore.Correlation
	sessionID        string

	transcriptionSub *bus.Subscription
	eventsSub        *bus.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a correlation Engine.
func New(b *bus.Bus, store correlationstore.Store, br *breaker.Registry, opts Options, logger zerolog.Logger) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:         opts,
		logger:       logger.With().Str("component", "correlation").Logger(),
		b:            b,
		store:        store,
		br:           br,
		transcriptions: window.New[transcriptionItem](TranscriptionWindow, BufferMaxSize),
		chats:          window.New[chatItem](ChatWindow, BufferMaxSize),
		fingerprints:   make(map[string]time.Time),
	}
}

// Start subscribes to transcription:live and events, and begins the
// per-second pruning loop.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.ctx = ctx
	e.cancel = cancel
	e.done = make(chan struct{})

	e.transcriptionSub = e.b.Subscribe(events.TopicTranscriptionLive)
	e.eventsSub = e.b.Subscribe(events.TopicEvents)

	go e.run(ctx)
	go e.prunerLoop(ctx)
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-e.transcriptionSub.C():
			if !ok {
				return
			}
			e.handleTranscription(env)
		case env, ok := <-e.eventsSub.C():
			if !ok {
				return
			}
			e.handleEvent(env)
		}
	}
}

func (e *Engine) handleTranscription(env events.Envelope) {
	snip, ok := env.Payload.(events.TranscriptionSnippet)
	if !ok {
		e.logger.Warn().Msg("malformed_event: transcription payload has wrong type")
		return
	}
	e.transcriptions.Add(transcriptionItem{id: snip.ID, text: snip.Text, ts: time.UnixMilli(snip.TimestampMs)})
}

func (e *Engine) handleEvent(env events.Envelope) {
	switch env.Type {
	case events.TypeStreamStarted:
		e.onStreamStarted()
		return
	case events.TypeStreamStopped:
		e.onStreamStopped()
		return
	}

	switch msg := env.Payload.(type) {
	case events.ChatMessage:
		e.onChatMessage(msg.UserName, env.CorrelationID, msg.Text, len(msg.Emotes) > 0 || len(msg.NativeEmotes) > 0, time.UnixMilli(msg.TimestampMs))
	case events.TwitchChatData:
		e.onChatMessage(msg.ChatterUserName, msg.MessageID, msg.Message.Text, len(msg.Message.Emotes) > 0, e.opts.Now())
	default:
		e.logger.Warn().Str("type", string(env.Type)).Msg("malformed_event: unrecognized events payload")
	}
}

// onChatMessage implements the §4.10 processing contract.
func (e *Engine) onChatMessage(user, messageID, text string, hasEmote bool, ts time.Time) {
	if messageID == "" {
		messageID = uuid.NewString()
	}
	e.chats.Add(chatItem{id: messageID, user: user, text: text, emote: hasEmote, ts: ts})

	now := ts
	lo := now.Add(-LookbackMax)
	hi := now.Add(-LookbackMin)
	candidates := e.transcriptions.Range(lo, hi)
	if len(candidates) == 0 {
		return
	}

	chatIn := ChatInput{MessageID: messageID, User: user, Text: text, HasEmote: hasEmote}

	var best *Scored
	for _, t := range candidates {
		offset := now.Sub(t.ts).Milliseconds()
		if offset < int64(LookbackMin/time.Millisecond) || offset > int64(LookbackMax/time.Millisecond) {
			continue
		}
		cand := Candidate{TranscriptionID: t.id, TranscriptionText: t.text, TimeOffsetMs: offset}
		scored := scoreCorrelation(chatIn, cand)
		if scored.Confidence <= MinConfidence {
			continue
		}
		if best == nil || isBetter(scored, *best) {
			sc := scored
			best = &sc
		}
	}
	if best == nil {
		return
	}

	fingerprint := fmt.Sprintf("%s:%s:%s", best.Candidate.TranscriptionID, messageID, best.Pattern)
	e.mu.Lock()
	if seenAt, dup := e.fingerprints[fingerprint]; dup && e.opts.Now().Sub(seenAt) < FingerprintRetention {
		e.mu.Unlock()
		return
	}
	e.fingerprints[fingerprint] = e.opts.Now()
	sessionID := e.sessionID
	e.mu.Unlock()

	c := correlationstore.Correlation{
		ID:                uuid.NewString(),
		TranscriptionID:   best.Candidate.TranscriptionID,
		TranscriptionText: best.Candidate.TranscriptionText,
		ChatMessageID:     messageID,
		ChatUser:          user,
		ChatText:          text,
		Pattern:           best.Pattern,
		Confidence:        best.Confidence,
		TimeOffsetMs:      best.Candidate.TimeOffsetMs,
		Timestamp:         now,
		SessionID:         sessionID,
	}

	e.mu.Lock()
	e.activeCorrelations = append(e.activeCorrelations, c)
	if len(e.activeCorrelations) > ActiveCorrelationsCap {
		e.activeCorrelations = e.activeCorrelations[len(e.activeCorrelations)-ActiveCorrelationsCap:]
	}
	e.mu.Unlock()

	e.b.Publish(events.Envelope{
		Topic:     events.TopicCorrelationInsights,
		Type:      "new_correlation",
		Payload:   FormattedCorrelation{Correlation: c},
		Timestamp: e.opts.Now(),
	})

	go e.persistAsync(c)
}

// isBetter selects the higher-confidence candidate; ties broken by
// smallest |offset-5000|.
func isBetter(a, b Scored) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	da := abs(a.Candidate.TimeOffsetMs - 5000)
	db := abs(b.Candidate.TimeOffsetMs - 5000)
	return da < db
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// persistAsync writes c to the Correlation Store off the hot path, wrapped
// by retry+breaker (§4.10 point 5, §7 store_failed).
func (e *Engine) persistAsync(c correlationstore.Correlation) {
	if e.store == nil {
		return
	}
	res := retry.Do(e.ctx, func(ctx context.Context) (struct{}, error) {
		err := e.br.Do("correlation_store", func() error {
			return e.store.Save(ctx, c)
		})
		return struct{}{}, err
	}, retry.Options{})
	if res.Err != nil {
		e.logger.Warn().Err(res.Err).Str("correlation_id", c.ID).Msg("store_failed")
	}
}

func (e *Engine) onStreamStarted() {
	if e.store == nil {
		e.mu.Lock()
		e.fingerprints = make(map[string]time.Time)
		e.activeCorrelations = nil
		e.sessionID = ""
		e.mu.Unlock()
		return
	}

	res := retry.Do(e.ctx, func(ctx context.Context) (string, error) {
		var id string
		err := e.br.Do("correlation_store", func() error {
			var innerErr error
			id, innerErr = e.store.StartSession(ctx)
			return innerErr
		})
		return id, err
	}, retry.Options{})
	sessionID, err := res.Value, res.Err

	e.mu.Lock()
	defer e.mu.Unlock()
	e.fingerprints = make(map[string]time.Time)
	e.activeCorrelations = nil
	if err != nil {
		e.logger.Warn().Err(err).Msg("session_start_failed")
		e.sessionID = ""
		return
	}
	e.sessionID = sessionID
}

func (e *Engine) onStreamStopped() {
	e.mu.Lock()
	sessionID := e.sessionID
	e.sessionID = ""
	e.mu.Unlock()

	if sessionID == "" || e.store == nil {
		return
	}
	if err := e.store.EndSession(e.ctx, sessionID); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to end session")
	}
}

func (e *Engine) prunerLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.opts.Now()
			e.transcriptions.Prune(now)
			e.chats.Prune(now)
			e.pruneFingerprints(now)
		}
	}
}

func (e *Engine) pruneFingerprints(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for fp, seenAt := range e.fingerprints {
		if now.Sub(seenAt) >= FingerprintRetention {
			delete(e.fingerprints, fp)
		}
	}
}

// ActiveCorrelations returns a snapshot of recently accepted correlations.
func (e *Engine) ActiveCorrelations() []correlationstore.Correlation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]correlationstore.Correlation, len(e.activeCorrelations))
	copy(out, e.activeCorrelations)
	return out
}

// Stop implements service.Service.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.transcriptionSub != nil {
		e.transcriptionSub.Close()
	}
	if e.eventsSub != nil {
		e.eventsSub.Close()
	}
	if e.done != nil {
		<-e.done
	}
	return nil
}

// GetStatus implements service.Service.
func (e *Engine) GetStatus() service.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return service.Status{
		Name:    "correlation",
		Running: e.ctx != nil && e.ctx.Err() == nil,
		Detail: map[string]any{
			"active_correlations": len(e.activeCorrelations),
			"session_id":          e.sessionID,
		},
	}
}

// GetHealth implements service.Service.
func (e *Engine) GetHealth() service.Health {
	if e.ctx == nil || e.ctx.Err() != nil {
		return service.Health{Healthy: false, Reason: "actor stopped"}
	}
	return service.Health{Healthy: true}
}

// GetInfo implements service.Service.
func (e *Engine) GetInfo() service.Info {
	return service.Info{Name: "correlation"}
}
