// Package timer implements the single-shot/periodic timer primitive (L2)
// used by the Producer to schedule interrupt expiry keyed by an opaque,
// cancellable, idempotent ID.
package timer

import (
	"sync"
	"time"
)

// Ref is the handle returned by Arm. Cancel via Wheel.Cancel(id), not via
// the ref directly, so repeated cancels of the same id stay idempotent.
type Ref struct {
	ID       string
	FiresAt  time.Time
	Periodic bool
}

type entry struct {
	ref     Ref
	timer   *time.Timer
	payload any
	period  time.Duration
}

// Fire is delivered to the owner's channel when a timer fires. The owner
// receives these as ordinary mailbox messages (§5: timer firings interleave
// with other casts/calls in arrival order).
type Fire struct {
	ID      string
	Payload any
}

// Wheel manages armed timers keyed by opaque string ID. Arming an id that is
// already armed is a no-op that returns the existing ref (§4.2 policy).
// Precision target is best-effort (stdlib time.Timer drift, target ≤ 50ms).
type Wheel struct {
	mu      sync.Mutex
	entries map[string]*entry
	fires   chan Fire
}

// New creates a Wheel whose firings are delivered on the returned channel.
// The channel is buffered generously since firings are cheap payload
// deliveries; callers should still drain it promptly.
func New() *Wheel {
	return &Wheel{
		entries: make(map[string]*entry),
		fires:   make(chan Fire, 1024),
	}
}

// Fires returns the channel to receive Fire notifications on.
func (w *Wheel) Fires() <-chan Fire { return w.fires }

// Arm schedules a single-shot timer for id, firing after d with payload. If
// id is already armed, the existing ref is returned unchanged (no duplicate
// timer is created).
func (w *Wheel) Arm(id string, d time.Duration, payload any) Ref {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[id]; ok {
		return e.ref
	}

	ref := Ref{ID: id, FiresAt: time.Now().Add(d)}
	e := &entry{ref: ref, payload: payload}
	e.timer = time.AfterFunc(d, func() { w.fire(id) })
	w.entries[id] = e
	return ref
}

// ArmPeriodic schedules a recurring timer for id firing every d. Like Arm,
// arming an already-armed id is a no-op returning the existing ref.
func (w *Wheel) ArmPeriodic(id string, d time.Duration, payload any) Ref {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[id]; ok {
		return e.ref
	}

	ref := Ref{ID: id, FiresAt: time.Now().Add(d), Periodic: true}
	e := &entry{ref: ref, payload: payload, period: d}
	e.timer = time.AfterFunc(d, func() { w.firePeriodic(id) })
	w.entries[id] = e
	return ref
}

func (w *Wheel) fire(id string) {
	w.mu.Lock()
	e, ok := w.entries[id]
	if ok {
		delete(w.entries, id)
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	select {
	case w.fires <- Fire{ID: id, Payload: e.payload}:
	default:
	}
}

func (w *Wheel) firePeriodic(id string) {
	w.mu.Lock()
	e, ok := w.entries[id]
	if ok {
		e.timer = time.AfterFunc(e.period, func() { w.firePeriodic(id) })
	}
	w.mu.Unlock()

	if !ok {
		return
	}
	select {
	case w.fires <- Fire{ID: id, Payload: e.payload}:
	default:
	}
}

// Cancel stops a timer for id if armed. Unknown ids are a no-op (unknown_id
// per §7's taxonomy is not surfaced as an error — cancel is idempotent).
func (w *Wheel) Cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[id]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(w.entries, id)
}

// Armed reports whether id currently has a live timer.
func (w *Wheel) Armed(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[id]
	return ok
}

// Count returns the number of currently armed timers.
func (w *Wheel) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// IDs returns a snapshot of currently armed timer ids.
func (w *Wheel) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	return ids
}
