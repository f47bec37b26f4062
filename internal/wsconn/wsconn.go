// Package wsconn implements the outbound WebSocket connection primitive
// (L9) the core uses to reach third-party collaborators (Twitch EventSub,
// OBS, Rainwave — all out of scope as concrete adapters, this package only
// provides the reusable connect/reconnect/frame-exchange primitive they'd
// be built on). Grounded on the teacher's use of gobwas/ws for frame I/O,
// adapted from server-side upgrade to client-side dial.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state (§4.8).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by Send when not in the Connected state.
var ErrNotConnected = errors.New("not_connected")

// UpgradeFailedError wraps a non-101 upgrade response status.
type UpgradeFailedError struct{ Status int }

func (e *UpgradeFailedError) Error() string { return fmt.Sprintf("upgrade_failed: status %d", e.Status) }

// ErrNetwork wraps a transport-level failure distinct from a bad upgrade.
var ErrNetwork = errors.New("network_error")

// Notification is delivered to the owner on every transition and every
// incoming frame.
type Notification struct {
	State   State
	Frame   []byte
	Err     error
}

// Options configures reconnect backoff: delay = min(base*factor^attempt, max),
// then jittered by a uniform factor in [0.9, 1.1].
type Options struct {
	URL           string
	BaseDelay     time.Duration // default 1s
	MaxDelay      time.Duration // default 30s
	Factor        float64       // default 2.0
	DialTimeout   time.Duration // default 10s
	// Dial is overridable for tests.
	Dial func(ctx context.Context, url string) (io.ReadWriteCloser, error)
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Factor <= 0 {
		o.Factor = 2.0
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.Dial == nil {
		o.Dial = defaultDial
	}
	return o
}

func defaultDial(ctx context.Context, url string) (io.ReadWriteCloser, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Conn manages a single outbound WebSocket connection with automatic
// reconnect. The owner receives Notification values on notifyCh; the
// owner's death (closing ctx) terminates the connection (§5: "Process-death
// of an actor tears down its timers, connections, and subscriptions").
type Conn struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.RWMutex
	state   State
	conn    io.ReadWriteCloser
	attempt int

	notifyCh chan Notification
	cancel   context.CancelFunc
}

// New constructs a Conn in the Disconnected state. Call Run to start
// connecting; notifications arrive on the returned channel.
func New(opts Options, logger zerolog.Logger) (*Conn, <-chan Notification) {
	opts = opts.withDefaults()
	ch := make(chan Notification, 64)
	return &Conn{
		opts:     opts,
		logger:   logger.With().Str("component", "wsconn").Logger(),
		state:    Disconnected,
		notifyCh: ch,
	}, ch
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(Notification{State: s})
}

func (c *Conn) notify(n Notification) {
	select {
	case c.notifyCh <- n:
	default:
		c.logger.Warn().Msg("notification channel full, dropping")
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run drives the connect/read-loop/reconnect cycle until ctx is cancelled.
// It blocks; callers typically invoke it in its own goroutine.
func (c *Conn) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			c.closeConn()
			c.setState(Disconnected)
			return
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.notify(Notification{State: Reconnecting, Err: err})
			c.setState(Reconnecting)

			delay := c.backoffDelay()
			select {
			case <-ctx.Done():
				c.setState(Disconnected)
				return
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.attempt = 0
		c.mu.Unlock()
		c.setState(Connected)

		c.readLoop(ctx)

		c.setState(Reconnecting)
	}
}

func (c *Conn) backoffDelay() time.Duration {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	raw := float64(c.opts.BaseDelay) * math.Pow(c.opts.Factor, float64(attempt))
	if raw > float64(c.opts.MaxDelay) {
		raw = float64(c.opts.MaxDelay)
	}
	jitter := 0.9 + rand.Float64()*0.2
	return time.Duration(raw * jitter)
}

func (c *Conn) connectOnce(ctx context.Context) error {
	c.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, err := c.opts.Dial(dialCtx, c.opts.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Conn) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msg, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			c.closeConn()
			c.notify(Notification{Err: fmt.Errorf("%w: %v", ErrNetwork, err)})
			return
		}
		c.notify(Notification{State: Connected, Frame: msg})

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Conn) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Send writes a text frame, failing fast with ErrNotConnected unless the
// connection is currently Connected.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	state := c.state
	conn := c.conn
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

// Close terminates the connection and stops Run's loop.
func (c *Conn) Close() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}
