package wsconn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	r      *bytes.Buffer
	closed int32
}

func (f *fakeConn) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeConn) Close() error                { atomic.StoreInt32(&f.closed, 1); return nil }

func TestSendFailsFastWhenNotConnected(t *testing.T) {
	c, _ := New(Options{URL: "ws://example", Dial: func(ctx context.Context, url string) (io.ReadWriteCloser, error) {
		return nil, errors.New("refused")
	}}, zerolog.Nop())

	err := c.Send([]byte("hi"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectBackoffIncreasesThenCaps(t *testing.T) {
	attempts := int32(0)
	c, notifications := New(Options{
		URL:       "ws://example",
		BaseDelay: 2 * time.Millisecond,
		MaxDelay:  6 * time.Millisecond,
		Factor:    2,
		Dial: func(ctx context.Context, url string) (io.ReadWriteCloser, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				return nil, errors.New("dial failed")
			}
			return &fakeConn{r: bytes.NewBuffer(nil)}, nil
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	deadline := time.After(2 * time.Second)
	connected := false
	for !connected {
		select {
		case n := <-notifications:
			if n.State == Connected {
				connected = true
			}
		case <-deadline:
			t.Fatal("never reached Connected state")
		}
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))

	// The delay grows by Factor per failed attempt and is capped at MaxDelay,
	// each value jittered by ±10%.
	probe, _ := New(Options{BaseDelay: 2 * time.Millisecond, MaxDelay: 6 * time.Millisecond, Factor: 2}, zerolog.Nop())
	assert.InDelta(t, float64(2*time.Millisecond), float64(probe.backoffDelay()), float64(200*time.Microsecond)+1)
	assert.InDelta(t, float64(4*time.Millisecond), float64(probe.backoffDelay()), float64(400*time.Microsecond)+1)
	assert.InDelta(t, float64(6*time.Millisecond), float64(probe.backoffDelay()), float64(600*time.Microsecond)+1)
}

func TestCloseStopsReconnectLoop(t *testing.T) {
	c, _ := New(Options{
		URL: "ws://example",
		Dial: func(ctx context.Context, url string) (io.ReadWriteCloser, error) {
			return nil, errors.New("always fails")
		},
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	}, zerolog.Nop())

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Close")
	}
}

func TestSuccessfulConnectResetsAttemptCounter(t *testing.T) {
	calls := int32(0)
	c, notifications := New(Options{
		URL:       "ws://example",
		BaseDelay: time.Millisecond,
		Dial: func(ctx context.Context, url string) (io.ReadWriteCloser, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errors.New("dial failed")
			}
			return &fakeConn{r: bytes.NewBuffer(nil)}, nil
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		select {
		case n := <-notifications:
			return n.State == Connected
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	// Two failed dials advanced the counter; every later dial succeeds, so
	// the successful connect leaves it at 0.
	c.mu.RLock()
	attempt := c.attempt
	c.mu.RUnlock()
	assert.Equal(t, 0, attempt)
}
