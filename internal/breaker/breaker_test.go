package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripsOpenAfterThresholdFailures(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 3, CooldownMs: time.Hour})

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Allow("svc"))
		r.Failure("svc")
	}

	assert.Equal(t, Open, r.StateOf("svc"))
	assert.ErrorIs(t, r.Allow("svc"), ErrOpen)
}

func TestHalfOpenAfterCooldownAdmitsSingleProbe(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1, CooldownMs: 10 * time.Millisecond})

	require.NoError(t, r.Allow("svc"))
	r.Failure("svc")
	assert.Equal(t, Open, r.StateOf("svc"))

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, r.Allow("svc")) // probe admitted
	assert.Equal(t, HalfOpen, r.StateOf("svc"))
	assert.ErrorIs(t, r.Allow("svc"), ErrOpen) // second concurrent probe rejected
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1, CooldownMs: 5 * time.Millisecond})
	require.NoError(t, r.Allow("svc"))
	r.Failure("svc")
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Allow("svc"))
	r.Success("svc")

	assert.Equal(t, Closed, r.StateOf("svc"))
	require.NoError(t, r.Allow("svc"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1, CooldownMs: 5 * time.Millisecond})
	require.NoError(t, r.Allow("svc"))
	r.Failure("svc")
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Allow("svc"))
	r.Failure("svc")

	assert.Equal(t, Open, r.StateOf("svc"))
}

func TestDoShortCircuitsWithoutCallingFn(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1, CooldownMs: time.Hour})

	boom := errors.New("boom")
	err := r.Do("svc", func() error { return boom }) // first call always allowed, trips breaker
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Open, r.StateOf("svc"))

	called := false
	err = r.Do("svc", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestServicesAreIndependent(t *testing.T) {
	r := NewRegistry(Options{FailureThreshold: 1, CooldownMs: time.Hour})
	r.Failure("a")
	assert.Equal(t, Open, r.StateOf("a"))
	assert.Equal(t, Closed, r.StateOf("b"))
}
