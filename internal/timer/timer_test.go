package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmFiresAfterDelay(t *testing.T) {
	w := New()
	w.Arm("a1", 20*time.Millisecond, "payload")

	select {
	case f := <-w.Fires():
		assert.Equal(t, "a1", f.ID)
		assert.Equal(t, "payload", f.Payload)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, w.Armed("a1"))
}

func TestArmIsIdempotentForSameID(t *testing.T) {
	w := New()
	ref1 := w.Arm("dup", 200*time.Millisecond, nil)
	ref2 := w.Arm("dup", time.Hour, nil)

	require.Equal(t, ref1, ref2)
	assert.Equal(t, 1, w.Count())
}

func TestCancelIsIdempotent(t *testing.T) {
	w := New()
	w.Arm("x", time.Hour, nil)
	w.Cancel("x")
	assert.NotPanics(t, func() { w.Cancel("x") })
	assert.NotPanics(t, func() { w.Cancel("unknown") })
	assert.Equal(t, 0, w.Count())
}

func TestArmPeriodicFiresRepeatedly(t *testing.T) {
	w := New()
	w.ArmPeriodic("p", 15*time.Millisecond, 7)

	for i := 0; i < 3; i++ {
		select {
		case f := <-w.Fires():
			assert.Equal(t, 7, f.Payload)
		case <-time.After(time.Second):
			t.Fatal("periodic timer did not fire repeatedly")
		}
	}
	w.Cancel("p")
}
