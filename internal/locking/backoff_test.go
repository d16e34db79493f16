package locking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DefaultSequence(t *testing.T) {
	t.Parallel()

	b := DefaultBackoff()
	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		160 * time.Millisecond,
		320 * time.Millisecond,
		640 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "interval %d", i)
	}

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestBackoff_CustomCap(t *testing.T) {
	t.Parallel()

	b := Backoff{Initial: 10 * time.Millisecond, Factor: 2, Cap: 25 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 20*time.Millisecond, b.Next())
	assert.Equal(t, 25*time.Millisecond, b.Next())
	assert.Equal(t, 25*time.Millisecond, b.Next())
}

func TestBackoff_ZeroValue(t *testing.T) {
	t.Parallel()

	var b Backoff
	assert.Equal(t, DefaultInitialBackoff, b.Next())
	assert.Equal(t, DefaultInitialBackoff, b.Next(), "factor below 1 keeps the interval flat")
}
