package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var fired []string

	m.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })
	m.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	m.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "b") })

	m.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, m.Pending())

	m.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, time.Unix(0, 0).Add(40*time.Millisecond), m.Now())
}

func TestManualStop(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := false

	timer := m.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	m.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestManualChainedTimers(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ticks := 0

	var tick func()
	tick = func() {
		ticks++
		if ticks < 5 {
			m.AfterFunc(16*time.Millisecond, tick)
		}
	}
	m.AfterFunc(16*time.Millisecond, tick)

	m.Advance(time.Second)
	assert.Equal(t, 5, ticks)
	assert.Zero(t, m.Pending())
}
