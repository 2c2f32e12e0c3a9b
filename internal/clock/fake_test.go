package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClockFiresDueTimers(t *testing.T) {
	c := NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	var fired []string
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })
	stopped := c.AfterFunc(2*time.Second, func() { fired = append(fired, "stopped") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(4 * time.Second)
	assert.Equal(t, []string{"early"}, fired)
	assert.Equal(t, 1, c.PendingTimers())

	c.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Equal(t, 0, c.PendingTimers())
}

func TestFakeClockNowIsUTC(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	c := NewFakeClock(time.Date(2026, 1, 1, 7, 0, 0, 0, loc))
	assert.Equal(t, time.UTC, c.Now().Location())
	c.Advance(time.Minute)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC), c.Now())
}
