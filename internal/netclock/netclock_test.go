package netclock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/sensornet/internal/testutil"
)

func TestAdoptShiftsNow(t *testing.T) {
	local := testutil.NewMockClock(t)
	c := New(local)
	assert.Equal(t, testutil.Epoch0, c.Now())

	synced := testutil.Epoch0.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Adopt(synced))
	assert.Equal(t, synced, c.Now())

	local.Advance(time.Second)
	assert.Equal(t, synced.Add(time.Second), c.Now())
	assert.Equal(t, time.Second, c.Since(synced))
	assert.Equal(t, 4*time.Second, c.Until(synced.Add(5*time.Second)))
}

func TestNegativeOffset(t *testing.T) {
	c := New(testutil.NewMockClock(t))
	c.SetOffset(-time.Minute)
	assert.Equal(t, -time.Minute, c.Offset())
	assert.Equal(t, testutil.Epoch0.Add(-time.Minute), c.Now())
}

func TestTimersUseLocalDurations(t *testing.T) {
	local := testutil.NewMockClock(t)
	c := New(local)
	c.SetOffset(time.Hour)

	timer := c.NewTimer(time.Second)
	defer timer.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	local.Advance(time.Second).MustWait(ctx)

	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire after its local duration")
	}
}
