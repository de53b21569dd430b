package testutil

import (
	"testing"
	"time"

	"github.com/coder/quartz"
)

// Epoch0 is the fixed wall-clock start used by deterministic tests.
var Epoch0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewMockClock returns a quartz mock clock set to Epoch0.
//
// Tests drive time explicitly with Advance; nothing fires on its own.
func NewMockClock(t testing.TB) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(Epoch0)
	return clock
}
