package testutil

import (
	"context"
	"sync"

	"github.com/roach88/sensornet/internal/ir"
)

// StaticSensor returns the same row for every epoch and counts reads.
//
// Thread-safety: all methods are safe for concurrent use.
type StaticSensor struct {
	mu    sync.Mutex
	row   ir.Row
	err   error
	reads int
}

// NewStaticSensor creates a sensor that always reads row.
func NewStaticSensor(row ...ir.Value) *StaticSensor {
	return &StaticSensor{row: row}
}

// FailWith makes every later read return err.
func (s *StaticSensor) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sense implements operator.Sensor.
func (s *StaticSensor) Sense(context.Context, int64) (ir.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	out := make(ir.Row, len(s.row))
	for i, v := range s.row {
		out[i] = ir.Clone(v)
	}
	return out, nil
}

// Reads returns how many times Sense has been called.
func (s *StaticSensor) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
