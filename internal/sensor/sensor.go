// Package sensor provides simulated sensors for nodes without hardware.
package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/roach88/sensornet/internal/ir"
)

// Sensor reads the local node's row of sensed values for an epoch.
type Sensor interface {
	Sense(ctx context.Context, epoch int64) (ir.Row, error)
}

// Func adapts a function to Sensor.
type Func func(ctx context.Context, epoch int64) (ir.Row, error)

func (f Func) Sense(ctx context.Context, epoch int64) (ir.Row, error) { return f(ctx, epoch) }

// Static reads the same row every epoch.
type Static struct {
	row ir.Row
}

// NewStatic creates a sensor that always reads row.
func NewStatic(row ...ir.Value) *Static {
	return &Static{row: row}
}

func (s *Static) Sense(context.Context, int64) (ir.Row, error) {
	return cloneRow(s.row), nil
}

// Column scripts one sensed column as Base + Step*epoch. A NodeAddress
// column always reads the node's own address.
type Column struct {
	Kind ir.Kind
	Base float64
	Step float64
}

// Script produces deterministic, epoch-dependent readings.
type Script struct {
	addr    ir.Addr
	columns []Column
}

// NewScript creates a scripted sensor for the node at addr.
func NewScript(addr ir.Addr, columns ...Column) (*Script, error) {
	for i, c := range columns {
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("script column %d: invalid kind %v", i, c.Kind)
		}
	}
	return &Script{addr: addr, columns: columns}, nil
}

// Schema returns the kinds of the scripted columns.
func (s *Script) Schema() ir.Schema {
	out := make(ir.Schema, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Kind
	}
	return out
}

func (s *Script) Sense(_ context.Context, epoch int64) (ir.Row, error) {
	row := make(ir.Row, len(s.columns))
	for i, c := range s.columns {
		v, err := s.read(c, epoch)
		if err != nil {
			return nil, fmt.Errorf("script column %d: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}

func (s *Script) read(c Column, epoch int64) (ir.Value, error) {
	x := c.Base + c.Step*float64(epoch)
	switch c.Kind {
	case ir.KindNodeAddress:
		return ir.NewNodeAddress(s.addr), nil
	case ir.KindBool:
		return ir.NewBool(x != 0), nil
	case ir.KindFloat32:
		return ir.NewFloat32(float32(x)), nil
	default:
		return ir.Cast(ir.NewInt64(int64(math.Round(x))), c.Kind)
	}
}

// Sampler caches the most recent reading of a source sensor. Sample is
// driven by a periodic task and Stop is called when that task ends.
//
// While sampling runs, Sense serves the latest sample for any epoch: sample
// epochs count sample periods, not query periods, so the two do not compare.
// Before the first sample and after Stop, Sense reads the source for the
// requested epoch.
//
// Thread-safety: all methods are safe for concurrent use.
type Sampler struct {
	src Sensor

	mu     sync.RWMutex
	latest ir.Row
	epoch  int64
	ok     bool
}

// NewSampler wraps src.
func NewSampler(src Sensor) *Sampler {
	return &Sampler{src: src}
}

// Sample reads the source and keeps the result.
func (s *Sampler) Sample(ctx context.Context, epoch int64) error {
	row, err := s.src.Sense(ctx, epoch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest, s.epoch, s.ok = row, epoch, true
	return nil
}

// Latest returns the last sampled row and the epoch it was taken for.
func (s *Sampler) Latest() (ir.Row, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRow(s.latest), s.epoch, s.ok
}

// Stop drops the cached sample.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest, s.epoch, s.ok = nil, 0, false
}

func (s *Sampler) Sense(ctx context.Context, epoch int64) (ir.Row, error) {
	if row, _, ok := s.Latest(); ok {
		return row, nil
	}
	return s.src.Sense(ctx, epoch)
}

func cloneRow(row ir.Row) ir.Row {
	if row == nil {
		return nil
	}
	out := make(ir.Row, len(row))
	for i, v := range row {
		out[i] = ir.Clone(v)
	}
	return out
}
