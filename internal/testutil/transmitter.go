package testutil

import (
	"context"
	"sync"

	"github.com/roach88/sensornet/internal/ir"
)

// Transmission is one table handed to a RecordingTransmitter.
type Transmission struct {
	Epoch int64
	Table *ir.Table
}

// RecordingTransmitter records everything operators try to send.
//
// Thread-safety: all methods are safe for concurrent use.
type RecordingTransmitter struct {
	mu          sync.Mutex
	sent        []Transmission
	rerequested []ir.Addr
	err         error
}

// NewRecordingTransmitter creates an empty recorder.
func NewRecordingTransmitter() *RecordingTransmitter {
	return &RecordingTransmitter{}
}

// FailWith makes every later Transmit and Rerequest return err. The attempt
// is still recorded.
func (r *RecordingTransmitter) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Transmit implements operator.Transmitter.
func (r *RecordingTransmitter) Transmit(_ context.Context, epoch int64, table *ir.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Transmission{Epoch: epoch, Table: table})
	return r.err
}

// Rerequest implements operator.Transmitter.
func (r *RecordingTransmitter) Rerequest(_ context.Context, child ir.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rerequested = append(r.rerequested, child)
	return r.err
}

// Sent returns a copy of the recorded transmissions.
func (r *RecordingTransmitter) Sent() []Transmission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transmission(nil), r.sent...)
}

// Rerequested returns a copy of the children re-requested so far.
func (r *RecordingTransmitter) Rerequested() []ir.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.Addr(nil), r.rerequested...)
}
