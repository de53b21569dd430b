package node

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/store"
)

// DefaultSequenceBlock is how many local sequence numbers a node reserves
// in the store at a time.
const DefaultSequenceBlock int32 = 1024

// Sequence hands out a node's local sequence numbers. Numbers come from
// blocks reserved in the store, so a restarted node never reuses one.
// Without a store the counter starts at 1 and lives in memory only.
type Sequence struct {
	addr  ir.Addr
	store *store.Store
	block int32

	mu   sync.Mutex
	next atomic.Int32
	end  int32 // first number past the reserved block; guarded by mu
}

// NewSequence creates the counter for addr and reserves its first block.
func NewSequence(ctx context.Context, addr ir.Addr, st *store.Store, block int32) (*Sequence, error) {
	if block <= 0 {
		block = DefaultSequenceBlock
	}
	s := &Sequence{addr: addr, store: st, block: block}
	if st == nil {
		s.next.Store(1)
		s.end = math.MaxInt32
		return s, nil
	}
	if err := s.reserve(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sequence) reserve(ctx context.Context) error {
	start, err := s.store.ReserveSequence(ctx, s.addr, s.block)
	if err != nil {
		return err
	}
	s.next.Store(start)
	s.end = start + s.block
	return nil
}

// Next returns the next unused sequence number.
func (s *Sequence) Next(ctx context.Context) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next.Load() >= s.end {
		if s.store == nil {
			return 0, fmt.Errorf("node %d: sequence exhausted", s.addr)
		}
		if err := s.reserve(ctx); err != nil {
			return 0, err
		}
	}
	return s.next.Inc() - 1, nil
}

// Peek returns the number Next would hand out without reserving it.
func (s *Sequence) Peek() int32 { return s.next.Load() }
