package operator

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/roach88/sensornet/internal/ir"
)

// ResultStore holds the child tables a query has received, keyed by epoch.
//
// Entries are created on first receipt and purged once the epoch has been
// forwarded, so memory is bounded by the number of in-flight epochs. A
// purged epoch stays closed: late reports for it are refused.
type ResultStore struct {
	mu     sync.Mutex
	epochs map[int64]*epochResults
	closed *roaring64.Bitmap
}

type epochResults struct {
	tables    []*ir.Table
	reporters *roaring64.Bitmap
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		epochs: make(map[int64]*epochResults),
		closed: roaring64.New(),
	}
}

// Add records table as from's report for epoch. A second report from the
// same node for the same epoch, or a report for a purged epoch, is ignored
// and Add returns false.
func (s *ResultStore) Add(epoch int64, from ir.Addr, table *ir.Table) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Contains(uint64(epoch)) {
		return false
	}
	e, ok := s.epochs[epoch]
	if !ok {
		e = &epochResults{reporters: roaring64.New()}
		s.epochs[epoch] = e
	}
	if !e.reporters.CheckedAdd(uint64(from)) {
		return false
	}
	e.tables = append(e.tables, table)
	return true
}

// Reported reports whether from has delivered a table for epoch.
func (s *ResultStore) Reported(epoch int64, from ir.Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epochs[epoch]
	return ok && e.reporters.Contains(uint64(from))
}

// Missing returns the members of expected that have not reported for epoch,
// in the order given.
func (s *ResultStore) Missing(epoch int64, expected []ir.Addr) []ir.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.epochs[epoch]
	var missing []ir.Addr
	for _, addr := range expected {
		if e == nil || !e.reporters.Contains(uint64(addr)) {
			missing = append(missing, addr)
		}
	}
	return missing
}

// Tables returns a snapshot of the tables received for epoch, in arrival
// order.
func (s *ResultStore) Tables(epoch int64) []*ir.Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epochs[epoch]
	if !ok {
		return nil
	}
	out := make([]*ir.Table, len(e.tables))
	copy(out, e.tables)
	return out
}

// Purge drops everything held for epoch and closes it.
func (s *ResultStore) Purge(epoch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.epochs, epoch)
	s.closed.Add(uint64(epoch))
}

// Epochs returns the number of epochs currently held.
func (s *ResultStore) Epochs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.epochs)
}
