package usecase

import "sync"

// TrackerStore is the shared registry of partial-exit trackers. Both the
// decision path and the manual-override path go through this interface
// instead of reaching into each other's maps; ResetCycle exists precisely
// so that no caller ever deletes another component's state directly.
//
// The store only guards the registry. Reading or mutating a state's
// fields requires the trade service's per-symbol lock, which is why the
// reaper and the status page walk Symbols and lock each symbol in turn
// rather than getting live pointers in bulk.
type TrackerStore interface {
	Get(symbol string) *PartialExitState
	Put(symbol string, state *PartialExitState)
	Delete(symbol string)
	ResetCycle(symbol string) *PartialExitState
	Symbols() []string
}

// MemoryTrackerStore keeps trackers in a mutex-guarded map. The store
// only protects the map itself; mutating a state concurrently is prevented
// by the trade service's per-symbol locks.
type MemoryTrackerStore struct {
	mu       sync.RWMutex
	trackers map[string]*PartialExitState
}

func NewMemoryTrackerStore() *MemoryTrackerStore {
	return &MemoryTrackerStore{
		trackers: make(map[string]*PartialExitState),
	}
}

func (s *MemoryTrackerStore) Get(symbol string) *PartialExitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackers[symbol]
}

func (s *MemoryTrackerStore) Put(symbol string, state *PartialExitState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[symbol] = state
}

func (s *MemoryTrackerStore) Delete(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, symbol)
}

// ResetCycle removes the tracker for a symbol and returns it, so the
// caller can report what was abandoned. The next qualifying sell starts a
// fresh cycle.
func (s *MemoryTrackerStore) ResetCycle(symbol string) *PartialExitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.trackers[symbol]
	delete(s.trackers, symbol)
	return state
}

// Symbols lists the symbols with an in-flight tracker. Callers lock each
// symbol before touching its state; a symbol may be gone by then.
func (s *MemoryTrackerStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.trackers))
	for symbol := range s.trackers {
		out = append(out, symbol)
	}
	return out
}
