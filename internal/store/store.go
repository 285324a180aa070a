// Package store owns the single active project's state.
//
// The committed state is an immutable, version-stamped value. Readers load it
// without locking; writers clone it, apply their change and commit with a
// compare-and-swap, retrying a bounded number of times when another writer
// committed first.
package store

import (
	"fmt"
	"sync/atomic"

	"groupsync/internal/domain"
)

const DefaultMaxRetries = 5

type Store struct {
	current    atomic.Pointer[domain.State]
	maxRetries int
}

// New returns a store holding the empty state.
func New(maxRetries int) *Store {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	s := &Store{maxRetries: maxRetries}
	empty := domain.NewState()
	s.current.Store(&empty)
	return s
}

// Load returns a copy of the latest committed state.
func (s *Store) Load() domain.State {
	return s.current.Load().Clone()
}

// Reset discards everything and commits a fresh empty state. Resetting a
// state that is already empty commits nothing and keeps its version.
func (s *Store) Reset() domain.State {
	for {
		prev := s.current.Load()
		if prev.IsEmpty() {
			return prev.Clone()
		}
		next := domain.NewState()
		next.Version = prev.Version + 1
		if s.current.CompareAndSwap(prev, &next) {
			return next.Clone()
		}
	}
}

// Mutate applies fn to a copy of the latest state and commits the result.
// An error from fn aborts the mutation. fn may run more than once and must
// not have side effects outside the state it is given.
func (s *Store) Mutate(fn func(*domain.State) error) (domain.State, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		prev := s.current.Load()
		next := prev.Clone()
		if err := fn(&next); err != nil {
			return prev.Clone(), err
		}
		next.Version = prev.Version + 1
		if s.current.CompareAndSwap(prev, &next) {
			return next.Clone(), nil
		}
	}
	return s.Load(), fmt.Errorf("commit after %d attempts: %w", s.maxRetries, domain.ErrConflict)
}

// Version returns the latest committed version.
func (s *Store) Version() uint64 {
	return s.current.Load().Version
}
