package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/isoharness/internal/isolation"
	"github.com/roach88/isoharness/internal/store"
)

// FaultBackend is the backend name carried by injected errors.
const FaultBackend = "fault"

// Fault decides whether a transaction call fails before reaching the
// wrapped store. call is 1-based; commits counts transactions that have
// committed through this wrapper so far. A nil return lets the call through.
type Fault func(call, commits int64) error

// NoFault never fails.
func NoFault() Fault {
	return func(int64, int64) error { return nil }
}

// ConflictFirst fails the first n calls with a *store.ConflictError.
func ConflictFirst(n int64) Fault {
	return func(call, _ int64) error {
		if call <= n {
			return &store.ConflictError{Backend: FaultBackend, Err: errors.New("injected serialization failure")}
		}
		return nil
	}
}

// FailFirst fails the first n calls with err.
func FailFirst(n int64, err error) Fault {
	return func(call, _ int64) error {
		if call <= n {
			return err
		}
		return nil
	}
}

// DropAfter lets n transactions commit and then fails every later call with
// a *store.ConnectionError, like a server that went away mid-run.
func DropAfter(n int64) Fault {
	return func(_, commits int64) error {
		if commits >= n {
			return &store.ConnectionError{Backend: FaultBackend, Err: errors.New("injected connection reset")}
		}
		return nil
	}
}

// FaultyStore wraps a store.Store and injects errors into RunTransaction.
// All other methods pass through.
type FaultyStore struct {
	store.Store

	fault   Fault
	calls   atomic.Int64
	commits atomic.Int64
}

// WrapStore wraps s with fault.
func WrapStore(s store.Store, fault Fault) *FaultyStore {
	if fault == nil {
		fault = NoFault()
	}
	return &FaultyStore{Store: s, fault: fault}
}

// RunTransaction consults the fault before delegating.
func (s *FaultyStore) RunTransaction(ctx context.Context, level isolation.Level, body func(ctx context.Context, tx store.Tx) error) error {
	call := s.calls.Add(1)
	if err := s.fault(call, s.commits.Load()); err != nil {
		return err
	}
	if err := s.Store.RunTransaction(ctx, level, body); err != nil {
		return err
	}
	s.commits.Add(1)
	return nil
}

// Calls returns the number of RunTransaction calls, injected failures
// included.
func (s *FaultyStore) Calls() int64 {
	return s.calls.Load()
}

// Commits returns the number of transactions that committed.
func (s *FaultyStore) Commits() int64 {
	return s.commits.Load()
}

// FaultyOpener opens real stores and wraps each one with a fresh fault.
// Its Open method has the signature of harness.OpenFunc.
type FaultyOpener struct {
	// NewFault builds the fault for the n-th opened store, starting at 0.
	// Nil means no faults.
	NewFault func(n int) Fault

	mu     sync.Mutex
	stores []*FaultyStore
}

// Open opens cfg with store.Open and wraps the result.
func (o *FaultyOpener) Open(ctx context.Context, cfg store.Config) (store.Store, error) {
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	var fault Fault
	if o.NewFault != nil {
		fault = o.NewFault(len(o.stores))
	}
	fs := WrapStore(s, fault)
	o.stores = append(o.stores, fs)
	return fs, nil
}

// Stores returns every store opened so far, in open order.
func (o *FaultyOpener) Stores() []*FaultyStore {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*FaultyStore(nil), o.stores...)
}
