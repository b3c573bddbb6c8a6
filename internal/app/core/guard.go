// Package core holds primitives shared by the ledger services.
package core

import (
	"errors"
	"sync"
)

// ErrReentrant is returned when a state-mutating entry point is entered
// while another mutation on the same service is still in flight.
var ErrReentrant = errors.New("reentrant call")

// Guard is a non-reentrant scoped guard. Every state-mutating entry point
// acquires it on entry and releases it on every exit path; a nested or
// concurrent entry attempt fails with ErrReentrant instead of blocking.
//
// The execution model is a single global serial ordering, so there is no
// legitimate concurrent writer: rejecting rather than queueing keeps a
// malicious callback from re-entering mid-transaction and also keeps the
// guard free of goroutine-identity tricks.
type Guard struct {
	mu   sync.Mutex
	busy bool
}

// Enter marks the guard busy. It fails with ErrReentrant when the guard is
// already held.
func (g *Guard) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return ErrReentrant
	}
	g.busy = true
	return nil
}

// Exit releases the guard. Calling Exit on a free guard is a no-op so that
// deferred releases are always safe.
func (g *Guard) Exit() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
