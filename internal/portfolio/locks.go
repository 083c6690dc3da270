// Package portfolio owns the per-book mutual exclusion boundary and the valued
// view of each simulated book.
package portfolio

import (
	"sync"

	"phinance/internal/types"
)

// Locks hands out one mutex per portfolio so independent books never block
// each other.
type Locks struct {
	mu    sync.Mutex
	locks map[types.PortfolioTag]*sync.Mutex
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[types.PortfolioTag]*sync.Mutex)}
}

func (l *Locks) get(p types.PortfolioTag) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[p]
	if !ok {
		m = &sync.Mutex{}
		l.locks[p] = m
	}
	return m
}

// Lock blocks until portfolio p is held and returns its unlock function.
func (l *Locks) Lock(p types.PortfolioTag) func() {
	m := l.get(p)
	m.Lock()
	return m.Unlock
}
