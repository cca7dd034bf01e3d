package checkpoint

import (
	"sync"

	"github.com/hupe1980/vaagent/core"
)

// ThreadLocker hands out non-blocking, per-thread write leases. A second
// Acquire for a held id fails with core.ErrThreadBusy instead of queueing.
type ThreadLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewThreadLocker creates an empty locker.
func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{held: make(map[string]struct{})}
}

// Acquire takes the lease for id. The returned release func is idempotent.
func (l *ThreadLocker) Acquire(id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[id]; busy {
		return nil, core.ErrThreadBusy
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether id is currently leased.
func (l *ThreadLocker) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}
