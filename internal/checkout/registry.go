package checkout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry keeps one Machine per (customer, session) so the checkout lock is
// shared by every request of that session. Idle machines are evicted by
// EvictIdle; their cart and pending payments live in the kv store.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	machines map[string]*Machine
}

func NewRegistry(d Deps) *Registry {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Registry{deps: d, machines: make(map[string]*Machine)}
}

func (r *Registry) Get(customerID, sessionID string) *Machine {
	key := customerID + "/" + sessionID
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[key]
	if !ok {
		m = NewMachine(r.deps, customerID, sessionID)
		r.machines[key] = m
	}
	m.touch()
	return m
}

// Len returns the number of live machines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Evict drops machines unused for longer than idle. Machines holding the
// checkout lock or running a cart mutation are kept.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.deps.Now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, m := range r.machines {
		since, ok := m.idleSince()
		if ok && since.Before(cutoff) {
			delete(r.machines, key)
			n++
		}
	}
	return n
}

// EvictIdle runs Evict every idle/2 until ctx is done.
func (r *Registry) EvictIdle(ctx context.Context, idle time.Duration) {
	if idle <= 0 {
		return
	}
	t := time.NewTicker(idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Evict(idle); n > 0 && r.deps.Log != nil {
				r.deps.Log.Debug("evicted idle checkout machines", zap.Int("count", n))
			}
		}
	}
}
