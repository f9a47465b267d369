// Package registry keeps per-sender traffic statistics in a pool whose
// size is fixed when the registry is created.
package registry

import (
	"errors"
	"net/netip"

	"github.com/bits-and-blooms/bitset"
	"github.com/sirupsen/logrus"

	"github.com/aegis-protocol/meshguard/pkg/clock"
)

// ErrCapacity is returned when no slot is free even after cleanup.
var ErrCapacity = errors.New("node registry capacity exhausted")

// Registry is a fixed arena of NodeStat records. It is not safe for
// concurrent use; the coordinator loop owns it.
//
// Pointers returned by LookupOrCreate stay valid until the record is
// removed by Sweep.
type Registry struct {
	slots   []NodeStat
	used    *bitset.BitSet
	timeout int64
	clock   clock.Clock
	log     logrus.FieldLogger
}

// New allocates a registry of capacity records. Idle inactive records are
// reclaimed once they are older than entryTimeout seconds.
func New(capacity int, entryTimeout int64, clk clock.Clock, log logrus.FieldLogger) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		slots:   make([]NodeStat, capacity),
		used:    bitset.New(uint(capacity)),
		timeout: entryTimeout,
		clock:   clk,
		log:     log.WithField("component", "registry"),
	}
}

// LookupOrCreate returns the record for id, creating it when absent. An
// existing record is marked active again. When the pool is full a cleanup
// sweep runs first; ErrCapacity is returned if that frees nothing.
func (r *Registry) LookupOrCreate(id netip.Addr) (*NodeStat, error) {
	if i, ok := r.find(id); ok {
		n := &r.slots[i]
		n.Active = true
		return n, nil
	}

	if r.Len() >= r.Cap() {
		r.Sweep()
	}

	i, ok := r.alloc()
	if !ok {
		return nil, ErrCapacity
	}

	r.slots[i] = NodeStat{
		Identity:  id,
		CreatedAt: r.clock.Now(),
		Active:    true,
	}
	r.used.Set(i)

	r.log.WithField("node", id).Info("New node tracked")
	return &r.slots[i], nil
}

// Get returns the record for id without creating or reactivating it.
func (r *Registry) Get(id netip.Addr) (*NodeStat, bool) {
	i, ok := r.find(id)
	if !ok {
		return nil, false
	}
	return &r.slots[i], true
}

// Deactivate marks the record for id inactive, making it eligible for
// cleanup once idle.
func (r *Registry) Deactivate(id netip.Addr) bool {
	n, ok := r.Get(id)
	if ok {
		n.Active = false
	}
	return ok
}

// Sweep removes inactive records idle longer than the entry timeout and
// returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	removed := 0

	for i, ok := r.used.NextSet(0); ok && i < r.Cap(); i, ok = r.used.NextSet(i + 1) {
		n := &r.slots[i]
		if !n.idle(now, r.timeout) {
			continue
		}
		r.log.WithField("node", n.Identity).Info("Cleaned up inactive node entry")
		r.slots[i] = NodeStat{}
		r.used.Clear(i)
		removed++
	}
	return removed
}

// Len returns the number of live records.
func (r *Registry) Len() uint { return r.used.Count() }

// Cap returns the pool size.
func (r *Registry) Cap() uint { return uint(len(r.slots)) }

// Snapshot copies all live records.
func (r *Registry) Snapshot() []NodeStat {
	out := make([]NodeStat, 0, r.Len())
	for i, ok := r.used.NextSet(0); ok && i < r.Cap(); i, ok = r.used.NextSet(i + 1) {
		out = append(out, r.slots[i])
	}
	return out
}

func (r *Registry) find(id netip.Addr) (uint, bool) {
	for i, ok := r.used.NextSet(0); ok && i < r.Cap(); i, ok = r.used.NextSet(i + 1) {
		if r.slots[i].Identity == id {
			return i, true
		}
	}
	return 0, false
}

func (r *Registry) alloc() (uint, bool) {
	i, ok := r.used.NextClear(0)
	if !ok || i >= r.Cap() {
		return 0, false
	}
	return i, true
}
