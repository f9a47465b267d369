// Package blacklist is a bounded, time-limited suppression list. Expired
// entries are discovered on lookup rather than swept.
package blacklist

import (
	"errors"
	"net/netip"

	"github.com/bits-and-blooms/bitset"
	"github.com/sirupsen/logrus"

	"github.com/aegis-protocol/meshguard/pkg/clock"
)

// ErrFull is returned by Add when every slot is taken.
var ErrFull = errors.New("blacklist capacity exhausted")

// Entry is one suppressed identity.
type Entry struct {
	Identity  netip.Addr `json:"identity"`
	Timestamp int64      `json:"timestamp"`
}

// Store holds at most a fixed number of entries. It is not safe for
// concurrent use.
type Store struct {
	entries  []Entry
	used     *bitset.BitSet
	timeout  int64
	clock    clock.Clock
	log      logrus.FieldLogger
	onChange func()
}

// New allocates a store of capacity entries that expire after timeout seconds.
func New(capacity int, timeout int64, clk clock.Clock, log logrus.FieldLogger) *Store {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		entries: make([]Entry, capacity),
		used:    bitset.New(uint(capacity)),
		timeout: timeout,
		clock:   clk,
		log:     log.WithField("component", "blacklist"),
	}
}

// OnChange registers fn to run after an entry is added or evicted.
func (s *Store) OnChange(fn func()) {
	s.onChange = fn
}

// IsBlacklisted reports whether id is suppressed. An entry older than the
// timeout is evicted by this call and reported as not blacklisted.
func (s *Store) IsBlacklisted(id netip.Addr) bool {
	return s.lookup(id, true)
}

// lookup is IsBlacklisted with the change hook optional on eviction.
func (s *Store) lookup(id netip.Addr, notify bool) bool {
	i, ok := s.find(id)
	if !ok {
		return false
	}

	if s.clock.Now()-s.entries[i].Timestamp > s.timeout {
		s.entries[i] = Entry{}
		s.used.Clear(i)
		s.log.WithField("node", id).Info("Node removed from blacklist")
		if notify {
			s.changed()
		}
		return false
	}
	return true
}

// Add blacklists id. An identity already present is left untouched, so
// repeated offences never extend the original suppression. When the store
// is full the failure is logged and ErrFull returned; id is not suppressed.
// Replacing an expired entry for id fires the change hook once.
func (s *Store) Add(id netip.Addr) error {
	if s.lookup(id, false) {
		return nil
	}

	i, ok := s.used.NextClear(0)
	if !ok || i >= s.Cap() {
		s.log.WithField("node", id).Warn("Failed to blacklist node - memory full")
		return ErrFull
	}

	s.entries[i] = Entry{Identity: id, Timestamp: s.clock.Now()}
	s.used.Set(i)
	s.log.WithField("node", id).Warn("Node blacklisted")
	s.changed()
	return nil
}

// Len returns the number of stored entries, expired ones included until
// they are looked up.
func (s *Store) Len() uint { return s.used.Count() }

// Cap returns the pool size.
func (s *Store) Cap() uint { return uint(len(s.entries)) }

// Snapshot copies the stored entries without evicting expired ones.
func (s *Store) Snapshot() []Entry {
	out := make([]Entry, 0, s.Len())
	for i, ok := s.used.NextSet(0); ok && i < s.Cap(); i, ok = s.used.NextSet(i + 1) {
		out = append(out, s.entries[i])
	}
	return out
}

// Identities returns the stored identities.
func (s *Store) Identities() []netip.Addr {
	snap := s.Snapshot()
	ids := make([]netip.Addr, len(snap))
	for i, e := range snap {
		ids[i] = e.Identity
	}
	return ids
}

func (s *Store) find(id netip.Addr) (uint, bool) {
	for i, ok := s.used.NextSet(0); ok && i < s.Cap(); i, ok = s.used.NextSet(i + 1) {
		if s.entries[i].Identity == id {
			return i, true
		}
	}
	return 0, false
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
