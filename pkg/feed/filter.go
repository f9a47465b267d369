// Package feed distributes the coordinator's blacklist to subscribers as
// compact Bloom filter snapshots.
package feed

import (
	"encoding/json"
	"net/netip"

	"github.com/bits-and-blooms/bloom/v3"
)

// FalsePositiveRate is the target error rate of every snapshot filter.
const FalsePositiveRate = 0.01

// Filter is an immutable snapshot of the blacklist.
type Filter struct {
	version uint64
	entries []netip.Addr
	bloom   *bloom.BloomFilter
}

// BuildFilter compiles ids into a filter sized for capacity entries.
func BuildFilter(ids []netip.Addr, capacity uint, version uint64) *Filter {
	if capacity < uint(len(ids)) {
		capacity = uint(len(ids))
	}
	if capacity == 0 {
		capacity = 1
	}

	f := &Filter{
		version: version,
		entries: append([]netip.Addr(nil), ids...),
		bloom:   bloom.NewWithEstimates(capacity, FalsePositiveRate),
	}
	for _, id := range ids {
		f.bloom.Add(id.AsSlice())
	}
	return f
}

// Contains checks if an address might be in the filter.
func (f *Filter) Contains(addr netip.Addr) bool {
	return f.bloom.Test(addr.AsSlice())
}

// Len returns the number of entries.
func (f *Filter) Len() int { return len(f.entries) }

// Version returns the snapshot version.
func (f *Filter) Version() uint64 { return f.version }

// Entries returns a copy of the compiled addresses.
func (f *Filter) Entries() []netip.Addr {
	return append([]netip.Addr(nil), f.entries...)
}

type payload struct {
	Version uint64             `json:"version"`
	Count   int                `json:"count"`
	Entries []string           `json:"entries"`
	Filter  *bloom.BloomFilter `json:"filter"`
}

// Serialize returns the JSON representation pushed to subscribers.
func (f *Filter) Serialize() ([]byte, error) {
	p := payload{
		Version: f.version,
		Count:   len(f.entries),
		Entries: make([]string, 0, len(f.entries)),
		Filter:  f.bloom,
	}
	for _, e := range f.entries {
		p.Entries = append(p.Entries, e.String())
	}
	return json.Marshal(p)
}

// Decode parses a serialized snapshot back into a Filter.
func Decode(data []byte) (*Filter, error) {
	p := payload{Filter: &bloom.BloomFilter{}}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	f := &Filter{version: p.Version, bloom: p.Filter}
	for _, s := range p.Entries {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		f.entries = append(f.entries, a)
	}
	return f, nil
}
