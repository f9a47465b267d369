package coordinator

import (
	"context"

	"github.com/aegis-protocol/meshguard/pkg/blacklist"
	"github.com/aegis-protocol/meshguard/pkg/registry"
)

// Status summarizes the coordinator for the inspection API.
type Status struct {
	State             string `json:"state"`
	RegistryEntries   uint   `json:"registry_entries"`
	RegistryCapacity  uint   `json:"registry_capacity"`
	BlacklistEntries  uint   `json:"blacklist_entries"`
	BlacklistCapacity uint   `json:"blacklist_capacity"`
	FeedVersion       uint64 `json:"feed_version"`
	Uptime            int64  `json:"uptime_seconds"`
}

// do runs fn inside the event loop and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	if c.State() != StateRunning {
		return ErrNotRunning
	}

	done := make(chan struct{})
	q := func() {
		fn()
		close(done)
	}

	select {
	case c.queries <- q:
	case <-c.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	// Handlers never block, so once accepted the query completes promptly.
	<-done
	return nil
}

// Status returns a summary taken inside the event loop.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, func() {
		s = Status{
			State:             c.State().String(),
			RegistryEntries:   c.registry.Len(),
			RegistryCapacity:  c.registry.Cap(),
			BlacklistEntries:  c.blacklist.Len(),
			BlacklistCapacity: c.blacklist.Cap(),
			FeedVersion:       c.feedVersion,
			Uptime:            c.clock.Now() - c.startedAt,
		}
	})
	return s, err
}

// Nodes returns a copy of the node registry.
func (c *Coordinator) Nodes(ctx context.Context) ([]registry.NodeStat, error) {
	var nodes []registry.NodeStat
	err := c.do(ctx, func() { nodes = c.registry.Snapshot() })
	return nodes, err
}

// Blacklist returns a copy of the stored blacklist entries.
func (c *Coordinator) Blacklist(ctx context.Context) ([]blacklist.Entry, error) {
	var entries []blacklist.Entry
	err := c.do(ctx, func() { entries = c.blacklist.Snapshot() })
	return entries, err
}
