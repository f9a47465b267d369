// Package coordinator runs the mesh root's flood protection: every inbound
// message is checked against the blacklist, recorded in the node registry
// and scored by the detection engine; legitimate messages are echoed back.
//
// All pool state is owned by a single event loop (Run). Messages, the
// periodic cleanup tick and inspection queries are handled one at a time,
// so the pools need no locking.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/aegis-protocol/meshguard/pkg/blacklist"
	"github.com/aegis-protocol/meshguard/pkg/clock"
	"github.com/aegis-protocol/meshguard/pkg/config"
	"github.com/aegis-protocol/meshguard/pkg/detection"
	"github.com/aegis-protocol/meshguard/pkg/feed"
	"github.com/aegis-protocol/meshguard/pkg/registry"
	"github.com/aegis-protocol/meshguard/pkg/transport"
)

var (
	ErrAlreadyRunning = errors.New("coordinator already running")
	ErrNotRunning     = errors.New("coordinator not running")
)

// Sender delivers responses. Sends are fire-and-forget.
type Sender interface {
	Send(to netip.AddrPort, payload []byte) error
}

// Publisher receives serialized blacklist snapshots.
type Publisher interface {
	Publish(data []byte)
}

// Options carries the coordinator's collaborators.
type Options struct {
	Sender     Sender
	Clock      clock.Clock
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
	Publisher  Publisher
}

// Coordinator is one independent mesh root instance.
type Coordinator struct {
	cfg       *config.Config
	sender    Sender
	clock     clock.Clock
	log       logrus.FieldLogger
	publisher Publisher
	metrics   *metrics

	registry  *registry.Registry
	blacklist *blacklist.Store
	engine    *detection.Engine

	state       atomic.Int32
	inbox       chan transport.Message
	queries     chan func()
	stopped     chan struct{}
	tick        <-chan time.Time
	startedAt   int64
	feedVersion uint64
}

// New builds a coordinator in StateInit with empty pools.
func New(cfg *config.Config, opts Options) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("coordinator requires a sender")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewMonotonic()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}

	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:       cfg,
		sender:    opts.Sender,
		clock:     opts.Clock,
		log:       opts.Logger.WithField("component", "coordinator"),
		publisher: opts.Publisher,
		metrics:   m,
		registry: registry.New(cfg.Pools.MaxNodes, config.Seconds(cfg.Pools.EntryTimeout),
			opts.Clock, opts.Logger),
		blacklist: blacklist.New(cfg.Pools.MaxBlacklist, config.Seconds(cfg.Pools.BlacklistTimeout),
			opts.Clock, opts.Logger),
		engine:  detection.New(detection.ParamsFrom(cfg.Detection), opts.Logger),
		inbox:   make(chan transport.Message, cfg.InboxSize),
		queries: make(chan func()),
		stopped: make(chan struct{}),
	}
	c.blacklist.OnChange(c.blacklistChanged)
	return c, nil
}

// State reports the lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Deliver queues msg for the event loop. It never blocks; a full inbox
// drops the message and returns false.
func (c *Coordinator) Deliver(msg transport.Message) bool {
	select {
	case c.inbox <- msg:
		return true
	default:
		c.metrics.messages.WithLabelValues(outcomeInboxFull).Inc()
		c.log.WithField("node", msg.Sender()).Warn("Inbox full, dropping packet")
		return false
	}
}

// HandleMessage processes one inbound message to completion. It must only
// be called from the event loop, or directly while no loop runs.
func (c *Coordinator) HandleMessage(msg transport.Message) Outcome {
	id := msg.Sender()
	log := c.log.WithField("node", id)

	if c.blacklist.IsBlacklisted(id) {
		log.Warn("Dropped packet from blacklisted node")
		return c.record(OutcomeDroppedBlacklisted)
	}

	node, err := c.registry.LookupOrCreate(id)
	if err != nil {
		c.metrics.capacityFailures.WithLabelValues("registry").Inc()
		log.WithError(err).Warn("Failed to allocate memory for node statistics")
		return c.record(OutcomeDroppedCapacity)
	}

	v := c.engine.Evaluate(node, len(msg.Payload), c.clock.Now())
	c.metrics.riskScore.Observe(v.Risk)

	if v.Attack {
		c.metrics.attacks.Inc()
		// A full blacklist leaves the sender unsuppressed; the store logs it.
		if err := c.blacklist.Add(id); err != nil {
			c.metrics.capacityFailures.WithLabelValues("blacklist").Inc()
		}
		c.registry.Deactivate(id)
		return c.record(OutcomeAttack)
	}

	log.WithField("risk", v.Risk).Debug("Legitimate packet")
	if err := c.sender.Send(msg.From, msg.Payload); err != nil {
		log.WithError(err).Warn("Failed to send response")
	}
	return c.record(OutcomeEchoed)
}

// Cleanup reclaims idle inactive node records.
func (c *Coordinator) Cleanup() int {
	removed := c.registry.Sweep()
	c.metrics.cleanupRemoved.Add(float64(removed))
	c.metrics.registryEntries.Set(float64(c.registry.Len()))
	if removed > 0 {
		c.log.WithField("removed", removed).Info("Periodic cleanup")
	}
	return removed
}

func (c *Coordinator) record(o Outcome) Outcome {
	c.metrics.messages.WithLabelValues(o.String()).Inc()
	c.metrics.registryEntries.Set(float64(c.registry.Len()))
	c.metrics.blacklistEntries.Set(float64(c.blacklist.Len()))
	return o
}

func (c *Coordinator) blacklistChanged() {
	c.metrics.blacklistEntries.Set(float64(c.blacklist.Len()))
	c.publish()
}

// publish compiles the blacklist into a new feed snapshot.
func (c *Coordinator) publish() {
	if c.publisher == nil {
		return
	}
	c.feedVersion++
	f := feed.BuildFilter(c.blacklist.Identities(), c.blacklist.Cap(), c.feedVersion)
	data, err := f.Serialize()
	if err != nil {
		c.log.WithError(err).Error("Failed to serialize blacklist feed")
		return
	}
	c.publisher.Publish(data)
}

// Run moves the coordinator to StateRunning and processes events until ctx
// is cancelled, then leaves it in StateStopped.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return ErrAlreadyRunning
	}
	defer func() {
		c.state.Store(int32(StateStopped))
		close(c.stopped)
	}()

	c.startedAt = c.clock.Now()
	tick := c.tick
	if tick == nil {
		ticker := time.NewTicker(c.cfg.Pools.CleanupInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.publish()
	c.log.WithFields(logrus.Fields{
		"max_nodes":     c.registry.Cap(),
		"max_blacklist": c.blacklist.Cap(),
	}).Info("Coordinator started as mesh root with flood protection")

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Coordinator stopping")
			return ctx.Err()
		case msg := <-c.inbox:
			c.HandleMessage(msg)
		case <-tick:
			c.Cleanup()
		case q := <-c.queries:
			q()
		}
	}
}
