package coordinator

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshguard"

type metrics struct {
	messages         *prometheus.CounterVec
	attacks          prometheus.Counter
	cleanupRemoved   prometheus.Counter
	capacityFailures *prometheus.CounterVec
	registryEntries  prometheus.Gauge
	blacklistEntries prometheus.Gauge
	riskScore        prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by outcome.",
		}, []string{"outcome"}),
		attacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attacks_total",
			Help:      "Messages that produced an attack verdict.",
		}),
		cleanupRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Idle node records reclaimed by cleanup.",
		}),
		capacityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_failures_total",
			Help:      "Allocations refused because a pool was full.",
		}, []string{"pool"}),
		registryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Node records currently tracked.",
		}),
		blacklistEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blacklist_entries",
			Help:      "Blacklist entries currently stored.",
		}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Risk score computed per evaluated message.",
			Buckets:   []float64{0, 0.2, 0.4, 0.6, 0.8, 1.0},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.messages, m.attacks, m.cleanupRemoved, m.capacityFailures,
		m.registryEntries, m.blacklistEntries, m.riskScore,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}
