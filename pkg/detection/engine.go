// Package detection scores each incoming message from a sender and decides
// whether the sender is flooding.
//
// Two signals contribute to the risk score:
//   - rate: more than RateLimitPackets messages inside the same whole
//     second adds RateWeight. The window is a single clock tick, so a
//     burst that straddles a second boundary is undercounted.
//   - pattern: once MinPackets messages were seen, a traffic vector whose
//     cosine similarity to the flat baseline falls below
//     DetectionThreshold adds PatternWeight.
//
// The score is recomputed from scratch on every message. With the default
// weights neither signal alone reaches AttackThreshold; both must fire.
package detection

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/aegis-protocol/meshguard/pkg/config"
	"github.com/aegis-protocol/meshguard/pkg/registry"
	"github.com/aegis-protocol/meshguard/pkg/similarity"
)

// Params are the detection constants.
type Params struct {
	MinPackets         uint32
	RateLimitPackets   uint32
	RateWeight         float64
	PatternWeight      float64
	DetectionThreshold float64
	AttackThreshold    float64
	BaselineSize       uint32
}

// ParamsFrom converts the configuration section.
func ParamsFrom(c config.DetectionConfig) Params {
	return Params{
		MinPackets:         uint32(c.MinPacketsForDetection),
		RateLimitPackets:   uint32(c.RateLimitPackets),
		RateWeight:         c.RateWeight,
		PatternWeight:      c.PatternWeight,
		DetectionThreshold: c.DetectionThreshold,
		AttackThreshold:    c.AttackThreshold,
		BaselineSize:       c.BaselineSize,
	}
}

// DefaultParams returns the reference constants.
func DefaultParams() Params {
	return ParamsFrom(config.Default().Detection)
}

// Verdict is the outcome of evaluating one message.
type Verdict struct {
	Risk             float64
	Attack           bool
	RateExceeded     bool
	PatternAnomalous bool

	// Similarity is only meaningful when PatternChecked is set.
	Similarity     float64
	PatternChecked bool
}

// Engine evaluates messages against fixed parameters. It keeps no state of
// its own; everything per sender lives in the NodeStat.
type Engine struct {
	params   Params
	baseline similarity.Vector
	log      logrus.FieldLogger
}

// New builds an engine.
func New(p Params, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		params:   p,
		baseline: similarity.Uniform(p.BaselineSize),
		log:      log.WithField("component", "detection"),
	}
}

// Baseline returns the reference traffic vector.
func (e *Engine) Baseline() similarity.Vector { return e.baseline }

// Evaluate records a message of length bytes received at now (whole
// seconds) into node, recomputes its risk score and returns the verdict.
func (e *Engine) Evaluate(node *registry.NodeStat, length int, now int64) Verdict {
	var v Verdict

	node.Record(clampLength(length))

	if now == node.LastPacketTime {
		node.RateWindowCount++
		if node.RateWindowCount > e.params.RateLimitPackets {
			v.RateExceeded = true
			v.Risk += e.params.RateWeight
			e.log.WithField("node", node.Identity).Warn("Rate limit exceeded")
		}
	} else {
		node.RateWindowCount = 1
		node.LastPacketTime = now
	}

	if node.PacketCount >= e.params.MinPackets {
		v.PatternChecked = true
		v.Similarity = similarity.Cosine(node.TrafficVector, e.baseline)
		node.Similarity = v.Similarity
		if v.Similarity < e.params.DetectionThreshold {
			v.PatternAnomalous = true
			v.Risk += e.params.PatternWeight
			e.log.WithFields(logrus.Fields{
				"node":       node.Identity,
				"similarity": v.Similarity,
			}).Info("Abnormal traffic pattern")
		}
	}

	node.RiskScore = v.Risk

	if v.Risk >= e.params.AttackThreshold {
		v.Attack = true
		e.log.WithFields(logrus.Fields{
			"node": node.Identity,
			"risk": v.Risk,
		}).Warn("Attack detected")
	}
	return v
}

func clampLength(n int) uint32 {
	switch {
	case n < 0:
		return 0
	case uint64(n) > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(n)
}
