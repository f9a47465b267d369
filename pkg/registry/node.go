package registry

import (
	"net/netip"

	"github.com/aegis-protocol/meshguard/pkg/similarity"
)

// NodeStat is the traffic record of one sender.
type NodeStat struct {
	Identity netip.Addr `json:"identity"`

	// PacketCount counts every message seen from Identity.
	PacketCount uint32 `json:"packet_count"`

	// TrafficVector is a ring of the last message lengths; VectorIndex is
	// the next slot to write.
	TrafficVector similarity.Vector `json:"traffic_vector"`
	VectorIndex   uint8             `json:"vector_index"`

	RiskScore  float64 `json:"risk_score"`
	Similarity float64 `json:"similarity"`

	// LastPacketTime opens the current one-second rate window and
	// RateWindowCount counts messages inside it.
	LastPacketTime  int64  `json:"last_packet_time"`
	RateWindowCount uint32 `json:"rate_window_count"`

	CreatedAt int64 `json:"created_at"`

	// Active is cleared when the sender is blacklisted. Only inactive
	// records are eligible for cleanup.
	Active bool `json:"active"`
}

// Record appends a message length to the traffic vector.
func (n *NodeStat) Record(length uint32) {
	n.TrafficVector[n.VectorIndex] = length
	n.VectorIndex = uint8((int(n.VectorIndex) + 1) % similarity.VectorSize)
	n.PacketCount++
}

// idle reports whether the record may be reclaimed at now.
func (n *NodeStat) idle(now, timeout int64) bool {
	return !n.Active && now-n.LastPacketTime > timeout
}
