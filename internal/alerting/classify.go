// Package alerting classifies packet staleness for operator attention. The
// evaluator is a pure function over a packet snapshot and never mutates state.
package alerting

import (
	"time"

	"packetwatch/internal/packet"
)

// Alert is the attention level derived from a packet's age and status.
type Alert int

const (
	// AlertNone means the packet needs no attention.
	AlertNone Alert = iota
	// AlertAging means the packet has sat in its stage past the threshold.
	AlertAging
	// AlertCritical means an errored packet has sat past the threshold.
	AlertCritical
)

// String returns the display label for an alert level.
func (a Alert) String() string {
	switch a {
	case AlertAging:
		return "aging"
	case AlertCritical:
		return "critical"
	default:
		return "none"
	}
}

// Classify evaluates a packet against the aging threshold. Delivered packets
// never alert. A packet whose last update cannot be established (zero
// timestamp) is treated as healthy rather than raising a false alarm.
func Classify(p *packet.Packet, now time.Time, threshold time.Duration) Alert {
	if p == nil || p.IsDelivered() {
		return AlertNone
	}
	age := p.Age(now)
	if age <= 0 || age <= threshold {
		return AlertNone
	}
	if p.Status == packet.StatusAPIError {
		return AlertCritical
	}
	return AlertAging
}
