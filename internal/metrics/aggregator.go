// Package metrics computes dashboard counters over packet snapshots at query
// time. Counters are never persisted; each predicate is exported so list
// filtering stays consistent with the numbers shown.
package metrics

import (
	"time"

	"packetwatch/internal/packet"
)

// Metric identifies one of the dashboard counters.
type Metric string

const (
	MetricCriticalErrors      Metric = "critical_errors"
	MetricPendingManualReview Metric = "pending_manual_review"
	MetricProcessingNow       Metric = "processing_now"
	MetricCompletedToday      Metric = "completed_today"
)

// ParseMetric converts a string into a known Metric.
func ParseMetric(value string) (Metric, bool) {
	switch Metric(value) {
	case MetricCriticalErrors, MetricPendingManualReview, MetricProcessingNow, MetricCompletedToday:
		return Metric(value), true
	}
	return "", false
}

// Summary holds the four dashboard counters.
type Summary struct {
	CriticalErrors      int `json:"criticalErrors"`
	PendingManualReview int `json:"pendingManualReview"`
	ProcessingNow       int `json:"processingNow"`
	CompletedToday      int `json:"completedToday"`
}

// IsCriticalError reports whether a packet counts as a critical error: active
// work that has stalled past the stall threshold without an update.
func IsCriticalError(p *packet.Packet, now time.Time, stallThreshold time.Duration) bool {
	return p.Status == packet.StatusInProgress && p.Age(now) > stallThreshold
}

// IsPendingManualReview reports whether a packet awaits manual correction.
func IsPendingManualReview(p *packet.Packet) bool {
	return p.Status == packet.StatusManualCorrection
}

// IsProcessingNow reports whether a packet is actively moving.
func IsProcessingNow(p *packet.Packet) bool {
	return p.Status == packet.StatusInProgress
}

// IsCompletedToday reports whether a packet was delivered on now's calendar
// date (compared in now's location).
func IsCompletedToday(p *packet.Packet, now time.Time) bool {
	if !p.IsDelivered() || p.LastUpdate.IsZero() {
		return false
	}
	y1, m1, d1 := p.LastUpdate.In(now.Location()).Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Matches reports whether a packet belongs to the given metric category.
func Matches(metric Metric, p *packet.Packet, now time.Time, stallThreshold time.Duration) bool {
	switch metric {
	case MetricCriticalErrors:
		return IsCriticalError(p, now, stallThreshold)
	case MetricPendingManualReview:
		return IsPendingManualReview(p)
	case MetricProcessingNow:
		return IsProcessingNow(p)
	case MetricCompletedToday:
		return IsCompletedToday(p, now)
	}
	return false
}

// Aggregate computes all four counters in a single pass.
func Aggregate(packets []*packet.Packet, now time.Time, stallThreshold time.Duration) Summary {
	var summary Summary
	for _, p := range packets {
		if p == nil {
			continue
		}
		if IsCriticalError(p, now, stallThreshold) {
			summary.CriticalErrors++
		}
		if IsPendingManualReview(p) {
			summary.PendingManualReview++
		}
		if IsProcessingNow(p) {
			summary.ProcessingNow++
		}
		if IsCompletedToday(p, now) {
			summary.CompletedToday++
		}
	}
	return summary
}
