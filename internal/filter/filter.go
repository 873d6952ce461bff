// Package filter narrows packet lists for the dashboard views. Dimensions
// are ANDed together; selections within one dimension are ORed. A quick
// metric filter, when present, replaces the advanced dimensions entirely so
// the list always matches the counter the operator clicked.
package filter

import (
	"strings"
	"time"

	"packetwatch/internal/lifecycle"
	"packetwatch/internal/metrics"
	"packetwatch/internal/packet"
)

// StatusFilter is a quick status selection. The first three are mutually
// exclusive; Stuck combines freely with any of them.
type StatusFilter string

const (
	StatusErrors     StatusFilter = "errors"
	StatusInProgress StatusFilter = "inProgress"
	StatusDelivered  StatusFilter = "delivered"
	StatusStuck      StatusFilter = "stuck"
)

var exclusiveStatuses = map[StatusFilter]struct{}{
	StatusErrors:     {},
	StatusInProgress: {},
	StatusDelivered:  {},
}

// ParseStatusFilter converts a string into a known StatusFilter.
func ParseStatusFilter(value string) (StatusFilter, bool) {
	switch StatusFilter(strings.TrimSpace(value)) {
	case StatusErrors:
		return StatusErrors, true
	case StatusInProgress:
		return StatusInProgress, true
	case StatusDelivered:
		return StatusDelivered, true
	case StatusStuck:
		return StatusStuck, true
	}
	return "", false
}

// DatePreset selects a relative date window.
type DatePreset string

const (
	DateAny    DatePreset = ""
	DateToday  DatePreset = "today"
	Date24h    DatePreset = "24h"
	Date7d     DatePreset = "7d"
	DateCustom DatePreset = "custom"
)

// DateRange restricts results to packets last updated within the window.
type DateRange struct {
	Preset DatePreset
	From   time.Time // custom only
	To     time.Time // custom only
}

// Query describes one filtered list request.
type Query struct {
	Search   string
	Statuses []StatusFilter
	Channels []packet.Channel
	Date     DateRange
	Metric   metrics.Metric // overrides the advanced dimensions when set
}

// Engine evaluates queries against packet snapshots using the configured
// alerting thresholds.
type Engine struct {
	agingThreshold time.Duration
	stallThreshold time.Duration
}

// NewEngine builds a filter engine. agingThreshold feeds the "stuck" quick
// filter; stallThreshold feeds the critical-errors metric filter.
func NewEngine(agingThreshold, stallThreshold time.Duration) *Engine {
	return &Engine{agingThreshold: agingThreshold, stallThreshold: stallThreshold}
}

// Validate rejects malformed queries: more than one exclusive status quick
// filter, unknown metric values, or a custom range without bounds.
func (q Query) Validate() error {
	exclusive := 0
	for _, status := range q.Statuses {
		if _, ok := exclusiveStatuses[status]; ok {
			exclusive++
		}
	}
	if exclusive > 1 {
		return lifecycle.Wrap(lifecycle.ErrValidation, "", "filter",
			"errors, inProgress, and delivered quick filters are mutually exclusive", nil)
	}
	if q.Metric != "" {
		if _, ok := metrics.ParseMetric(string(q.Metric)); !ok {
			return lifecycle.Wrap(lifecycle.ErrValidation, "", "filter",
				"unknown metric "+string(q.Metric), nil)
		}
	}
	if q.Date.Preset == DateCustom && q.Date.From.IsZero() && q.Date.To.IsZero() {
		return lifecycle.Wrap(lifecycle.ErrValidation, "", "filter",
			"custom date range requires from or to", nil)
	}
	return nil
}

// Apply filters the packets, preserving input order.
func (e *Engine) Apply(q Query, packets []*packet.Packet, now time.Time) ([]*packet.Packet, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	matched := make([]*packet.Packet, 0, len(packets))
	for _, p := range packets {
		if p == nil {
			continue
		}
		if e.matches(q, p, now) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (e *Engine) matches(q Query, p *packet.Packet, now time.Time) bool {
	if q.Metric != "" {
		return metrics.Matches(q.Metric, p, now, e.stallThreshold)
	}
	if !matchesSearch(q.Search, p) {
		return false
	}
	if !e.matchesStatuses(q.Statuses, p, now) {
		return false
	}
	if !matchesChannels(q.Channels, p) {
		return false
	}
	return matchesDate(q.Date, p, now)
}

func matchesSearch(search string, p *packet.Packet) bool {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return true
	}
	for _, haystack := range []string{p.ID, p.Payload.Patient, p.Payload.Provider} {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}

func (e *Engine) matchesStatuses(statuses []StatusFilter, p *packet.Packet, now time.Time) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, status := range statuses {
		switch status {
		case StatusErrors:
			if len(p.ErrorLog) > 0 {
				return true
			}
		case StatusInProgress:
			if p.Status == packet.StatusInProgress {
				return true
			}
		case StatusDelivered:
			if p.IsDelivered() {
				return true
			}
		case StatusStuck:
			if !p.IsDelivered() && p.Age(now) > e.agingThreshold {
				return true
			}
		}
	}
	return false
}

func matchesChannels(channels []packet.Channel, p *packet.Packet) bool {
	if len(channels) == 0 {
		return true
	}
	for _, channel := range channels {
		if p.Channel == channel {
			return true
		}
	}
	return false
}

func matchesDate(dr DateRange, p *packet.Packet, now time.Time) bool {
	switch dr.Preset {
	case DateAny:
		return true
	case DateToday:
		if p.LastUpdate.IsZero() {
			return false
		}
		y1, m1, d1 := p.LastUpdate.In(now.Location()).Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case Date24h:
		return withinWindow(p.LastUpdate, now, 24*time.Hour)
	case Date7d:
		return withinWindow(p.LastUpdate, now, 7*24*time.Hour)
	case DateCustom:
		if p.LastUpdate.IsZero() {
			return false
		}
		if !dr.From.IsZero() && p.LastUpdate.Before(dr.From) {
			return false
		}
		if !dr.To.IsZero() && p.LastUpdate.After(dr.To) {
			return false
		}
		return true
	}
	return true
}

func withinWindow(ts, now time.Time, window time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) <= window
}
