package packet

import (
	"strings"
	"time"
)

// Severity ranks how badly an incident disrupts packet processing.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
	SeverityLow:      0,
}

// Incident is a recorded error event attached to a packet at a specific
// stage. Incidents belong exclusively to their packet.
type Incident struct {
	Code             string
	Category         string
	Severity         Severity
	Message          string
	Description      string
	ResolutionHint   string
	AutoRetryEnabled bool
	OverrideOptions  []string
	Stage            int
	OccurredAt       time.Time
}

// ParseSeverity converts a string into a known Severity.
func ParseSeverity(value string) (Severity, bool) {
	normalized := Severity(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := severityRank[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// Rank returns the ordering weight of a severity; higher is worse. Unknown
// severities rank below low.
func (s Severity) Rank() int {
	rank, ok := severityRank[s]
	if !ok {
		return -1
	}
	return rank
}

// MoreSevereThan reports whether s outranks other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s.Rank() > other.Rank()
}
