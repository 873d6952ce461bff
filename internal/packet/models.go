package packet

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a packet.
type Status string

const (
	StatusInProgress       Status = "in_progress"
	StatusManualCorrection Status = "manual_correction"
	StatusAPIError         Status = "api_error"
	StatusDelivered        Status = "delivered"
)

var allStatuses = []Status{
	StatusInProgress,
	StatusManualCorrection,
	StatusAPIError,
	StatusDelivered,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Channel identifies how a packet entered the pipeline.
type Channel string

const (
	ChannelFax    Channel = "fax"
	ChannelESMD   Channel = "esmd"
	ChannelPortal Channel = "provider_portal"
)

var allChannels = []Channel{ChannelFax, ChannelESMD, ChannelPortal}

var channelSet = func() map[Channel]struct{} {
	set := make(map[Channel]struct{}, len(allChannels))
	for _, channel := range allChannels {
		set[channel] = struct{}{}
	}
	return set
}()

// Payload carries the claim content attached to a packet. Fields may contain
// protected health information and are gated behind explicit authorization on
// export.
type Payload struct {
	ContainsPHI bool              `json:"containsPhi"`
	Patient     string            `json:"patient,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Service     string            `json:"service,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// AuditEntry records a stage entry. Entries are append-only and never mutated.
type AuditEntry struct {
	Stage     int
	EnteredAt time.Time
	Manual    bool
	Note      string
}

// Packet is a single claim case moving through the pipeline, persisted in
// SQLite together with its incidents and audit trail.
type Packet struct {
	ID           string
	Channel      Channel
	CurrentStage int
	Status       Status
	CreatedAt    time.Time
	LastUpdate   time.Time
	Revision     int64
	Payload      Payload
	ErrorLog     []Incident
	AuditTrail   []AuditEntry
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// AllChannels returns the ordered list of known channels.
func AllChannels() []Channel {
	cp := make([]Channel, len(allChannels))
	copy(cp, allChannels)
	return cp
}

// ParseChannel converts a string into a known Channel. Display labels from
// the dashboard ("Fax", "eSMD", "Provider Portal") are accepted alongside the
// canonical keys.
func ParseChannel(value string) (Channel, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	if normalized == "" {
		return "", false
	}
	candidate := Channel(normalized)
	if _, ok := channelSet[candidate]; ok {
		return candidate, true
	}
	return "", false
}

// IsDelivered reports whether the packet has reached its terminal state.
func (p *Packet) IsDelivered() bool {
	return p.Status == StatusDelivered
}

// Age returns the elapsed time since the packet's last state change. A zero
// lastUpdate yields a zero age so malformed rows never alert.
func (p *Packet) Age(now time.Time) time.Duration {
	if p.LastUpdate.IsZero() {
		return 0
	}
	age := now.Sub(p.LastUpdate)
	if age < 0 {
		return 0
	}
	return age
}

// LatestIncident returns the most recent incident on the given stage, or nil.
func (p *Packet) LatestIncident(stage int) *Incident {
	for i := len(p.ErrorLog) - 1; i >= 0; i-- {
		if p.ErrorLog[i].Stage == stage {
			return &p.ErrorLog[i]
		}
	}
	return nil
}

// DominantIncident returns the incident that should represent the given stage:
// the most severe one, or among equally severe incidents the most recent.
func (p *Packet) DominantIncident(stage int) *Incident {
	var dominant *Incident
	for i := range p.ErrorLog {
		inc := &p.ErrorLog[i]
		if inc.Stage != stage {
			continue
		}
		if dominant == nil || inc.Severity.Rank() >= dominant.Severity.Rank() {
			dominant = inc
		}
	}
	return dominant
}
