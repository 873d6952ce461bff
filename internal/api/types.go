package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Packet describes a claim packet in a transport-friendly format.
type Packet struct {
	ID           string `json:"id"`
	Channel      string `json:"channel"`
	ChannelLabel string `json:"channelLabel"`
	CurrentStage int    `json:"currentStage"`
	StageName    string `json:"stageName"`
	Status       string `json:"status"`
	StatusLabel  string `json:"statusLabel"`
	Alert        string `json:"alert"`
	ErrorCount   int    `json:"errorCount"`
	ContainsPHI  bool   `json:"containsPhi"`
	CreatedAt    string `json:"createdAt,omitempty"`
	LastUpdate   string `json:"lastUpdate,omitempty"`
	Revision     int64  `json:"revision"`
}

// Incident describes one recorded error event on a packet.
type Incident struct {
	Code             string   `json:"code"`
	Category         string   `json:"category,omitempty"`
	Severity         string   `json:"severity"`
	Message          string   `json:"message"`
	Description      string   `json:"description,omitempty"`
	ResolutionHint   string   `json:"resolutionHint,omitempty"`
	AutoRetryEnabled bool     `json:"autoRetryEnabled"`
	OverrideOptions  []string `json:"overrideOptions,omitempty"`
	Stage            int      `json:"stage"`
	StageName        string   `json:"stageName"`
	OccurredAt       string   `json:"occurredAt,omitempty"`
}

// AuditEntry describes one stage entry in a packet's audit trail.
type AuditEntry struct {
	Stage     int    `json:"stage"`
	StageName string `json:"stageName"`
	EnteredAt string `json:"enteredAt,omitempty"`
	Manual    bool   `json:"manual"`
	Note      string `json:"note,omitempty"`
}

// PacketDetail is the full read model for a single packet.
type PacketDetail struct {
	Packet
	Incidents        []Incident   `json:"incidents"`
	AuditTrail       []AuditEntry `json:"auditTrail"`
	DominantIncident *Incident    `json:"dominantIncident,omitempty"`
}

// PacketList wraps a filtered listing with its totals.
type PacketList struct {
	Packets []Packet `json:"packets"`
	Count   int      `json:"count"`
	Total   int      `json:"total"`
}

// StageInfo describes one pipeline stage for clients rendering the pipeline.
type StageInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// StatusSummary reports daemon and pipeline health.
type StatusSummary struct {
	Running    bool           `json:"running"`
	Stats      map[string]int `json:"stats"`
	Total      int            `json:"total"`
	Stages     []StageInfo    `json:"stages"`
	APIVersion string         `json:"apiVersion"`
}

// IngestRequest is the POST body for creating a packet.
type IngestRequest struct {
	ID      string            `json:"id,omitempty"`
	Channel string            `json:"channel"`
	Payload IngestPayload     `json:"payload"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// IngestPayload carries the claim content of an ingest request.
type IngestPayload struct {
	ContainsPHI bool              `json:"containsPhi"`
	Patient     string            `json:"patient,omitempty"`
	Provider    string            `json:"provider,omitempty"`
	Service     string            `json:"service,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// OverrideRequest is the POST body for a manual stage override.
type OverrideRequest struct {
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason"`
}

// LogTail is the response payload for the log endpoint. Offset is the byte
// position to resume from on the next request.
type LogTail struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// ErrorResponse is the uniform error envelope returned by the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
}
