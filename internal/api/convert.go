package api

import (
	"time"

	"packetwatch/internal/actions"
	"packetwatch/internal/alerting"
	"packetwatch/internal/packet"
	"packetwatch/internal/stage"
)

// FromPacket converts a packet record to its API representation. The alert
// level is derived from now and the aging threshold.
func FromPacket(p *packet.Packet, now time.Time, agingThreshold time.Duration) Packet {
	if p == nil {
		return Packet{}
	}
	dto := Packet{
		ID:           p.ID,
		Channel:      string(p.Channel),
		ChannelLabel: p.Channel.Label(),
		CurrentStage: p.CurrentStage,
		StageName:    stage.Name(p.CurrentStage),
		Status:       string(p.Status),
		StatusLabel:  p.Status.Label(),
		Alert:        alerting.Classify(p, now, agingThreshold).String(),
		ErrorCount:   len(p.ErrorLog),
		ContainsPHI:  p.Payload.ContainsPHI,
		Revision:     p.Revision,
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !p.LastUpdate.IsZero() {
		dto.LastUpdate = p.LastUpdate.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromPackets converts a slice of packet records.
func FromPackets(packets []*packet.Packet, now time.Time, agingThreshold time.Duration) []Packet {
	out := make([]Packet, 0, len(packets))
	for _, p := range packets {
		if p == nil {
			continue
		}
		out = append(out, FromPacket(p, now, agingThreshold))
	}
	return out
}

// FromIncident converts an incident record.
func FromIncident(inc packet.Incident) Incident {
	dto := Incident{
		Code:             inc.Code,
		Category:         inc.Category,
		Severity:         string(inc.Severity),
		Message:          inc.Message,
		Description:      inc.Description,
		ResolutionHint:   inc.ResolutionHint,
		AutoRetryEnabled: inc.AutoRetryEnabled,
		OverrideOptions:  append([]string(nil), inc.OverrideOptions...),
		Stage:            inc.Stage,
		StageName:        stage.Name(inc.Stage),
	}
	if !inc.OccurredAt.IsZero() {
		dto.OccurredAt = inc.OccurredAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromAuditEntry converts an audit trail record.
func FromAuditEntry(entry packet.AuditEntry) AuditEntry {
	dto := AuditEntry{
		Stage:     entry.Stage,
		StageName: stage.Name(entry.Stage),
		Manual:    entry.Manual,
		Note:      entry.Note,
	}
	if !entry.EnteredAt.IsZero() {
		dto.EnteredAt = entry.EnteredAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromViewModel converts the action facade's read model into the detail DTO.
func FromViewModel(vm *actions.ViewModel, now time.Time, agingThreshold time.Duration) *PacketDetail {
	if vm == nil || vm.Packet == nil {
		return nil
	}
	p := vm.Packet
	detail := &PacketDetail{
		Packet:     FromPacket(p, now, agingThreshold),
		Incidents:  make([]Incident, 0, len(p.ErrorLog)),
		AuditTrail: make([]AuditEntry, 0, len(p.AuditTrail)),
	}
	for _, inc := range p.ErrorLog {
		detail.Incidents = append(detail.Incidents, FromIncident(inc))
	}
	for _, entry := range p.AuditTrail {
		detail.AuditTrail = append(detail.AuditTrail, FromAuditEntry(entry))
	}
	if vm.Dominant != nil {
		dominant := FromIncident(*vm.Dominant)
		detail.DominantIncident = &dominant
	}
	return detail
}

// StageInfos lists the fixed pipeline stages as DTOs.
func StageInfos() []StageInfo {
	all := stage.All()
	out := make([]StageInfo, 0, len(all))
	for _, s := range all {
		out = append(out, StageInfo{Index: s.Index, Name: s.Name})
	}
	return out
}
