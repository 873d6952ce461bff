package api

import (
	"context"
	"time"

	"packetwatch/internal/filter"
	"packetwatch/internal/metrics"
	"packetwatch/internal/packet"
)

// Version identifies the API surface for status reporting.
const Version = "1"

// PacketReader abstracts packet persistence interactions needed for queries.
type PacketReader interface {
	List(ctx context.Context, statuses ...packet.Status) ([]*packet.Packet, error)
	Stats(ctx context.Context) (map[packet.Status]int, error)
}

// PacketService exposes read-only packet queries returning API DTOs.
type PacketService struct {
	store          PacketReader
	filters        *filter.Engine
	agingThreshold time.Duration
	stallThreshold time.Duration
	clock          func() time.Time
}

// NewPacketService constructs a PacketService around the provided reader.
func NewPacketService(store PacketReader, filters *filter.Engine, agingThreshold, stallThreshold time.Duration) *PacketService {
	if store == nil {
		return nil
	}
	return &PacketService{
		store:          store,
		filters:        filters,
		agingThreshold: agingThreshold,
		stallThreshold: stallThreshold,
		clock:          time.Now,
	}
}

// List returns packets matching the query, with the unfiltered total.
func (s *PacketService) List(ctx context.Context, q filter.Query) (*PacketList, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	matched := all
	if s.filters != nil {
		matched, err = s.filters.Apply(q, all, now)
		if err != nil {
			return nil, err
		}
	}

	return &PacketList{
		Packets: FromPackets(matched, now, s.agingThreshold),
		Count:   len(matched),
		Total:   len(all),
	}, nil
}

// Metrics computes the dashboard counters over the full packet set.
func (s *PacketService) Metrics(ctx context.Context) (metrics.Summary, error) {
	if s == nil || s.store == nil {
		return metrics.Summary{}, nil
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return metrics.Summary{}, err
	}
	return metrics.Aggregate(all, s.clock(), s.stallThreshold), nil
}

// Status summarizes pipeline health: per-status counts plus the fixed stage
// list for clients rendering the pipeline.
func (s *PacketService) Status(ctx context.Context, running bool) (*StatusSummary, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(stats))
	total := 0
	for status, count := range stats {
		out[string(status)] = count
		total += count
	}
	return &StatusSummary{
		Running:    running,
		Stats:      out,
		Total:      total,
		Stages:     StageInfos(),
		APIVersion: Version,
	}, nil
}
