// Package actions exposes the operator-facing operations: retry, override,
// download, and view. It delegates state changes to the transition engine and
// owns the asynchronous re-trigger of stage processing after a retry.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"packetwatch/internal/alerting"
	"packetwatch/internal/lifecycle"
	"packetwatch/internal/logging"
	"packetwatch/internal/packet"
	"packetwatch/internal/processor"
	"packetwatch/internal/stage"
)

// Snapshot is the serialized packet export produced by Download.
type Snapshot struct {
	PacketID   string         `json:"packetId"`
	Channel    packet.Channel `json:"channel"`
	Status     packet.Status  `json:"status"`
	StageName  string         `json:"stageName"`
	LastUpdate time.Time      `json:"lastUpdate"`
	Payload    packet.Payload `json:"payload"`
	ExportedAt time.Time      `json:"exportedAt"`
}

// ViewModel combines a packet with its derived display state. It is a pure
// read: producing one never mutates the packet.
type ViewModel struct {
	Packet    *packet.Packet
	StageName string
	Alert     alerting.Alert
	Dominant  *packet.Incident
}

// Facade wires the engine, store, and stage processors behind the four
// operator actions.
type Facade struct {
	engine       *lifecycle.Engine
	store        *packet.Store
	registry     *processor.Registry
	logger       *slog.Logger
	retryTimeout time.Duration
	agingLimit   time.Duration
	clock        func() time.Time

	wg sync.WaitGroup
}

// NewFacade constructs the action facade. retryTimeout bounds the async stage
// re-run triggered by Retry; agingLimit feeds the view model's alert level.
func NewFacade(engine *lifecycle.Engine, store *packet.Store, registry *processor.Registry, logger *slog.Logger, retryTimeout, agingLimit time.Duration) *Facade {
	return &Facade{
		engine:       engine,
		store:        store,
		registry:     registry,
		logger:       logging.NewComponentLogger(logger, "actions"),
		retryTimeout: retryTimeout,
		agingLimit:   agingLimit,
		clock:        time.Now,
	}
}

// Wait blocks until all asynchronous retry work has drained. Intended for
// shutdown and tests.
func (f *Facade) Wait() {
	f.wg.Wait()
}

// Retry returns an errored packet to processing and re-triggers its current
// stage in the background. Processing failures, including deadline expiry,
// are recorded as incidents rather than returned: the retry itself succeeded.
func (f *Facade) Retry(ctx context.Context, id string) (*packet.Packet, error) {
	p, revision, err := f.engine.Retry(ctx, id)
	if err != nil {
		return nil, err
	}

	proc := f.registry.For(p.CurrentStage)
	stageName := stage.Name(p.CurrentStage)
	snapshot := *p

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.runStage(&snapshot, proc, stageName, revision)
	}()

	return p, nil
}

// runStage executes one stage attempt detached from the request context.
func (f *Facade) runStage(p *packet.Packet, proc processor.Processor, stageName string, revision int64) {
	ctx := logging.WithStage(logging.WithPacketID(context.Background(), p.ID), stageName)
	logger := logging.WithContext(ctx, f.logger)

	if proc != nil {
		if err := processor.Run(ctx, proc, p, f.retryTimeout); err != nil {
			inc := processor.IncidentFor(err, p, stageName)
			if _, recErr := f.engine.RecordIncident(ctx, p.ID, inc); recErr != nil {
				logger.Error("record retry incident", logging.Error(recErr))
				return
			}
			logger.Warn("retried stage failed", logging.String("code", inc.Code), logging.Error(err))
			return
		}
	}

	if _, err := f.engine.CompleteStage(ctx, p.ID, revision); err != nil {
		if errors.Is(err, lifecycle.ErrStaleCompletion) {
			logger.Info("retry superseded before completion")
			return
		}
		logger.Error("complete retried stage", logging.Error(err))
		return
	}
	logger.Info("retried stage completed")
}

// Override forces a packet past its current stage. The caller must have
// acknowledged the action; confirmed=false fails before touching the engine.
func (f *Facade) Override(ctx context.Context, id string, confirmed bool, reason string) (*packet.Packet, error) {
	return f.engine.Override(ctx, id, reason, confirmed)
}

// Download produces the export snapshot for a packet. Payloads flagged as
// containing protected health information require the explicit authorization
// flag; without it the export is denied, not silently redacted.
func (f *Facade) Download(ctx context.Context, id string, phiAuthorized bool) (*Snapshot, error) {
	p, err := f.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Payload.ContainsPHI && !phiAuthorized {
		return nil, lifecycle.Wrap(lifecycle.ErrPHIAuthorization, stage.Name(p.CurrentStage), "download",
			"payload contains PHI and the request is not authorized", nil)
	}
	return &Snapshot{
		PacketID:   p.ID,
		Channel:    p.Channel,
		Status:     p.Status,
		StageName:  stage.Name(p.CurrentStage),
		LastUpdate: p.LastUpdate,
		Payload:    p.Payload,
		ExportedAt: f.clock().UTC(),
	}, nil
}

// Encode renders a snapshot as the JSON document handed to the caller.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// View returns the read model for a packet: the packet with incidents and
// audit trail, its stage name, alert level, and the dominant incident on the
// current stage.
func (f *Facade) View(ctx context.Context, id string) (*ViewModel, error) {
	p, err := f.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ViewModel{
		Packet:    p,
		StageName: stage.Name(p.CurrentStage),
		Alert:     alerting.Classify(p, f.clock(), f.agingLimit),
		Dominant:  p.DominantIncident(p.CurrentStage),
	}, nil
}

func (f *Facade) get(ctx context.Context, id string) (*packet.Packet, error) {
	p, err := f.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, lifecycle.Wrap(lifecycle.ErrNotFound, "", "lookup", "packet "+id, nil)
	}
	return p, nil
}
