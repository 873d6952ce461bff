// Package lifecycle implements the transition engine for claim packets: the
// only component allowed to mutate packet status, stage, incidents, and audit
// history. Every operation is serialized per packet id and persisted under
// optimistic revision checks.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"packetwatch/internal/logging"
	"packetwatch/internal/packet"
	"packetwatch/internal/stage"
)

// Engine applies lifecycle transitions against the packet store.
type Engine struct {
	store  *packet.Store
	logger *slog.Logger
	locks  *keyedMutex
}

// NewEngine constructs a transition engine over the given store.
func NewEngine(store *packet.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logging.NewComponentLogger(logger, "lifecycle"),
		locks:  newKeyedMutex(),
	}
}

// Advance moves a packet to the next stage, appending an audit entry. On
// entering the final stage the packet becomes delivered. Advancing a
// delivered packet fails with ErrTerminalStage.
func (e *Engine) Advance(ctx context.Context, id string) (*packet.Packet, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.advanceLocked(ctx, p, false, ""); err != nil {
		return nil, err
	}
	e.logger.Info("packet advanced",
		logging.String(logging.FieldPacketID, p.ID),
		logging.String(logging.FieldStage, stage.Name(p.CurrentStage)),
		logging.String("status", string(p.Status)),
	)
	return p, nil
}

// Retry returns an errored packet to active processing without changing its
// stage. Only api_error and manual_correction packets may be retried. The
// returned revision identifies this retry so an asynchronous stage completion
// can later be validated against it.
func (e *Engine) Retry(ctx context.Context, id string) (*packet.Packet, int64, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	switch p.Status {
	case packet.StatusAPIError, packet.StatusManualCorrection:
	case packet.StatusDelivered:
		return nil, 0, Wrap(ErrInvalidTransition, stage.Name(p.CurrentStage), "retry", "packet already delivered", nil)
	default:
		return nil, 0, Wrap(ErrInvalidTransition, stage.Name(p.CurrentStage), "retry",
			fmt.Sprintf("cannot retry packet in status %s", p.Status), nil)
	}

	p.Status = packet.StatusInProgress
	if err := e.save(ctx, p, nil); err != nil {
		return nil, 0, err
	}

	e.logger.Info("packet retry accepted",
		logging.String(logging.FieldPacketID, p.ID),
		logging.String(logging.FieldStage, stage.Name(p.CurrentStage)),
		logging.Int64("revision", p.Revision),
	)
	return p, p.Revision, nil
}

// Override forces a packet past its current stage regardless of status. The
// caller must acknowledge the action; the reason is recorded on the audit
// entry. Overriding a delivered packet fails with ErrTerminalStage.
func (e *Engine) Override(ctx context.Context, id, reason string, confirmed bool) (*packet.Packet, error) {
	if !confirmed {
		return nil, Wrap(ErrConfirmationRequired, "", "override", "override must be explicitly confirmed", nil)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, Wrap(ErrValidation, "", "override", "override reason is required", nil)
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.advanceLocked(ctx, p, true, reason); err != nil {
		return nil, err
	}
	e.logger.Warn("packet stage overridden",
		logging.String(logging.FieldPacketID, p.ID),
		logging.String(logging.FieldStage, stage.Name(p.CurrentStage)),
		logging.String("reason", reason),
	)
	return p, nil
}

// RecordIncident appends an incident to a packet's error log and applies the
// resulting status: critical incidents push the packet to api_error, lesser
// ones move an in_progress packet to manual_correction. Delivered packets
// reject new incidents.
func (e *Engine) RecordIncident(ctx context.Context, id string, inc packet.Incident) (*packet.Packet, error) {
	if strings.TrimSpace(inc.Code) == "" {
		return nil, Wrap(ErrValidation, "", "record incident", "incident code is required", nil)
	}
	if inc.Severity.Rank() < 0 {
		return nil, Wrap(ErrValidation, "", "record incident",
			fmt.Sprintf("unknown severity %q", inc.Severity), nil)
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsDelivered() {
		return nil, Wrap(ErrInvalidTransition, stage.Name(p.CurrentStage), "record incident", "packet already delivered", nil)
	}

	if inc.Stage < 0 || !stage.Valid(inc.Stage) {
		inc.Stage = p.CurrentStage
	}

	switch {
	case inc.Severity == packet.SeverityCritical:
		p.Status = packet.StatusAPIError
	case p.Status == packet.StatusInProgress:
		p.Status = packet.StatusManualCorrection
	}

	if err := e.store.AppendIncident(ctx, p, inc); err != nil {
		if errors.Is(err, packet.ErrRevisionConflict) {
			return nil, Wrap(ErrStaleCompletion, stage.Name(p.CurrentStage), "record incident", "packet changed concurrently", err)
		}
		return nil, fmt.Errorf("record incident: %w", err)
	}

	e.logger.Warn("incident recorded",
		logging.String(logging.FieldPacketID, p.ID),
		logging.String(logging.FieldStage, stage.Name(inc.Stage)),
		logging.String("code", inc.Code),
		logging.String("severity", string(inc.Severity)),
		logging.String("status", string(p.Status)),
	)
	return p, nil
}

// CompleteStage advances a packet on behalf of an asynchronous processor, but
// only when the packet revision still matches what the processor observed at
// start. A mismatch means a manual override or another transition superseded
// the work; the completion is rejected with ErrStaleCompletion.
func (e *Engine) CompleteStage(ctx context.Context, id string, observedRevision int64) (*packet.Packet, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	p, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Revision != observedRevision {
		return nil, Wrap(ErrStaleCompletion, stage.Name(p.CurrentStage), "complete stage",
			fmt.Sprintf("revision moved from %d to %d", observedRevision, p.Revision), nil)
	}
	if err := e.advanceLocked(ctx, p, false, ""); err != nil {
		return nil, err
	}
	e.logger.Info("stage completed",
		logging.String(logging.FieldPacketID, p.ID),
		logging.String(logging.FieldStage, stage.Name(p.CurrentStage)),
		logging.String("status", string(p.Status)),
	)
	return p, nil
}

// advanceLocked performs the shared advance logic for Advance, Override, and
// CompleteStage. The caller must hold the packet lock.
func (e *Engine) advanceLocked(ctx context.Context, p *packet.Packet, manual bool, note string) error {
	operation := "advance"
	if manual {
		operation = "override"
	}
	if p.CurrentStage >= stage.Last() {
		return Wrap(ErrTerminalStage, stage.Name(p.CurrentStage), operation, "packet is at the final stage", nil)
	}

	p.CurrentStage++
	if p.CurrentStage == stage.Last() {
		p.Status = packet.StatusDelivered
	} else {
		p.Status = packet.StatusInProgress
	}

	entry := &packet.AuditEntry{
		Stage:  p.CurrentStage,
		Manual: manual,
		Note:   note,
	}
	return e.save(ctx, p, entry)
}

func (e *Engine) load(ctx context.Context, id string) (*packet.Packet, error) {
	if strings.TrimSpace(id) == "" {
		return nil, Wrap(ErrValidation, "", "load", "packet id is required", nil)
	}
	p, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load packet %s: %w", id, err)
	}
	if p == nil {
		return nil, Wrap(ErrNotFound, "", "load", fmt.Sprintf("packet %s", id), nil)
	}
	return p, nil
}

func (e *Engine) save(ctx context.Context, p *packet.Packet, entry *packet.AuditEntry) error {
	if err := e.store.SaveTransition(ctx, p, entry); err != nil {
		if errors.Is(err, packet.ErrRevisionConflict) {
			return Wrap(ErrStaleCompletion, stage.Name(p.CurrentStage), "save transition", "packet changed concurrently", err)
		}
		return fmt.Errorf("save transition: %w", err)
	}
	return nil
}
