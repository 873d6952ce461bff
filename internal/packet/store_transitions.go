package packet

import (
	"context"
	"fmt"
	"time"
)

// SaveTransition persists a lifecycle mutation of a packet's status and stage
// under optimistic concurrency: the write succeeds only when the stored
// revision still matches p.Revision. The optional audit entry is written in
// the same transaction. On success p.Revision and p.LastUpdate reflect the
// stored values.
func (s *Store) SaveTransition(ctx context.Context, p *Packet, entry *AuditEntry) error {
	if p == nil {
		return fmt.Errorf("packet is nil")
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE packets
         SET current_stage = ?, status = ?, last_update = ?, revision = revision + 1
         WHERE id = ? AND revision = ?`,
		p.CurrentStage,
		p.Status,
		now.Format(time.RFC3339Nano),
		p.ID,
		p.Revision,
	)
	if err != nil {
		return fmt.Errorf("update packet: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRevisionConflict
	}

	if entry != nil {
		stamped := *entry
		if stamped.EnteredAt.IsZero() {
			stamped.EnteredAt = now
		}
		if err := insertAudit(ctx, tx, p.ID, stamped); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}

	p.Revision++
	p.LastUpdate = now
	if entry != nil {
		stamped := *entry
		if stamped.EnteredAt.IsZero() {
			stamped.EnteredAt = now
		}
		p.AuditTrail = append(p.AuditTrail, stamped)
	}
	return nil
}

// AppendIncident persists a new incident together with the status change it
// caused, under the same revision guard as SaveTransition.
func (s *Store) AppendIncident(ctx context.Context, p *Packet, inc Incident) error {
	if p == nil {
		return fmt.Errorf("packet is nil")
	}

	now := time.Now().UTC()
	if inc.OccurredAt.IsZero() {
		inc.OccurredAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin incident tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE packets
         SET status = ?, last_update = ?, revision = revision + 1
         WHERE id = ? AND revision = ?`,
		p.Status,
		now.Format(time.RFC3339Nano),
		p.ID,
		p.Revision,
	)
	if err != nil {
		return fmt.Errorf("update packet status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRevisionConflict
	}

	if err := insertIncident(ctx, tx, p.ID, inc); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit incident: %w", err)
	}

	p.Revision++
	p.LastUpdate = now
	p.ErrorLog = append(p.ErrorLog, inc)
	return nil
}
