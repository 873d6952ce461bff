package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"packetwatch/internal/lifecycle"
	"packetwatch/internal/logging"
	"packetwatch/internal/packet"
	"packetwatch/internal/stage"
	"packetwatch/internal/testsupport"
)

func newEngine(t *testing.T) (*lifecycle.Engine, *packet.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return lifecycle.NewEngine(store, logging.NewNop()), store
}

func TestAdvanceMovesThroughPipeline(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-ADV1", packet.ChannelFax)

	for i := 1; i <= stage.Last(); i++ {
		updated, err := engine.Advance(ctx, p.ID)
		if err != nil {
			t.Fatalf("Advance to stage %d: %v", i, err)
		}
		if updated.CurrentStage != i {
			t.Fatalf("expected stage %d, got %d", i, updated.CurrentStage)
		}
	}

	final, err := store.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !final.IsDelivered() {
		t.Fatalf("expected delivered at final stage, got %s", final.Status)
	}
	if len(final.AuditTrail) != stage.Count() {
		t.Fatalf("expected %d audit entries, got %d", stage.Count(), len(final.AuditTrail))
	}

	if _, err := engine.Advance(ctx, p.ID); !errors.Is(err, lifecycle.ErrTerminalStage) {
		t.Fatalf("expected ErrTerminalStage past final stage, got %v", err)
	}
}

func TestAdvanceUnknownPacket(t *testing.T) {
	engine, _ := newEngine(t)
	if _, err := engine.Advance(context.Background(), "PKT-MISSING"); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryOnlyFromErrorStates(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-RETRY", packet.ChannelESMD)

	if _, _, err := engine.Retry(ctx, p.ID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("retry of in_progress packet should fail, got %v", err)
	}

	if _, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
		Code:     "ESMD-1001",
		Severity: packet.SeverityCritical,
		Message:  "submission rejected",
	}); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}

	updated, revision, err := engine.Retry(ctx, p.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if updated.Status != packet.StatusInProgress {
		t.Fatalf("expected in_progress after retry, got %s", updated.Status)
	}
	if updated.CurrentStage != p.CurrentStage {
		t.Fatalf("retry must not change the stage: %d != %d", updated.CurrentStage, p.CurrentStage)
	}
	if revision != updated.Revision {
		t.Fatalf("returned revision %d does not match packet revision %d", revision, updated.Revision)
	}
}

func TestRetryDeliveredPacket(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-DONE", packet.ChannelPortal)

	for i := 1; i <= stage.Last(); i++ {
		if _, err := engine.Advance(ctx, p.ID); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if _, _, err := engine.Retry(ctx, p.ID); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for delivered packet, got %v", err)
	}
}

func TestOverrideRequiresConfirmationAndReason(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-OVR", packet.ChannelFax)

	if _, err := engine.Override(ctx, p.ID, "supervisor approved", false); !errors.Is(err, lifecycle.ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if _, err := engine.Override(ctx, p.ID, "  ", true); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected ErrValidation for blank reason, got %v", err)
	}

	updated, err := engine.Override(ctx, p.ID, "supervisor approved", true)
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if updated.CurrentStage != 1 {
		t.Fatalf("override should advance the stage, got %d", updated.CurrentStage)
	}
	last := updated.AuditTrail[len(updated.AuditTrail)-1]
	if !last.Manual || last.Note != "supervisor approved" {
		t.Fatalf("expected manual audit entry with reason, got %+v", last)
	}
}

func TestOverrideResetsErrorStatus(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-OVR2", packet.ChannelFax)

	if _, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
		Code:     "HETS-270",
		Severity: packet.SeverityCritical,
		Message:  "eligibility endpoint unavailable",
	}); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}

	updated, err := engine.Override(ctx, p.ID, "verified manually", true)
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if updated.Status != packet.StatusInProgress {
		t.Fatalf("override should return the packet to in_progress, got %s", updated.Status)
	}
}

func TestRecordIncidentStatusRules(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		severity packet.Severity
		want     packet.Status
	}{
		{"critical sets api_error", packet.SeverityCritical, packet.StatusAPIError},
		{"high sets manual_correction", packet.SeverityHigh, packet.StatusManualCorrection},
		{"low sets manual_correction", packet.SeverityLow, packet.StatusManualCorrection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testsupport.NewPacket(t, store, "", packet.ChannelFax)
			updated, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
				Code:     "OCR-422",
				Severity: tc.severity,
				Message:  "low confidence extraction",
			})
			if err != nil {
				t.Fatalf("RecordIncident: %v", err)
			}
			if updated.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, updated.Status)
			}
			if len(updated.ErrorLog) != 1 {
				t.Fatalf("expected one incident, got %d", len(updated.ErrorLog))
			}
		})
	}
}

func TestRecordIncidentKeepsAPIErrorOnLesserSeverity(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-SEV", packet.ChannelESMD)

	if _, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
		Code:     "PECOS-503",
		Severity: packet.SeverityCritical,
		Message:  "registry lookup failed",
	}); err != nil {
		t.Fatalf("RecordIncident critical: %v", err)
	}

	updated, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
		Code:     "PECOS-404",
		Severity: packet.SeverityMedium,
		Message:  "provider record incomplete",
	})
	if err != nil {
		t.Fatalf("RecordIncident medium: %v", err)
	}
	if updated.Status != packet.StatusAPIError {
		t.Fatalf("lesser incident must not downgrade api_error, got %s", updated.Status)
	}

	dominant := updated.DominantIncident(updated.CurrentStage)
	if dominant == nil || dominant.Code != "PECOS-503" {
		t.Fatalf("expected the critical incident to dominate, got %+v", dominant)
	}
}

func TestRecordIncidentValidation(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-VAL", packet.ChannelFax)

	if _, err := engine.RecordIncident(ctx, p.ID, packet.Incident{Severity: packet.SeverityHigh}); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing code, got %v", err)
	}
	if _, err := engine.RecordIncident(ctx, p.ID, packet.Incident{Code: "X", Severity: "fatal"}); !errors.Is(err, lifecycle.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown severity, got %v", err)
	}
}

func TestRecordIncidentOnDeliveredPacket(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-TERM", packet.ChannelPortal)

	for i := 1; i <= stage.Last(); i++ {
		if _, err := engine.Advance(ctx, p.ID); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	_, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
		Code:     "FAX-500",
		Severity: packet.SeverityHigh,
		Message:  "late failure",
	})
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("delivered packet must reject incidents, got %v", err)
	}
}

func TestCompleteStageRejectsStaleRevision(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-STALE", packet.ChannelFax)

	if _, err := engine.RecordIncident(ctx, p.ID, packet.Incident{
		Code:     "OCR-500",
		Severity: packet.SeverityCritical,
		Message:  "engine crashed",
	}); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}

	_, observed, err := engine.Retry(ctx, p.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	// An operator override lands while the retried stage is still running.
	if _, err := engine.Override(ctx, p.ID, "skip ahead", true); err != nil {
		t.Fatalf("Override: %v", err)
	}

	if _, err := engine.CompleteStage(ctx, p.ID, observed); !errors.Is(err, lifecycle.ErrStaleCompletion) {
		t.Fatalf("expected ErrStaleCompletion, got %v", err)
	}

	final, err := store.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.CurrentStage != 1 {
		t.Fatalf("stale completion must not advance further, got stage %d", final.CurrentStage)
	}
}

func TestCompleteStageAdvancesOnMatchingRevision(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	p := testsupport.NewPacket(t, store, "PKT-OK", packet.ChannelESMD)

	updated, err := engine.CompleteStage(ctx, p.ID, p.Revision)
	if err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	if updated.CurrentStage != 1 {
		t.Fatalf("expected stage 1, got %d", updated.CurrentStage)
	}
}
