package packet_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"packetwatch/internal/packet"
	"packetwatch/internal/testsupport"
)

func TestNewPacketSeedsIntakeState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created, err := store.NewPacket(ctx, "PKT-1001", packet.ChannelFax, packet.Payload{
		ContainsPHI: true,
		Patient:     "Okafor, Lena",
		Provider:    "Harborview Clinic",
		Service:     "Wheelchair rental",
		Fields:      map[string]string{"pages": "14"},
	})
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if created.CurrentStage != 0 {
		t.Fatalf("expected stage 0, got %d", created.CurrentStage)
	}
	if created.Status != packet.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", created.Status)
	}
	if created.Revision != 0 {
		t.Fatalf("expected revision 0, got %d", created.Revision)
	}
	if !created.Payload.ContainsPHI {
		t.Fatal("expected PHI flag to persist")
	}
	if created.Payload.Fields["pages"] != "14" {
		t.Fatalf("payload fields lost: %#v", created.Payload.Fields)
	}
	if len(created.AuditTrail) != 1 || created.AuditTrail[0].Stage != 0 {
		t.Fatalf("expected single intake audit entry, got %#v", created.AuditTrail)
	}
	if created.AuditTrail[0].Manual {
		t.Fatal("intake entry must not be marked manual")
	}
	if created.CreatedAt.IsZero() || created.LastUpdate.IsZero() {
		t.Fatal("timestamps must be set at intake")
	}
}

func TestNewPacketGeneratesID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	created, err := store.NewPacket(context.Background(), "", packet.ChannelESMD, packet.Payload{})
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	if !strings.HasPrefix(created.ID, "PKT-") {
		t.Fatalf("generated id should carry PKT- prefix, got %q", created.ID)
	}
}

func TestNewPacketRejectsUnknownChannel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := store.NewPacket(context.Background(), "PKT-BAD", packet.Channel("carrier_pigeon"), packet.Payload{}); err == nil {
		t.Fatal("expected unknown channel to be rejected")
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	p, err := store.GetByID(context.Background(), "PKT-NOPE")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for missing packet, got %#v", p)
	}
}

func TestSaveTransitionRevisionGuard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewPacket(t, store, "PKT-2001", packet.ChannelFax)

	first, err := store.GetByID(ctx, "PKT-2001")
	if err != nil {
		t.Fatalf("GetByID first: %v", err)
	}
	second, err := store.GetByID(ctx, "PKT-2001")
	if err != nil {
		t.Fatalf("GetByID second: %v", err)
	}

	first.CurrentStage = 1
	if err := store.SaveTransition(ctx, first, &packet.AuditEntry{Stage: 1}); err != nil {
		t.Fatalf("SaveTransition: %v", err)
	}
	if first.Revision != 1 {
		t.Fatalf("expected revision 1 after transition, got %d", first.Revision)
	}

	second.CurrentStage = 2
	err = store.SaveTransition(ctx, second, nil)
	if !errors.Is(err, packet.ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict for stale write, got %v", err)
	}

	stored, err := store.GetByID(ctx, "PKT-2001")
	if err != nil {
		t.Fatalf("GetByID after conflict: %v", err)
	}
	if stored.CurrentStage != 1 {
		t.Fatalf("stale write must not land, stage %d", stored.CurrentStage)
	}
	if len(stored.AuditTrail) != 2 {
		t.Fatalf("expected intake plus transition audit entries, got %d", len(stored.AuditTrail))
	}
}

func TestAppendIncidentRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	p := testsupport.NewPacket(t, store, "PKT-3001", packet.ChannelPortal)

	p.Status = packet.StatusAPIError
	err := store.AppendIncident(ctx, p, packet.Incident{
		Code:             "ESMD-504",
		Category:         "transport",
		Severity:         packet.SeverityCritical,
		Message:          "esMD gateway timeout",
		ResolutionHint:   "Retry once the gateway recovers",
		AutoRetryEnabled: true,
		OverrideOptions:  []string{"Retry Stage", "Manual Override"},
		Stage:            0,
	})
	if err != nil {
		t.Fatalf("AppendIncident: %v", err)
	}

	stored, err := store.GetByID(ctx, "PKT-3001")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != packet.StatusAPIError {
		t.Fatalf("expected api_error status, got %s", stored.Status)
	}
	if stored.Revision != 1 {
		t.Fatalf("expected revision bump, got %d", stored.Revision)
	}
	if len(stored.ErrorLog) != 1 {
		t.Fatalf("expected one incident, got %d", len(stored.ErrorLog))
	}
	inc := stored.ErrorLog[0]
	if inc.Code != "ESMD-504" || inc.Severity != packet.SeverityCritical {
		t.Fatalf("incident fields lost: %#v", inc)
	}
	if !inc.AutoRetryEnabled || len(inc.OverrideOptions) != 2 {
		t.Fatalf("incident options lost: %#v", inc)
	}
	if inc.OccurredAt.IsZero() {
		t.Fatal("occurred_at must be stamped")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewPacket(t, store, "PKT-4001", packet.ChannelFax)
	errored := testsupport.NewPacket(t, store, "PKT-4002", packet.ChannelESMD)

	errored.Status = packet.StatusAPIError
	if err := store.AppendIncident(ctx, errored, packet.Incident{
		Code:     "OCR-500",
		Severity: packet.SeverityCritical,
	}); err != nil {
		t.Fatalf("AppendIncident: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(all))
	}
	if all[0].ID != "PKT-4001" {
		t.Fatalf("expected creation order, got %s first", all[0].ID)
	}

	failed, err := store.List(ctx, packet.StatusAPIError)
	if err != nil {
		t.Fatalf("List api_error: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "PKT-4002" {
		t.Fatalf("unexpected api_error list: %#v", failed)
	}
	if len(failed[0].ErrorLog) != 1 {
		t.Fatal("listed packets must carry their incidents")
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewPacket(t, store, "PKT-5001", packet.ChannelFax)
	delivered := testsupport.NewPacket(t, store, "PKT-5002", packet.ChannelFax)
	delivered.CurrentStage = 8
	delivered.Status = packet.StatusDelivered
	if err := store.SaveTransition(ctx, delivered, nil); err != nil {
		t.Fatalf("SaveTransition: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[packet.StatusInProgress] != 1 || stats[packet.StatusDelivered] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.InProgress != 1 || health.Delivered != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestRemove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewPacket(t, store, "PKT-6001", packet.ChannelFax)

	removed, err := store.Remove(ctx, "PKT-6001")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal to report true")
	}

	removed, err = store.Remove(ctx, "PKT-6001")
	if err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	if removed {
		t.Fatal("second removal should report false")
	}
}
