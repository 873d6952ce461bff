package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"packetwatch/internal/api"
	"packetwatch/internal/config"
	"packetwatch/internal/daemon"
	"packetwatch/internal/logging"
	"packetwatch/internal/packet"
	"packetwatch/internal/processor"
	"packetwatch/internal/testsupport"
)

type blockedProcessor struct{}

func (blockedProcessor) Name() string { return "hold" }

func (blockedProcessor) Process(ctx context.Context, _ *packet.Packet) error {
	<-ctx.Done()
	return ctx.Err()
}

// startDaemon boots a daemon on an ephemeral port with every stage held open
// so packets only move when the test says so.
func startDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*daemon.Daemon, *packet.Store, string) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	registry := processor.NewRegistry()
	for i := 0; i < 9; i++ {
		registry.Register(i, blockedProcessor{})
	}

	d, err := daemon.New(cfg, store, logging.NewNop(), registry)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return d, store, "http://" + d.Addr()
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(first.Stop)

	second, err := daemon.New(cfg, store, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon instance should fail to start")
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, _, base := startDaemon(t)

	var status api.StatusSummary
	if code := getJSON(t, base+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if len(status.Stages) != 9 {
		t.Fatalf("expected 9 stages, got %d", len(status.Stages))
	}
}

func TestIngestListAndView(t *testing.T) {
	_, _, base := startDaemon(t)

	var created api.Packet
	code := postJSON(t, base+"/api/packets", api.IngestRequest{
		Channel: "fax",
		Payload: api.IngestPayload{Patient: "Jordan Rivera", ContainsPHI: true},
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("ingest status %d", code)
	}
	if created.CurrentStage != 0 || created.Status != "in_progress" {
		t.Fatalf("unexpected created packet %+v", created)
	}

	var list api.PacketList
	if code := getJSON(t, base+"/api/packets?search=rivera", &list); code != http.StatusOK {
		t.Fatalf("list status %d", code)
	}
	if list.Count != 1 || list.Packets[0].ID != created.ID {
		t.Fatalf("unexpected listing %+v", list)
	}

	var detail api.PacketDetail
	if code := getJSON(t, base+"/api/packets/"+created.ID, &detail); code != http.StatusOK {
		t.Fatalf("view status %d", code)
	}
	if detail.StageName != "Packet Intake" {
		t.Fatalf("unexpected detail %+v", detail.Packet)
	}
	if len(detail.AuditTrail) != 1 {
		t.Fatalf("expected intake audit entry, got %d", len(detail.AuditTrail))
	}
}

func TestIngestRejectsUnknownChannel(t *testing.T) {
	_, _, base := startDaemon(t)
	code := postJSON(t, base+"/api/packets", api.IngestRequest{Channel: "carrier_pigeon"}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	_, store, base := startDaemon(t)

	p := testsupport.NewPacket(t, store, "PKT-MAP", packet.ChannelFax)

	// retry of an in_progress packet → invalid transition → 409
	if code := postJSON(t, base+"/api/packets/"+p.ID+"/retry", nil, nil); code != http.StatusConflict {
		t.Fatalf("retry conflict: expected 409, got %d", code)
	}
	// override without confirmation → 428
	if code := postJSON(t, base+"/api/packets/"+p.ID+"/override", api.OverrideRequest{Confirmed: false, Reason: "x"}, nil); code != http.StatusPreconditionRequired {
		t.Fatalf("override: expected 428, got %d", code)
	}
	// unknown packet → 404
	if code := getJSON(t, base+"/api/packets/PKT-NONE", nil); code != http.StatusNotFound {
		t.Fatalf("view: expected 404, got %d", code)
	}
	// malformed status filter → 400
	if code := getJSON(t, base+"/api/packets?status=bogus", nil); code != http.StatusBadRequest {
		t.Fatalf("list: expected 400, got %d", code)
	}
	// exclusive trio violation → 400
	if code := getJSON(t, base+"/api/packets?status=errors&status=delivered", nil); code != http.StatusBadRequest {
		t.Fatalf("list trio: expected 400, got %d", code)
	}
}

func TestDownloadPHIGate(t *testing.T) {
	_, store, base := startDaemon(t)

	p, err := store.NewPacket(context.Background(), "PKT-PHI", packet.ChannelESMD, packet.Payload{
		ContainsPHI: true,
		Patient:     "Casey Lin",
	})
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}

	if code := getJSON(t, base+"/api/packets/"+p.ID+"/download", nil); code != http.StatusForbidden {
		t.Fatalf("unauthorized download: expected 403, got %d", code)
	}

	var snapshot struct {
		PacketID string `json:"packetId"`
		Payload  struct {
			Patient string `json:"patient"`
		} `json:"payload"`
	}
	if code := getJSON(t, base+"/api/packets/"+p.ID+"/download?phi=1", &snapshot); code != http.StatusOK {
		t.Fatalf("authorized download: expected 200, got %d", code)
	}
	if snapshot.PacketID != p.ID || snapshot.Payload.Patient != "Casey Lin" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestOverrideAdvancesPacket(t *testing.T) {
	_, _, base := startDaemon(t)

	var created api.Packet
	if code := postJSON(t, base+"/api/packets", api.IngestRequest{Channel: "esmd"}, &created); code != http.StatusCreated {
		t.Fatalf("ingest status %d", code)
	}

	var updated api.Packet
	code := postJSON(t, base+"/api/packets/"+created.ID+"/override", api.OverrideRequest{
		Confirmed: true,
		Reason:    "supervisor approved skip",
	}, &updated)
	if code != http.StatusOK {
		t.Fatalf("override status %d", code)
	}
	if updated.CurrentStage != 1 {
		t.Fatalf("expected stage 1 after override, got %d", updated.CurrentStage)
	}
	if updated.Revision <= created.Revision {
		t.Fatalf("revision should advance: %d -> %d", created.Revision, updated.Revision)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, store, base := startDaemon(t)
	testsupport.NewPacket(t, store, "PKT-M1", packet.ChannelFax)
	testsupport.NewPacket(t, store, "PKT-M2", packet.ChannelFax)

	var summary struct {
		ProcessingNow int `json:"processingNow"`
	}
	if code := getJSON(t, base+"/api/metrics", &summary); code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
	if summary.ProcessingNow != 2 {
		t.Fatalf("ProcessingNow = %d, want 2", summary.ProcessingNow)
	}
}

func TestBearerAuth(t *testing.T) {
	_, _, base := startDaemon(t, testsupport.WithAPIToken("sekrit"))

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer sekrit")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}
}

func TestLogsEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	base := "http://" + d.Addr()

	logPath := logging.LogFilePath(cfg)
	if err := os.WriteFile(logPath, []byte("alpha\nbeta\ngamma\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}

	var tail api.LogTail
	if code := getJSON(t, base+"/api/logs?lines=2", &tail); code != http.StatusOK {
		t.Fatalf("logs status %d", code)
	}
	if len(tail.Lines) != 2 || tail.Lines[0] != "beta" || tail.Lines[1] != "gamma" {
		t.Fatalf("unexpected tail %+v", tail)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString("delta\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	var next api.LogTail
	url := fmt.Sprintf("%s/api/logs?offset=%d", base, tail.Offset)
	if code := getJSON(t, url, &next); code != http.StatusOK {
		t.Fatalf("resumed logs status %d", code)
	}
	if len(next.Lines) != 1 || next.Lines[0] != "delta" {
		t.Fatalf("unexpected resumed tail %+v", next)
	}
}

func TestWorkflowDeliversWhenStagesSucceed(t *testing.T) {
	cfg := testsupport.NewConfig(t, func(c *config.Config) {
		c.Workflow.PollInterval = 1
	})
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop(), processor.NewRegistry())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	p := testsupport.NewPacket(t, store, "PKT-AUTO", packet.ChannelPortal)

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		current, err := store.GetByID(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if current.IsDelivered() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("packet %s was not delivered by the scheduler", p.ID)
}
