package alerting_test

import (
	"testing"
	"time"

	"packetwatch/internal/alerting"
	"packetwatch/internal/packet"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)
	threshold := time.Hour

	cases := []struct {
		name       string
		status     packet.Status
		lastUpdate time.Time
		want       alerting.Alert
	}{
		{"fresh in progress", packet.StatusInProgress, now.Add(-10 * time.Minute), alerting.AlertNone},
		{"exactly at threshold", packet.StatusInProgress, now.Add(-time.Hour), alerting.AlertNone},
		{"aged in progress", packet.StatusInProgress, now.Add(-90 * time.Minute), alerting.AlertAging},
		{"aged manual correction", packet.StatusManualCorrection, now.Add(-2 * time.Hour), alerting.AlertAging},
		{"aged api error", packet.StatusAPIError, now.Add(-2 * time.Hour), alerting.AlertCritical},
		{"fresh api error", packet.StatusAPIError, now.Add(-5 * time.Minute), alerting.AlertNone},
		{"delivered never alerts", packet.StatusDelivered, now.Add(-48 * time.Hour), alerting.AlertNone},
		{"zero timestamp never alerts", packet.StatusAPIError, time.Time{}, alerting.AlertNone},
		{"future timestamp never alerts", packet.StatusInProgress, now.Add(time.Hour), alerting.AlertNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &packet.Packet{Status: tc.status, LastUpdate: tc.lastUpdate}
			if got := alerting.Classify(p, now, threshold); got != tc.want {
				t.Fatalf("Classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyNilPacket(t *testing.T) {
	if got := alerting.Classify(nil, time.Now(), time.Hour); got != alerting.AlertNone {
		t.Fatalf("nil packet should classify as none, got %s", got)
	}
}
