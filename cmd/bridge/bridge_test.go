package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/greenloop/p2pbridge/internal/db"
	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/sequencer"
	"github.com/greenloop/p2pbridge/internal/servo"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

type nopSender struct{}

func (nopSender) SendCommand(string) error { return nil }

// TestBridgeEndToEnd feeds a classifier line stream through the full local
// pipeline (state machine, servo, database) and checks the persisted rows.
func TestBridgeEndToEnd(t *testing.T) {
	testingDir := t.TempDir()
	t.Logf("Testing directory: %s", testingDir)

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	d, err := db.NewDB(testingDir+"/test_bridge_data.db", clock)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}()
	if err := d.StartSession("session-e2e", "test_bridge"); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	sweeper := servo.NewSweeper(nopSender{}, servo.Config{
		Rest: 90, Sweep: 45, Return: 135, Hold: 0, MinInterval: time.Second,
	}, clock)

	seq := sequencer.New(sequencer.Config{
		Cooldown:        2 * time.Second,
		PointsPerBottle: 10,
		DeviceID:        "test_bridge",
		SessionID:       "session-e2e",
	}, sweeper, nil, d, monitoring.NewMetrics(), clock)

	// Two bottles pass the camera 3 s apart; each produces a burst of
	// presence frames followed by a clear.
	for _, step := range []struct {
		line    string
		advance time.Duration
	}{
		{"90", 100 * time.Millisecond},
		{"90", 100 * time.Millisecond},
		{"0", 2800 * time.Millisecond},
		{"90", 100 * time.Millisecond},
		{"0", 0},
	} {
		seq.HandleLine(step.line)
		clock.Advance(step.advance)
	}

	detections, err := d.RecentDetections(10)
	if err != nil {
		t.Fatalf("Failed to retrieve detections: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("Expected two detections in the database, got %d", len(detections))
	}

	expected := []db.Detection{
		{
			SessionID:   "session-e2e",
			BottleCount: 2,
			TotalPoints: 20,
			DetectedAt:  time.Date(2025, 6, 1, 12, 0, 3, 0, time.UTC),
		},
		{
			SessionID:   "session-e2e",
			BottleCount: 1,
			TotalPoints: 10,
			DetectedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	if diff := cmp.Diff(expected, detections); diff != "" {
		t.Errorf("Detection mismatch (-want +got):\n%s", diff)
	}

	snap := seq.Snapshot()
	if snap.BottleCount != 2 || snap.TotalPoints != 20 || snap.DetectionState {
		t.Errorf("Unexpected final state: %+v", snap)
	}
}
