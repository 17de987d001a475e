package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenloop/p2pbridge/internal/httputil"
	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/sequencer"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

var testSnap = sequencer.Snapshot{
	BottleCount:    3,
	TotalPoints:    30,
	DetectionState: true,
	Device:         "test_bridge",
	ServoPosition:  90,
}

type fakeLog struct {
	mu      sync.Mutex
	records []struct {
		action string
		ok     bool
	}
}

func (f *fakeLog) RecordPush(action string, ok bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, struct {
		action string
		ok     bool
	}{action, ok})
	return nil
}

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestClientURL(t *testing.T) {
	c := NewClient("https://example.firebaseio.com/", "bridge_1", httputil.NewMockHTTPClient())
	assert.Equal(t, "https://example.firebaseio.com/bottle_data/bridge_1.json", c.URL())
}

func TestUpsertPutsFullState(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	c := NewClient("https://example.firebaseio.com", "test_bridge", mock)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Upsert(NewPayload(sequencer.ActionDetection, testSnap, now)))

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "https://example.firebaseio.com/bottle_data/test_bridge.json", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(mock.GetBody(0)), &got))
	assert.Equal(t, float64(3), got["bottle_count"])
	assert.Equal(t, float64(30), got["total_points"])
	assert.Equal(t, true, got["detection_state"])
	assert.Equal(t, "test_bridge", got["device"])
	assert.Equal(t, float64(90), got["servo_position"])
	assert.Equal(t, "detection", got["action"])
	assert.Equal(t, "2025-06-01T12:00:00Z", got["timestamp"])
	assert.Equal(t, float64(now.Unix()), got["unix_timestamp"])
}

func TestUpsertRejectsErrorStatus(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusInternalServerError, "boom")
	c := NewClient("https://example.firebaseio.com", "d", mock)

	err := c.Upsert(NewPayload(sequencer.ActionReset, testSnap, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestUpsertTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(assert.AnError)
	c := NewClient("https://example.firebaseio.com", "d", mock)

	assert.Error(t, c.Upsert(NewPayload(sequencer.ActionReset, testSnap, time.Now())))
}

type pusherFixture struct {
	pusher  *Pusher
	mock    *httputil.MockHTTPClient
	clock   *timeutil.MockClock
	log     *fakeLog
	metrics *monitoring.Metrics
	cancel  context.CancelFunc
}

func newPusherFixture(t *testing.T, start bool) *pusherFixture {
	t.Helper()
	f := &pusherFixture{
		mock:    httputil.NewMockHTTPClient(),
		clock:   timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		log:     &fakeLog{},
		metrics: monitoring.NewMetrics(),
	}
	client := NewClient("https://example.firebaseio.com", "test_bridge", f.mock)
	f.pusher = NewPusher(client, 5*time.Second, func() sequencer.Snapshot { return testSnap }, f.log, f.metrics, f.clock)

	if start {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		t.Cleanup(cancel)
		f.pusher.Start(ctx)
	}
	return f
}

func TestPublishDeliversToSink(t *testing.T) {
	f := newPusherFixture(t, true)

	f.pusher.Publish(sequencer.ActionDetection, testSnap)

	require.Eventually(t, func() bool { return f.mock.RequestCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, http.MethodPut, f.mock.GetRequest(0).Method)
	assert.Contains(t, f.mock.GetBody(0), `"action":"detection"`)

	require.Eventually(t, func() bool { return f.metrics.TelemetryPushes.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.False(t, f.pusher.LastSync().IsZero())
}

func TestPeriodicUpdateFiresOnInterval(t *testing.T) {
	f := newPusherFixture(t, true)

	f.clock.Advance(5 * time.Second)

	require.Eventually(t, func() bool { return f.mock.RequestCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Contains(t, f.mock.GetBody(0), `"action":"periodic_update"`)
	assert.Contains(t, f.mock.GetBody(0), `"bottle_count":3`)
}

func TestPushFailureCountsErrorAndKeepsRunning(t *testing.T) {
	f := newPusherFixture(t, true)
	f.mock.AddErrorResponse(assert.AnError)

	f.pusher.Publish(sequencer.ActionDetection, testSnap)
	require.Eventually(t, func() bool { return f.metrics.TelemetryPushErrors.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, f.pusher.LastSync().IsZero(), "failed pushes must not advance the sync time")

	// Next push succeeds against the default 200 response.
	f.pusher.Publish(sequencer.ActionReset, testSnap)
	require.Eventually(t, func() bool { return f.metrics.TelemetryPushes.Load() == 1 }, 2*time.Second, time.Millisecond)
}

func TestPushOutcomesAreLogged(t *testing.T) {
	f := newPusherFixture(t, true)
	f.mock.AddErrorResponse(assert.AnError)

	f.pusher.Publish(sequencer.ActionDetection, testSnap)
	f.pusher.Publish(sequencer.ActionReset, testSnap)

	require.Eventually(t, func() bool { return f.log.count() == 2 }, 2*time.Second, time.Millisecond)
	f.log.mu.Lock()
	defer f.log.mu.Unlock()
	assert.False(t, f.log.records[0].ok)
	assert.True(t, f.log.records[1].ok)
}

func TestPublishNeverBlocksWhenQueueFull(t *testing.T) {
	f := newPusherFixture(t, false) // no worker draining the queue

	for i := 0; i < queueDepth+3; i++ {
		f.pusher.Publish(sequencer.ActionDetection, testSnap)
	}

	assert.Equal(t, uint64(3), f.metrics.TelemetryPushDropped.Load())
	assert.Equal(t, 0, f.mock.RequestCount())
}

func TestStartStopsOnContextCancel(t *testing.T) {
	f := newPusherFixture(t, true)
	f.cancel()

	// Give the worker a moment to exit, then verify it no longer drains.
	time.Sleep(10 * time.Millisecond)
	f.pusher.Publish(sequencer.ActionDetection, testSnap)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.mock.RequestCount())
}
