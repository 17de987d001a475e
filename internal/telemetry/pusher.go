package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/sequencer"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

// queue depth before publications are dropped. Pushes are full-state upserts,
// so a dropped event only delays the sink by one push.
const queueDepth = 16

// Log persists push outcomes locally. A nil Log disables persistence.
type Log interface {
	RecordPush(action string, ok bool) error
}

// Pusher delivers state snapshots to the sink from a single worker
// goroutine. Publish never blocks: the serial read loop and HTTP handlers
// enqueue, the worker pushes, and a full queue drops the publication.
//
// Alongside event-driven pushes, the worker upserts a "periodic_update"
// snapshot on a fixed interval so the sink converges even if events are
// dropped or the process sits idle.
type Pusher struct {
	client   *Client
	clock    timeutil.Clock
	interval time.Duration
	snapshot func() sequencer.Snapshot
	log      Log
	metrics  *monitoring.Metrics

	queue chan Payload

	mu       sync.Mutex
	lastSync time.Time
}

// NewPusher creates a Pusher. snapshot supplies the current state for
// periodic updates and must be non-nil.
func NewPusher(client *Client, interval time.Duration, snapshot func() sequencer.Snapshot, log Log, metrics *monitoring.Metrics, clock timeutil.Clock) *Pusher {
	return &Pusher{
		client:   client,
		clock:    clock,
		interval: interval,
		snapshot: snapshot,
		log:      log,
		metrics:  metrics,
		queue:    make(chan Payload, queueDepth),
	}
}

// Publish enqueues a snapshot for delivery. Never blocks; drops when the
// queue is full.
func (p *Pusher) Publish(action string, snap sequencer.Snapshot) {
	payload := NewPayload(action, snap, p.clock.Now())
	select {
	case p.queue <- payload:
	default:
		p.metrics.TelemetryPushDropped.Add(1)
		monitoring.Logf("telemetry queue full, dropping %s publication", action)
	}
}

// LastSync returns the time of the last successful push, zero if none.
func (p *Pusher) LastSync() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSync
}

// Start launches the worker goroutine. It returns once the periodic ticker
// is armed; the worker runs until ctx is cancelled.
func (p *Pusher) Start(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	go p.run(ctx, ticker)
}

func (p *Pusher) run(ctx context.Context, ticker timeutil.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-p.queue:
			p.push(payload)
		case <-ticker.C():
			p.push(NewPayload(sequencer.ActionPeriodicUpdate, p.snapshot(), p.clock.Now()))
		}
	}
}

func (p *Pusher) push(payload Payload) {
	err := p.client.Upsert(payload)
	if err != nil {
		p.metrics.TelemetryPushErrors.Add(1)
		monitoring.Logf("telemetry push failed (%s): %v", payload.Action, err)
	} else {
		p.metrics.TelemetryPushes.Add(1)
		p.mu.Lock()
		p.lastSync = p.clock.Now()
		p.mu.Unlock()
	}

	if p.log != nil {
		if logErr := p.log.RecordPush(payload.Action, err == nil); logErr != nil {
			monitoring.Logf("recording telemetry push: %v", logErr)
		}
	}
}
