// Package sequencer implements the bridge's debounce and actuation state
// machine. It consumes classifier presence signals and operator commands as
// text lines, maintains the bottle count and session score, and drives the
// servo sweeper and telemetry publisher in response.
//
// The debounce rule is the core invariant: at most one detection is accepted
// per cooldown window, measured from the previously accepted detection. A
// presence signal that arrives inside the window is swallowed entirely, so a
// swallowed signal neither increments the count nor marks the object as
// present.
package sequencer

import (
	"sync"
	"time"

	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/serialmux"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

// Actions attached to telemetry publications.
const (
	ActionDetection      = "detection"
	ActionReset          = "reset"
	ActionPeriodicUpdate = "periodic_update"
	ActionBottleSweep    = "bottle_sweep"
	ActionServoMove      = "servo_move"
)

// Actuator is the servo surface the sequencer drives.
type Actuator interface {
	RequestSweep(force bool) bool
	MoveTo(angle int) error
	Rest() error
	Angle() int
}

// Publisher receives state snapshots for best-effort delivery to the remote
// sink. Publish must never block the caller.
type Publisher interface {
	Publish(action string, snap Snapshot)
}

// Store persists detection history. A nil Store disables persistence.
type Store interface {
	RecordDetection(count, points int) error
	RecordSweep(trigger string) error
}

// Config holds the debounce and scoring parameters.
type Config struct {
	Cooldown        time.Duration
	PointsPerBottle int
	DeviceID        string
	SessionID       string
}

// Sequencer is the debounce state machine. Safe for concurrent use; the
// serial reader, HTTP handlers, and telemetry ticker all call into it.
type Sequencer struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	cfg      Config
	actuator Actuator
	pub      Publisher
	store    Store
	metrics  *monitoring.Metrics

	count        int
	points       int
	present      bool
	lastAccepted time.Time // zero until the first accepted detection
}

// New creates a Sequencer. Publisher and Store may be nil; the zero clock is
// not permitted.
func New(cfg Config, actuator Actuator, pub Publisher, store Store, metrics *monitoring.Metrics, clock timeutil.Clock) *Sequencer {
	return &Sequencer{
		clock:    clock,
		cfg:      cfg,
		actuator: actuator,
		pub:      pub,
		store:    store,
		metrics:  metrics,
	}
}

// HandleLine classifies and dispatches one line from the serial link.
// Malformed lines are logged and dropped; they never change state.
func (s *Sequencer) HandleLine(line string) {
	kind, angle, err := serialmux.ClassifyLine(line)
	if err != nil {
		s.metrics.InvalidCommands.Add(1)
		monitoring.Logf("dropping malformed line %q: %v", line, err)
		return
	}

	switch kind {
	case serialmux.LineSignalPresent:
		s.Signal(true)
	case serialmux.LineSignalAbsent:
		s.Signal(false)
	case serialmux.LineReset:
		s.Reset()
	case serialmux.LineStatus:
		s.LogStatus()
	case serialmux.LineSweep:
		s.ForceSweep()
	case serialmux.LineServo:
		if err := s.Override(angle); err != nil {
			monitoring.Logf("servo override failed: %v", err)
		}
	default:
		s.metrics.InvalidCommands.Add(1)
		monitoring.Logf("ignoring unrecognized line %q", line)
	}
}

// Signal feeds one classifier presence signal into the state machine.
func (s *Sequencer) Signal(present bool) {
	s.metrics.SignalsReceived.Add(1)

	s.mu.Lock()

	if !present {
		if !s.present {
			s.mu.Unlock()
			return
		}
		s.present = false
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(ActionDetection, snap)
		return
	}

	now := s.clock.Now()
	inCooldown := !s.lastAccepted.IsZero() && now.Sub(s.lastAccepted) < s.cfg.Cooldown
	if s.present || inCooldown {
		s.mu.Unlock()
		s.metrics.DetectionsSwallowed.Add(1)
		return
	}

	s.count++
	s.points += s.cfg.PointsPerBottle
	s.present = true
	s.lastAccepted = now
	count, points := s.count, s.points
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.metrics.DetectionsAccepted.Add(1)
	monitoring.Logf("detection accepted: count=%d points=%d", count, points)

	swept := s.actuator.RequestSweep(false)
	if swept {
		s.metrics.SweepsExecuted.Add(1)
	} else {
		s.metrics.SweepsRateLimited.Add(1)
	}

	if s.store != nil {
		if err := s.store.RecordDetection(count, points); err != nil {
			monitoring.Logf("recording detection: %v", err)
		}
		if swept {
			if err := s.store.RecordSweep("detection"); err != nil {
				monitoring.Logf("recording sweep: %v", err)
			}
		}
	}
	s.publish(ActionDetection, snap)
}

// Reset zeroes the count and score, clears presence, and parks the servo.
// Resetting an already-zero machine is harmless.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	s.count = 0
	s.points = 0
	s.present = false
	s.lastAccepted = time.Time{}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.actuator.Rest(); err != nil {
		monitoring.Logf("parking servo on reset: %v", err)
	}
	monitoring.Logf("session reset")
	s.publish(ActionReset, snap)
}

// ForceSweep runs the sweep chain regardless of the rate limit window.
func (s *Sequencer) ForceSweep() {
	s.actuator.RequestSweep(true)
	s.metrics.SweepsExecuted.Add(1)

	if s.store != nil {
		if err := s.store.RecordSweep("manual"); err != nil {
			monitoring.Logf("recording sweep: %v", err)
		}
	}
	s.publish(ActionBottleSweep, s.Snapshot())
}

// Override moves the servo directly to the given angle, interrupting any
// sweep in flight. The angle must be within [0,180].
func (s *Sequencer) Override(angle int) error {
	if err := s.actuator.MoveTo(angle); err != nil {
		s.metrics.InvalidCommands.Add(1)
		return err
	}
	s.publish(ActionServoMove, s.Snapshot())
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LogStatus writes a one-line state dump to the log, matching the firmware's
// response to a "status" command.
func (s *Sequencer) LogStatus() {
	snap := s.Snapshot()
	monitoring.Logf("status: bottles=%d points=%d present=%t servo=%d",
		snap.BottleCount, snap.TotalPoints, snap.DetectionState, snap.ServoPosition)
}

func (s *Sequencer) snapshotLocked() Snapshot {
	return Snapshot{
		BottleCount:    s.count,
		TotalPoints:    s.points,
		DetectionState: s.present,
		Device:         s.cfg.DeviceID,
		ServoPosition:  s.actuator.Angle(),
		SessionID:      s.cfg.SessionID,
	}
}

func (s *Sequencer) publish(action string, snap Snapshot) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(action, snap)
}
