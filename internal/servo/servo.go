// Package servo sequences the deposit arm's sweep motion.
//
// The sweep is a fixed three-waypoint motion (sweep, return, rest) with a
// hold between waypoints. Unlike the firmware it replaces, the holds run on
// clock timers rather than blocking delays, so the bridge keeps ingesting
// classifier signals while the arm is moving. The actuator is open-loop:
// there is no feedback sensor, so a stalled or disconnected arm is
// undetectable here and commands are fire-and-forget.
package servo

import (
	"fmt"
	"sync"
	"time"

	"github.com/greenloop/p2pbridge/internal/monitoring"
	"github.com/greenloop/p2pbridge/internal/serialmux"
	"github.com/greenloop/p2pbridge/internal/timeutil"
)

// CommandSender is the write half of the serial link to the firmware.
type CommandSender interface {
	SendCommand(string) error
}

// Config holds the sweep waypoints and timing.
type Config struct {
	Rest        int           // park angle, also the final waypoint of every sweep
	Sweep       int           // first waypoint
	Return      int           // second waypoint
	Hold        time.Duration // pause between waypoints
	MinInterval time.Duration // minimum gap between sweep starts
}

// Sweeper drives the servo over a CommandSender. All methods are safe for
// concurrent use; the sweep chain itself runs on a single goroutine and is
// invalidated by a generation counter when reset or overridden.
type Sweeper struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	sender     CommandSender
	cfg        Config
	angle      int
	lastStart  time.Time // zero until the first sweep
	generation int
	sweeping   bool
}

// NewSweeper creates a Sweeper parked at the rest angle. No command is sent
// until the first motion request; startup parking is the serial mux
// Initialize sequence's job.
func NewSweeper(sender CommandSender, cfg Config, clock timeutil.Clock) *Sweeper {
	return &Sweeper{
		clock:  clock,
		sender: sender,
		cfg:    cfg,
		angle:  cfg.Rest,
	}
}

// Angle returns the last commanded servo position.
func (s *Sweeper) Angle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.angle
}

// Sweeping reports whether a sweep chain is currently in flight.
func (s *Sweeper) Sweeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeping
}

// MoveTo commands the servo directly to the given angle, bypassing any sweep
// in flight. Out-of-range angles are rejected with no state change.
func (s *Sweeper) MoveTo(angle int) error {
	if angle < 0 || angle > 180 {
		return fmt.Errorf("servo angle %d out of range [0,180]", angle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++ // invalidate any in-flight sweep chain
	s.sweeping = false
	return s.setAngleLocked(angle)
}

// Rest interrupts any in-flight sweep and parks the servo.
func (s *Sweeper) Rest() error {
	return s.MoveTo(s.cfg.Rest)
}

// RequestSweep starts the waypoint chain if permitted. Requests arriving
// within MinInterval of the previous sweep start are dropped, not queued;
// force bypasses the rate limit. The return value reports whether a sweep
// was started.
func (s *Sweeper) RequestSweep(force bool) bool {
	s.mu.Lock()

	now := s.clock.Now()
	if !force && !s.lastStart.IsZero() && now.Sub(s.lastStart) < s.cfg.MinInterval {
		s.mu.Unlock()
		return false
	}

	s.lastStart = now
	s.generation++
	gen := s.generation
	s.sweeping = true
	s.mu.Unlock()

	go s.runSweep(gen)
	return true
}

// runSweep walks the waypoint chain, abandoning the remainder if the
// generation has moved on (reset or manual override).
func (s *Sweeper) runSweep(gen int) {
	waypoints := []int{s.cfg.Sweep, s.cfg.Return, s.cfg.Rest}

	for i, angle := range waypoints {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return
		}
		if err := s.setAngleLocked(angle); err != nil {
			monitoring.Logf("sweep waypoint %d failed: %v", angle, err)
		}
		s.mu.Unlock()

		if i < len(waypoints)-1 && s.cfg.Hold > 0 {
			t := s.clock.NewTimer(s.cfg.Hold)
			<-t.C()
		}
	}

	s.mu.Lock()
	if s.generation == gen {
		s.sweeping = false
	}
	s.mu.Unlock()
}

func (s *Sweeper) setAngleLocked(angle int) error {
	if err := s.sender.SendCommand(serialmux.ServoCommand(angle)); err != nil {
		return err
	}
	s.angle = angle
	return nil
}
