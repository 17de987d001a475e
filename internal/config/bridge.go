// Package config loads the bridge tuning configuration.
//
// The schema matches the /api/config endpoint so the same JSON can be used
// for startup configuration and for inspection at runtime. All fields are
// optional pointers; the Get* accessors apply defaults for anything unset,
// so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults mirror the reference deployment: one accepted detection per 2 s,
// 10 points per bottle, a 90/45/135 degree waypoint sweep with 500 ms holds
// rate-limited to one per second, and a 5 s telemetry heartbeat.
const (
	DefaultCooldown          = 2 * time.Second
	DefaultPointsPerBottle   = 10
	DefaultServoRest         = 90
	DefaultServoSweep        = 45
	DefaultServoReturn       = 135
	DefaultServoHold         = 500 * time.Millisecond
	DefaultSweepMinInterval  = 1 * time.Second
	DefaultTelemetryInterval = 5 * time.Second
	DefaultDeviceID          = "p2p_bridge"
)

// Environment variables recognised by Load. They take precedence over the
// JSON file so a deployment can relocate the device without editing configs.
const (
	EnvSerialPort  = "P2P_SERIAL_PORT"
	EnvFirebaseURL = "P2P_FIREBASE_URL"
	EnvDeviceID    = "P2P_DEVICE_ID"
)

// BridgeConfig represents the root configuration for the detection bridge.
type BridgeConfig struct {
	// Debounce params
	Cooldown        *string `json:"cooldown,omitempty"` // duration string like "2s"
	PointsPerBottle *int    `json:"points_per_bottle,omitempty"`

	// Servo params
	ServoRest        *int    `json:"servo_rest,omitempty"`
	ServoSweep       *int    `json:"servo_sweep,omitempty"`
	ServoReturn      *int    `json:"servo_return,omitempty"`
	ServoHold        *string `json:"servo_hold,omitempty"`         // duration string like "500ms"
	SweepMinInterval *string `json:"sweep_min_interval,omitempty"` // duration string like "1s"

	// Telemetry params
	TelemetryInterval *string `json:"telemetry_interval,omitempty"` // duration string like "5s"
	FirebaseURL       *string `json:"firebase_url,omitempty"`
	DeviceID          *string `json:"device_id,omitempty"`

	// Serial params
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
}

// Default returns a BridgeConfig with all fields unset, so every accessor
// falls through to its default.
func Default() *BridgeConfig {
	return &BridgeConfig{}
}

// Load reads a BridgeConfig from a JSON file and applies environment
// overrides. An empty path returns the defaults (still honouring env vars).
func Load(path string) (*BridgeConfig, error) {
	cfg := Default()

	if path != "" {
		cleanPath := filepath.Clean(path)
		if ext := filepath.Ext(cleanPath); ext != ".json" {
			return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
		}

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *BridgeConfig) applyEnv() {
	if v := os.Getenv(EnvSerialPort); v != "" {
		c.SerialPort = &v
	}
	if v := os.Getenv(EnvFirebaseURL); v != "" {
		c.FirebaseURL = &v
	}
	if v := os.Getenv(EnvDeviceID); v != "" {
		c.DeviceID = &v
	}
}

// Validate checks ranges on everything that has one.
func (c *BridgeConfig) Validate() error {
	for name, angle := range map[string]*int{
		"servo_rest":   c.ServoRest,
		"servo_sweep":  c.ServoSweep,
		"servo_return": c.ServoReturn,
	} {
		if angle != nil && (*angle < 0 || *angle > 180) {
			return fmt.Errorf("%s angle %d out of range [0,180]", name, *angle)
		}
	}

	if c.PointsPerBottle != nil && *c.PointsPerBottle < 0 {
		return fmt.Errorf("points_per_bottle must be non-negative, got %d", *c.PointsPerBottle)
	}

	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}

	for name, d := range map[string]*string{
		"cooldown":           c.Cooldown,
		"servo_hold":         c.ServoHold,
		"sweep_min_interval": c.SweepMinInterval,
		"telemetry_interval": c.TelemetryInterval,
	} {
		if d == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s duration %q: %w", name, *d, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, parsed)
		}
	}

	return nil
}

func (c *BridgeConfig) duration(s *string, def time.Duration) time.Duration {
	if s == nil {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetCooldown returns the detection cooldown window.
func (c *BridgeConfig) GetCooldown() time.Duration {
	return c.duration(c.Cooldown, DefaultCooldown)
}

// GetPointsPerBottle returns the score increment per accepted detection.
func (c *BridgeConfig) GetPointsPerBottle() int {
	if c.PointsPerBottle == nil {
		return DefaultPointsPerBottle
	}
	return *c.PointsPerBottle
}

// GetServoRest returns the rest waypoint angle.
func (c *BridgeConfig) GetServoRest() int {
	if c.ServoRest == nil {
		return DefaultServoRest
	}
	return *c.ServoRest
}

// GetServoSweep returns the sweep waypoint angle.
func (c *BridgeConfig) GetServoSweep() int {
	if c.ServoSweep == nil {
		return DefaultServoSweep
	}
	return *c.ServoSweep
}

// GetServoReturn returns the return waypoint angle.
func (c *BridgeConfig) GetServoReturn() int {
	if c.ServoReturn == nil {
		return DefaultServoReturn
	}
	return *c.ServoReturn
}

// GetServoHold returns the hold duration between waypoints.
func (c *BridgeConfig) GetServoHold() time.Duration {
	return c.duration(c.ServoHold, DefaultServoHold)
}

// GetSweepMinInterval returns the minimum gap between sweep starts.
func (c *BridgeConfig) GetSweepMinInterval() time.Duration {
	return c.duration(c.SweepMinInterval, DefaultSweepMinInterval)
}

// GetTelemetryInterval returns the periodic push cadence.
func (c *BridgeConfig) GetTelemetryInterval() time.Duration {
	return c.duration(c.TelemetryInterval, DefaultTelemetryInterval)
}

// GetFirebaseURL returns the telemetry sink base URL, empty if unconfigured.
func (c *BridgeConfig) GetFirebaseURL() string {
	if c.FirebaseURL == nil {
		return ""
	}
	return *c.FirebaseURL
}

// GetDeviceID returns the fixed device identifier used to key upserts.
func (c *BridgeConfig) GetDeviceID() string {
	if c.DeviceID == nil || *c.DeviceID == "" {
		return DefaultDeviceID
	}
	return *c.DeviceID
}

// GetSerialPort returns the serial device path, empty if unconfigured.
func (c *BridgeConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetBaudRate returns the serial baud rate.
func (c *BridgeConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}
