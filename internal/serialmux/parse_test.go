package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line  string
		kind  string
		angle int
		isErr bool
	}{
		{"90", LineSignalPresent, 0, false},
		{"0", LineSignalAbsent, 0, false},
		{"reset", LineReset, 0, false},
		{"status", LineStatus, 0, false},
		{"SWEEP", LineSweep, 0, false},
		{"SERVO:45", LineServo, 45, false},
		{"SERVO:0", LineServo, 0, false},
		{"SERVO:180", LineServo, 180, false},
		{"SERVO:181", LineUnknown, 0, true},
		{"SERVO:-1", LineUnknown, 0, true},
		{"SERVO:abc", LineUnknown, 0, true},
		{"  90  ", LineSignalPresent, 0, false},
		{"hello", LineUnknown, 0, false},
		{"", LineUnknown, 0, false},
	}

	for _, tt := range tests {
		kind, angle, err := ClassifyLine(tt.line)
		assert.Equal(t, tt.kind, kind, "line %q", tt.line)
		assert.Equal(t, tt.angle, angle, "line %q", tt.line)
		if tt.isErr {
			assert.Error(t, err, "line %q", tt.line)
		} else {
			assert.NoError(t, err, "line %q", tt.line)
		}
	}
}

func TestServoCommand(t *testing.T) {
	assert.Equal(t, "SERVO:135", ServoCommand(135))

	// Round trip through the classifier.
	kind, angle, err := ClassifyLine(ServoCommand(72))
	assert.NoError(t, err)
	assert.Equal(t, LineServo, kind)
	assert.Equal(t, 72, angle)
}

func TestPortOptionsNormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	assert.NoError(t, err)
	assert.Equal(t, 115200, opts.BaudRate)
	assert.Equal(t, 8, opts.DataBits)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
}

func TestPortOptionsNormalizeRejectsBadValues(t *testing.T) {
	_, err := PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)

	_, err = PortOptions{Parity: "X"}.Normalize()
	assert.Error(t, err)
}

func TestPortOptionsEqual(t *testing.T) {
	a := PortOptions{BaudRate: 115200, Parity: "none"}
	b := PortOptions{BaudRate: 115200, Parity: "N", DataBits: 8, StopBits: 1}
	assert.True(t, a.Equal(b))

	c := PortOptions{BaudRate: 9600}
	assert.False(t, a.Equal(c))
}
