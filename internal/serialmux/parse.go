package serialmux

import (
	"fmt"
	"strconv"
	"strings"
)

// Line tokens emitted by the classifier and operator tooling. "90" and "0"
// are the classifier's per-frame presence signals; the rest are discrete
// commands.
const (
	LineSignalPresent = "signal_present"
	LineSignalAbsent  = "signal_absent"
	LineReset         = "reset"
	LineStatus        = "status"
	LineSweep         = "sweep"
	LineServo         = "servo"
	LineUnknown       = "unknown"
)

// Outbound device commands written back to the firmware.
const (
	CommandStatus    = "status"
	CommandServoRest = "SERVO:90"
	servoPrefix      = "SERVO:"
)

// ClassifyLine inspects a payload line and returns its token plus, for servo
// override commands, the parsed angle. The classification is intentionally
// conservative: anything it does not recognise is LineUnknown and the caller
// decides whether to log or drop it.
func ClassifyLine(line string) (kind string, angle int, err error) {
	trimmed := strings.TrimSpace(line)

	switch trimmed {
	case "90":
		return LineSignalPresent, 0, nil
	case "0":
		return LineSignalAbsent, 0, nil
	case "reset":
		return LineReset, 0, nil
	case "status":
		return LineStatus, 0, nil
	case "SWEEP":
		return LineSweep, 0, nil
	}

	if strings.HasPrefix(trimmed, servoPrefix) {
		raw := strings.TrimPrefix(trimmed, servoPrefix)
		a, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return LineUnknown, 0, fmt.Errorf("invalid servo angle %q: %w", raw, parseErr)
		}
		if a < 0 || a > 180 {
			return LineUnknown, 0, fmt.Errorf("servo angle %d out of range [0,180]", a)
		}
		return LineServo, a, nil
	}

	return LineUnknown, 0, nil
}

// ServoCommand formats a set-angle command for the firmware.
func ServoCommand(angle int) string {
	return fmt.Sprintf("%s%d", servoPrefix, angle)
}
