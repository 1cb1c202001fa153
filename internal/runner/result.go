package runner

import (
	"time"

	"github.com/mindwolf80/nice/internal/device"
)

// Status classifies the outcome of one executed command.
type Status int

const (
	// Success: the device accepted the command.
	Success Status = iota
	// DeviceError: the device accepted the connection but rejected the
	// command (best-effort, phrase-based classification).
	DeviceError
	// TransportError: the command could not be delivered or read back.
	TransportError
	// Skipped: the command (or the whole device) was skipped because the
	// run was cancelled.
	Skipped
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case DeviceError:
		return "device error"
	case TransportError:
		return "transport error"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Markers used in the Command field for results that do not correspond to a
// single plan command.
const (
	ConfigModeMarker = "CONFIG MODE"
	ConnectMarker    = "CONNECT"
	SkippedMarker    = "SKIPPED"
)

// Result is the record emitted for each executed command (or for a whole
// config-mode batch, connect failure, or cancellation skip).
type Result struct {
	Host    string
	Name    string
	Command string
	Output  string
	Status  Status
	Err     error
	Time    time.Time
}

// NewResult builds a Result for the given target, stamping the current time.
func NewResult(t device.Target, command, output string, status Status, err error) Result {
	return Result{
		Host:    t.Host,
		Name:    t.Name,
		Command: command,
		Output:  output,
		Status:  status,
		Err:     err,
		Time:    time.Now(),
	}
}
