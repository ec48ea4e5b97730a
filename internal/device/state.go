// v0
// internal/device/state.go
package device

import (
	"fmt"
	"log/slog"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/reading"
)

// State is a worker lifecycle state. Only the owning worker changes it.
type State int

const (
	Connecting State = iota
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool { return s == Stopped || s == Failed }

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Identity is the immutable description of one simulated device.
type Identity struct {
	DeviceID   string
	Location   string
	Credential string
}

// NewIdentity derives the device id from location.
func NewIdentity(location, credential string) Identity {
	return Identity{DeviceID: reading.DeviceID(location), Location: location, Credential: credential}
}

// LogValue keeps the credential out of logs.
func (id Identity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("device_id", id.DeviceID),
		slog.String("location", id.Location),
	)
}

// FatalError ends a worker in Failed after its handle became unusable.
type FatalError struct {
	DeviceID string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("device %s failed: %v", e.DeviceID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
