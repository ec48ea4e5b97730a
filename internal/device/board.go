// v0
// internal/device/board.go
package device

import (
	"sort"
	"sync"
	"time"
)

// Status is the latest known picture of one device.
type Status struct {
	DeviceID            string     `json:"deviceId"`
	Location            string     `json:"location"`
	State               State      `json:"state"`
	Published           int        `json:"published"`
	Failed              int        `json:"failed"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastPublishedAt     *time.Time `json:"lastPublishedAt,omitempty"`
	LastStatus          string     `json:"lastStatus,omitempty"`
}

// Board aggregates worker events into per-device status for the HTTP API.
type Board struct {
	now func() time.Time

	mu      sync.RWMutex
	devices map[string]*Status
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{now: time.Now, devices: make(map[string]*Status)}
}

func (b *Board) entry(id Identity) *Status {
	s, ok := b.devices[id.DeviceID]
	if !ok {
		s = &Status{DeviceID: id.DeviceID, Location: id.Location}
		b.devices[id.DeviceID] = s
	}
	return s
}

// OnState records a transition.
func (b *Board) OnState(id Identity, state State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(id)
	s.State = state
	if err != nil {
		s.LastError = err.Error()
	}
}

// OnPublish records a cycle outcome.
func (b *Board) OnPublish(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(o.Identity)
	if o.Err != nil {
		s.Failed++
		s.ConsecutiveFailures = o.ConsecutiveFailures
		s.LastError = o.Err.Error()
		return
	}
	at := b.now().UTC()
	s.Published++
	s.ConsecutiveFailures = 0
	s.LastPublishedAt = &at
	s.LastStatus = StatusLine(o.Reading)
}

// Snapshot returns a copy of every device's status ordered by device id.
func (b *Board) Snapshot() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Status, 0, len(b.devices))
	for _, s := range b.devices {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Ready reports whether at least one device is running.
func (b *Board) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.devices {
		if s.State == Running {
			return true
		}
	}
	return false
}
