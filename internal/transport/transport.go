// v0
// internal/transport/transport.go

// Package transport defines the capability a device worker uses to deliver
// telemetry. Concrete implementations live in the sub-packages.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrHandleInvalid marks a handle that can never send again. Workers treat
// it as fatal; every other Send error is a per-message failure.
var ErrHandleInvalid = errors.New("transport handle is no longer usable")

// Message is one outgoing telemetry payload plus its delivery metadata.
type Message struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	MessageID       string
	DeviceID        string
}

// Handle is a device's live connection to the ingestion endpoint. A handle
// is owned by exactly one worker and is never shared.
type Handle interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Transport turns a connection credential into a Handle.
type Transport interface {
	Acquire(ctx context.Context, credential string) (Handle, error)
}

// Func adapts a plain function to the Transport interface.
type Func func(ctx context.Context, credential string) (Handle, error)

// Acquire calls f.
func (f Func) Acquire(ctx context.Context, credential string) (Handle, error) {
	return f(ctx, credential)
}

// AcquireError reports that a device could not obtain its transport handle.
type AcquireError struct {
	DeviceID string
	Err      error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire transport for %s: %v", e.DeviceID, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }
