// v0
// internal/telemetry/publisher.go

// Package telemetry turns readings into wire messages and hands them to a
// transport handle.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/reading"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

const (
	ContentType     = "application/json"
	ContentEncoding = "utf-8"

	DefaultPublishTimeout = 10 * time.Second
)

// Payload is the canonical wire form of a reading. Field order is the
// serialized key order.
type Payload struct {
	DeviceID            string  `json:"deviceId"`
	Location            string  `json:"location"`
	Timestamp           string  `json:"timestamp"`
	IceThickness        float64 `json:"iceThickness"`
	SurfaceTemperature  float64 `json:"surfaceTemperature"`
	SnowAccumulation    float64 `json:"snowAccumulation"`
	ExternalTemperature float64 `json:"externalTemperature"`
}

// PayloadFrom converts a reading to its wire form.
func PayloadFrom(r reading.Reading) Payload {
	return Payload{
		DeviceID:            r.DeviceID,
		Location:            r.Location,
		Timestamp:           r.FormattedTimestamp(),
		IceThickness:        r.IceThickness,
		SurfaceTemperature:  r.SurfaceTemperature,
		SnowAccumulation:    r.SnowAccumulation,
		ExternalTemperature: r.ExternalTemperature,
	}
}

// Encode serializes r as canonical JSON.
func Encode(r reading.Reading) ([]byte, error) {
	return json.Marshal(PayloadFrom(r))
}

// PublishError reports a reading that did not reach the transport. It is
// never fatal to the device that produced it.
type PublishError struct {
	DeviceID string
	Location string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s (%s): %v", e.DeviceID, e.Location, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Option customises a Publisher.
type Option func(*Publisher)

// WithTimeout bounds each send. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// Publisher sends one reading per call. It holds no per-device state and
// can be shared by all workers.
type Publisher struct {
	timeout time.Duration
	newID   func() string
}

// NewPublisher returns a publisher with a uuid message id per reading.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		timeout: DefaultPublishTimeout,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Timeout reports the per-send bound.
func (p *Publisher) Timeout() time.Duration { return p.timeout }

// Publish makes exactly one send attempt for r through h. The send is
// detached from ctx cancellation so an in-flight message can finish while
// the fleet stops, but never outlives the publish timeout. Every failure,
// including a panic inside the transport, comes back as *PublishError.
func (p *Publisher) Publish(ctx context.Context, h transport.Handle, r reading.Reading) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PublishError{DeviceID: r.DeviceID, Location: r.Location, Err: fmt.Errorf("transport panic: %v", rec)}
		}
	}()

	body, err := Encode(r)
	if err != nil {
		return &PublishError{DeviceID: r.DeviceID, Location: r.Location, Err: fmt.Errorf("marshal: %w", err)}
	}
	msg := transport.Message{
		Body:            body,
		ContentType:     ContentType,
		ContentEncoding: ContentEncoding,
		MessageID:       p.newID(),
		DeviceID:        r.DeviceID,
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := h.Send(sendCtx, msg); err != nil {
		return &PublishError{DeviceID: r.DeviceID, Location: r.Location, Err: err}
	}
	return nil
}
