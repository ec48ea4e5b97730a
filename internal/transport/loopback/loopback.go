// v0
// internal/transport/loopback/loopback.go

// Package loopback is an in-process transport. Messages never leave the
// process; they are logged and kept for inspection. Used for dry runs.
package loopback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

// ErrEmptyCredential is returned by Acquire for a blank credential.
var ErrEmptyCredential = errors.New("loopback: empty credential")

// Delivery is one message accepted by the sink.
type Delivery struct {
	Credential string
	Message    transport.Message
}

// Sink records every delivered message.
type Sink struct {
	logger *slog.Logger

	mu         sync.Mutex
	deliveries []Delivery
	open       int
}

// New returns an empty sink. A nil logger disables message logging.
func New(logger *slog.Logger) *Sink {
	if logger != nil {
		logger = logger.With(slog.String("component", "loopback"))
	}
	return &Sink{logger: logger}
}

// Acquire accepts any non-blank credential.
func (s *Sink) Acquire(ctx context.Context, credential string) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(credential) == "" {
		return nil, ErrEmptyCredential
	}
	s.mu.Lock()
	s.open++
	s.mu.Unlock()
	return &handle{sink: s, credential: credential}, nil
}

// Deliveries returns a copy of everything received so far, in arrival order.
func (s *Sink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// OpenHandles reports how many acquired handles have not been closed.
func (s *Sink) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

type handle struct {
	sink       *Sink
	credential string

	mu     sync.Mutex
	closed bool
}

func (h *handle) Send(ctx context.Context, msg transport.Message) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return transport.ErrHandleInvalid
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s := h.sink
	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{Credential: h.credential, Message: msg})
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Debug("loopback_message",
			slog.String("device_id", msg.DeviceID),
			slog.String("message_id", msg.MessageID),
			slog.String("body", string(msg.Body)))
	}
	return nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.sink.mu.Lock()
	h.sink.open--
	h.sink.mu.Unlock()
	return nil
}
