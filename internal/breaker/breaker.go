// v1
// internal/breaker/breaker.go

// Package breaker implements a consecutive-failure circuit breaker and a
// transport.Handle wrapper that fast-fails sends while the circuit is open.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrOpen marks every error from an open circuit, whether the call was
	// rejected or its failure tripped the breaker.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrRejected is returned without calling the operation while the
	// circuit is open. It matches ErrOpen.
	ErrRejected = fmt.Errorf("%w; fast-fail", ErrOpen)
)

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing
	SuccessesToClose int           // probe successes required in HalfOpen
}

// DefaultConfig mirrors the defaults used by the properties loader.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second, SuccessesToClose: 1}
}

// Validate rejects unusable tunables.
func (c Config) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max failures must be >= 1, got %d", c.MaxFailures)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be > 0, got %s", c.ResetTimeout)
	}
	if c.SuccessesToClose < 1 {
		return fmt.Errorf("successes to close must be >= 1, got %d", c.SuccessesToClose)
	}
	return nil
}

// Breaker guards an operation. It is safe for concurrent use.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	recentFails int
	probeOK     int
	probing     bool
	openedAt    time.Time
}

// New builds a closed breaker.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "breaker"), slog.String("name", name)),
		now:    time.Now,
		state:  Closed,
	}
	b.logger.Debug("breaker_created",
		slog.Int("max_failures", cfg.MaxFailures),
		slog.String("reset_timeout", cfg.ResetTimeout.String()),
		slog.Int("successes_to_close", cfg.SuccessesToClose))
	return b
}

// Execute runs op unless the circuit is open. A failure that trips the
// circuit is returned joined with ErrOpen so callers still see the cause.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.admit() {
		b.logger.Debug("breaker_fast_fail")
		return ErrRejected
	}
	err := b.run(ctx, op)
	if err == nil {
		b.onSuccess()
		return nil
	}
	if b.onFailure(err) {
		return errors.Join(ErrOpen, err)
	}
	return err
}

// run calls op, counting a panic as a failure before re-raising it.
func (b *Breaker) run(ctx context.Context, op func(ctx context.Context) error) error {
	defer func() {
		if r := recover(); r != nil {
			b.onFailure(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	return op(ctx)
}

// admit decides whether a call may proceed and moves Open to HalfOpen once
// the reset timeout has elapsed. Only one probe runs at a time.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		b.state = HalfOpen
		b.probeOK = 0
		b.logger.Info("breaker_half_open", slog.Int("previous_failures", b.recentFails))
		fallthrough
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails = 0
	if b.state != HalfOpen {
		return
	}
	b.probing = false
	b.probeOK++
	if b.probeOK >= b.cfg.SuccessesToClose {
		b.state = Closed
		b.logger.Info("breaker_closed", slog.Int("probe_successes", b.probeOK))
	}
}

// onFailure records err and reports whether the circuit is now open.
func (b *Breaker) onFailure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	switch b.state {
	case HalfOpen:
		b.probing = false
		b.trip()
		b.logger.Warn("breaker_probe_failed", slog.Any("err", err))
		return true
	case Closed:
		if b.recentFails >= b.cfg.MaxFailures {
			b.trip()
			b.logger.Error("breaker_opened", slog.Int("failures", b.recentFails), slog.Any("err", err))
			return true
		}
	}
	return false
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.probeOK = 0
}

// State reports the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }
