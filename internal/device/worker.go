// v2
// internal/device/worker.go

// Package device runs one simulated sensor: acquire a transport handle,
// then generate, publish and wait on a fixed cadence until stopped.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/breaker"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/reading"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

// DefaultInterval is the pause between cycles when none is configured.
const DefaultInterval = 10 * time.Second

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("device worker already started")

// Generator produces readings for a location.
type Generator interface {
	Generate(location string) (reading.Reading, error)
}

// Publisher sends a reading through a handle, at most once per call.
type Publisher interface {
	Publish(ctx context.Context, h transport.Handle, r reading.Reading) error
}

// Config holds per-worker tunables.
type Config struct {
	Interval time.Duration
	Cycles   int             // 0 runs until cancelled
	Breaker  *breaker.Config // nil disables the per-handle breaker
}

// Option customises a Worker.
type Option func(*Worker)

// WithObserver attaches an event sink.
func WithObserver(o Observer) Option {
	return func(w *Worker) {
		if o != nil {
			w.observer = o
		}
	}
}

// WithLogger sets the worker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// Worker owns one device and its transport handle for its whole life.
type Worker struct {
	id        Identity
	cfg       Config
	transport transport.Transport
	generator Generator
	publisher Publisher
	observer  Observer
	logger    *slog.Logger

	started atomic.Bool

	mu    sync.Mutex
	state State
}

// NewWorker builds a worker in Connecting; nothing happens until Run.
func NewWorker(id Identity, cfg Config, tr transport.Transport, gen Generator, pub Publisher, opts ...Option) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	w := &Worker{
		id:        id,
		cfg:       cfg,
		transport: tr,
		generator: gen,
		publisher: pub,
		observer:  nopObserver{},
		logger:    slog.Default(),
		state:     Connecting,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "device"), slog.Any("device", id))
	return w
}

// Identity returns the device the worker simulates.
func (w *Worker) Identity() Identity { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State, cause error) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	attrs := []any{slog.String("from", prev.String()), slog.String("to", s.String())}
	if cause != nil {
		attrs = append(attrs, slog.Any("err", cause))
	}
	if s == Failed {
		w.logger.Error("worker_state", attrs...)
	} else {
		w.logger.Info("worker_state", attrs...)
	}
	w.observer.OnState(w.id, s, cause)
}

// Run drives the device until ctx is cancelled, the cycle limit is reached
// or the handle becomes unusable. It returns nil after a clean stop,
// including a cancellation that lands while still connecting,
// *transport.AcquireError when no handle could be obtained, and
// *FatalError when the handle died mid-run.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.setState(Connecting, nil)

	h, err := w.transport.Acquire(ctx, w.id.Credential)
	if err != nil && ctx.Err() != nil {
		// cancelled while connecting: a stop, not a startup failure
		w.logger.Info("acquire_abandoned", slog.Any("err", err))
		w.setState(Stopping, nil)
		w.setState(Stopped, nil)
		return nil
	}
	if err != nil {
		aerr := &transport.AcquireError{DeviceID: w.id.DeviceID, Err: err}
		w.setState(Failed, aerr)
		return aerr
	}
	if w.cfg.Breaker != nil {
		h = breaker.Guard(h, breaker.New(w.id.DeviceID, *w.cfg.Breaker, w.logger))
	}

	w.setState(Running, nil)
	runErr := w.loop(ctx, h)
	if runErr == nil {
		w.setState(Stopping, nil)
	}
	w.release(h)
	if runErr != nil {
		w.setState(Failed, runErr)
		return runErr
	}
	w.setState(Stopped, nil)
	return nil
}

func (w *Worker) release(h transport.Handle) {
	if err := h.Close(); err != nil {
		w.logger.Warn("handle_release_failed", slog.Any("err", err))
	}
}

func (w *Worker) loop(ctx context.Context, h transport.Handle) error {
	consecutive := 0
	for cycle := 1; ; cycle++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.cycle(ctx, h, cycle, &consecutive); err != nil {
			return err
		}
		if w.cfg.Cycles > 0 && cycle >= w.cfg.Cycles {
			w.logger.Info("cycle_limit_reached", slog.Int("cycles", cycle))
			return nil
		}

		t := time.NewTimer(w.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// cycle generates and publishes one reading. Only a dead handle or an
// unusable profile is returned; publish failures are recorded and absorbed.
func (w *Worker) cycle(ctx context.Context, h transport.Handle, n int, consecutive *int) error {
	r, err := w.generator.Generate(w.id.Location)
	if err != nil {
		return &FatalError{DeviceID: w.id.DeviceID, Err: err}
	}

	start := time.Now()
	err = w.publisher.Publish(ctx, h, r)
	out := Outcome{Identity: w.id, Cycle: n, Reading: r, Err: err, Latency: time.Since(start)}

	if err == nil {
		*consecutive = 0
		w.observer.OnPublish(out)
		w.logger.Info("telemetry_published",
			slog.Int("cycle", n),
			slog.String("status", StatusLine(r)))
		return nil
	}

	*consecutive++
	out.ConsecutiveFailures = *consecutive
	w.observer.OnPublish(out)
	w.logger.Warn("telemetry_failed",
		slog.Int("cycle", n),
		slog.Int("consecutive_failures", *consecutive),
		slog.String("status", fmt.Sprintf("ERROR sending data for %s: %v", w.id.Location, err)))

	if errors.Is(err, transport.ErrHandleInvalid) {
		return &FatalError{DeviceID: w.id.DeviceID, Err: err}
	}
	return nil
}

// StatusLine is the one-line console summary of a reading.
func StatusLine(r reading.Reading) string {
	return fmt.Sprintf("%s: Ice=%.2fcm, Surface=%.2f°C, Snow=%.2fcm",
		r.Location, r.IceThickness, r.SurfaceTemperature, r.SnowAccumulation)
}
