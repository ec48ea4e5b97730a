// v1
// internal/fleet/fleet.go

// Package fleet validates the configured devices and supervises one worker
// per runnable device.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/device"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/profile"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/reading"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

var (
	// ErrMissingCredential marks a device with no connection credential.
	ErrMissingCredential = errors.New("missing connection credential")
	// ErrDuplicateDevice marks a second device mapping to an existing id.
	ErrDuplicateDevice = errors.New("duplicate device")
)

// ConfigurationError excludes one device at startup.
type ConfigurationError struct {
	DeviceID string
	Location string
	Reason   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("device %s (%s) excluded: %v", e.DeviceID, e.Location, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Reason }

// DeviceSpec is one configured device before validation.
type DeviceSpec struct {
	Location   string
	Credential string
	// CredentialKey names where the credential is expected, shown to the
	// operator when it is missing.
	CredentialKey string
}

// Outcome is the terminal result of one worker.
type Outcome struct {
	Identity device.Identity
	State    device.State
	Err      error
}

// Report summarises a fleet run. It is for reporting only.
type Report struct {
	Excluded []*ConfigurationError
	Outcomes []Outcome
}

// StartupFailures counts excluded devices plus workers that never acquired
// a transport handle.
func (r Report) StartupFailures() int {
	n := len(r.Excluded)
	for _, o := range r.Outcomes {
		var aerr *transport.AcquireError
		if errors.As(o.Err, &aerr) {
			n++
		}
	}
	return n
}

// Failed counts workers that ended in Failed for any reason.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == device.Failed {
			n++
		}
	}
	return n
}

// Options wires a Coordinator.
type Options struct {
	Devices   []DeviceSpec
	Profiles  *profile.Registry
	Transport transport.Transport
	Publisher device.Publisher
	Worker    device.Config
	// Seed makes every worker's readings reproducible (seed+index). Nil
	// seeds from the clock.
	Seed     *int64
	Observer device.Observer
	Logger   *slog.Logger
}

// Coordinator runs the fleet.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New builds a coordinator. A nil profile registry uses the defaults.
func New(opts Options) *Coordinator {
	if opts.Profiles == nil {
		opts.Profiles = profile.DefaultRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{opts: opts, logger: logger.With(slog.String("component", "fleet"))}
}

// Validate splits the configured devices into runnable identities and
// exclusions.
func (c *Coordinator) Validate() ([]device.Identity, []*ConfigurationError) {
	var (
		runnable []device.Identity
		excluded []*ConfigurationError
		seen     = make(map[string]bool)
	)
	for _, d := range c.opts.Devices {
		id := device.NewIdentity(d.Location, strings.TrimSpace(d.Credential))
		var reason error
		switch {
		case seen[id.DeviceID]:
			reason = ErrDuplicateDevice
		case id.Credential == "":
			reason = ErrMissingCredential
			if d.CredentialKey != "" {
				reason = fmt.Errorf("%w: set %s", ErrMissingCredential, d.CredentialKey)
			}
		default:
			if _, err := c.opts.Profiles.Lookup(d.Location); err != nil {
				reason = err
			}
		}
		if reason != nil {
			excluded = append(excluded, &ConfigurationError{DeviceID: id.DeviceID, Location: d.Location, Reason: reason})
			continue
		}
		seen[id.DeviceID] = true
		runnable = append(runnable, id)
	}
	return runnable, excluded
}

// Run starts one worker per runnable device and blocks until all of them
// have stopped, either because ctx was cancelled, Stop was called or each
// reached its own terminal state.
func (c *Coordinator) Run(ctx context.Context) Report {
	runnable, excluded := c.Validate()
	report := Report{Excluded: excluded, Outcomes: make([]Outcome, len(runnable))}
	c.logExcluded(excluded)

	if len(runnable) == 0 {
		c.logger.Warn("fleet_empty", slog.Int("excluded", len(excluded)))
		return report
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	observer := c.opts.Observer
	base := time.Now().UnixNano()
	c.logger.Info("fleet_starting", slog.Int("devices", len(runnable)), slog.String("interval", c.workerInterval().String()))

	var g errgroup.Group
	for i, id := range runnable {
		i, id := i, id
		seed := base + int64(i)
		if c.opts.Seed != nil {
			seed = *c.opts.Seed + int64(i)
		}
		w := device.NewWorker(id, c.opts.Worker, c.opts.Transport,
			reading.New(c.opts.Profiles, rand.NewSource(seed)),
			c.opts.Publisher,
			device.WithObserver(observer),
			device.WithLogger(c.opts.Logger),
		)
		g.Go(func() error {
			err := w.Run(runCtx)
			report.Outcomes[i] = Outcome{Identity: id, State: w.State(), Err: err}
			// a failed device never takes the others down
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("fleet_stopped",
		slog.Int("devices", len(runnable)),
		slog.Int("failed", report.Failed()),
		slog.Int("excluded", len(excluded)),
		slog.String("stopped_at", time.Now().UTC().Format(time.RFC3339)))
	return report
}

// Stop cancels a running fleet. It is safe to call at any time, repeatedly.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) workerInterval() time.Duration {
	if c.opts.Worker.Interval > 0 {
		return c.opts.Worker.Interval
	}
	return device.DefaultInterval
}

func (c *Coordinator) logExcluded(excluded []*ConfigurationError) {
	if len(excluded) == 0 {
		return
	}
	devices := make([]string, 0, len(excluded))
	for _, e := range excluded {
		devices = append(devices, e.Location)
		c.logger.Warn("device_excluded",
			slog.String("device_id", e.DeviceID),
			slog.String("location", e.Location),
			slog.Any("reason", e.Reason))
	}
	var keys []string
	for _, d := range c.opts.Devices {
		if strings.TrimSpace(d.Credential) == "" && d.CredentialKey != "" {
			keys = append(keys, d.CredentialKey)
		}
	}
	c.logger.Warn("fleet_devices_excluded",
		slog.Int("count", len(excluded)),
		slog.String("devices", strings.Join(devices, ", ")),
		slog.String("set_env", strings.Join(keys, ", ")))
}
