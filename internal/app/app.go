// v2
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/config"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/device"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/fleet"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/httpapi"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/metrics"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/profile"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/telemetry"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport/iothub"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport/kafka"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport/loopback"
)

var (
	// ErrShutdownTimeout is returned when workers outlive the shutdown bound.
	ErrShutdownTimeout = errors.New("fleet did not stop within the shutdown timeout")

	errNotServing = errors.New("simulator not serving")
)

// Option customises an Application.
type Option func(*options)

type options struct {
	console   io.Writer
	transport transport.Transport
}

// WithConsole redirects console logging (stdout by default).
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithTransport overrides the configured transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// Application wires configuration, logging, the fleet, the status API and
// graceful shutdown.
type Application struct {
	cfg         config.Config
	logger      *slog.Logger
	logFile     io.Closer
	metrics     *metrics.Metrics
	board       *device.Board
	serving     atomic.Bool
	server      *http.Server
	profiles    *profile.Registry
	coordinator *fleet.Coordinator
}

// New prepares a fully wired simulator from cfg.
func New(cfg config.Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{console: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logPath := filepath.Clean(cfg.LogFilePath)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	lf := newLogFile(cfg)
	logger := newLogger(o.console, lf, cfg.LogLevel)

	profiles, err := loadProfiles(cfg.ProfilesPath)
	if err != nil {
		_ = lf.Close()
		return nil, err
	}

	tr := o.transport
	if tr == nil {
		tr = newTransport(cfg, logger)
	}

	a := &Application{
		cfg:      cfg,
		logger:   logger,
		logFile:  lf,
		metrics:  metrics.New(),
		board:    device.NewBoard(),
		profiles: profiles,
	}

	workerCfg := device.Config{Interval: cfg.Interval, Cycles: cfg.Cycles}
	if cfg.BreakerEnabled {
		bc := cfg.Breaker
		workerCfg.Breaker = &bc
	}
	a.coordinator = fleet.New(fleet.Options{
		Devices:   deviceSpecs(cfg),
		Profiles:  profiles,
		Transport: tr,
		Publisher: telemetry.NewPublisher(telemetry.WithTimeout(cfg.PublishTimeout)),
		Worker:    workerCfg,
		Seed:      cfg.Seed,
		Observer:  device.Observers{a.board, a.metrics},
		Logger:    logger,
	})

	if cfg.HTTPEnabled() {
		router := httpapi.NewRouter(logger, a.board, a.metrics.Handler(), a.metrics.WrapHandler, a.servingCheck)
		a.server = &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           httpapi.Wrap(logger.With(slog.String("component", "http")), router),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
	}
	return a, nil
}

// servingCheck fails readiness before Run starts the fleet and once
// shutdown begins.
func (a *Application) servingCheck() error {
	if !a.serving.Load() {
		return errNotServing
	}
	return nil
}

func loadProfiles(path string) (*profile.Registry, error) {
	if strings.TrimSpace(path) == "" {
		return profile.DefaultRegistry(), nil
	}
	reg, err := profile.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return reg, nil
}

func newTransport(cfg config.Config, logger *slog.Logger) transport.Transport {
	switch cfg.Transport {
	case config.TransportKafka:
		return kafka.New(logger, kafka.WithWriteTimeout(cfg.PublishTimeout))
	case config.TransportLoopback:
		return loopback.New(logger)
	default:
		iothub.SetLibraryLogger(logger)
		return iothub.New(logger)
	}
}

// deviceSpecs maps configured locations to fleet specs. Dry runs do not
// need real credentials, so loopback fills in a placeholder.
func deviceSpecs(cfg config.Config) []fleet.DeviceSpec {
	specs := make([]fleet.DeviceSpec, 0, len(cfg.Devices))
	for _, loc := range cfg.Devices {
		cred := cfg.Credentials[loc]
		if cred == "" && cfg.Transport == config.TransportLoopback {
			cred = "loopback://" + loc
		}
		specs = append(specs, fleet.DeviceSpec{
			Location:      loc,
			Credential:    cred,
			CredentialKey: config.CredentialEnvKey(loc),
		})
	}
	return specs
}

// Logger exposes the configured logger.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Profiles exposes the loaded profile registry.
func (a *Application) Profiles() *profile.Registry { return a.profiles }

// Board exposes the live device status board.
func (a *Application) Board() *device.Board { return a.board }

// Run starts the status server and the fleet, and blocks until the fleet
// finishes on its own, ctx is cancelled or the HTTP server fails.
func (a *Application) Run(ctx context.Context) (fleet.Report, error) {
	start := time.Now()
	_, excluded := a.coordinator.Validate()
	a.metrics.SetExcluded(len(excluded))

	a.logger.Info("simulator_starting",
		slog.String("started_at", start.UTC().Format(time.RFC3339)),
		slog.String("interval", a.cfg.Interval.String()),
		slog.Int("cycles", a.cfg.Cycles),
		slog.String("transport", a.cfg.Transport),
		slog.String("devices", strings.Join(a.cfg.Devices, ", ")),
	)

	httpErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.logger.Info("http_server_listen", slog.String("address", a.cfg.ListenAddress))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	reports := make(chan fleet.Report, 1)
	go func() { reports <- a.coordinator.Run(runCtx) }()
	a.serving.Store(true)

	var (
		report fleet.Report
		runErr error
	)
	select {
	case report = <-reports:
	case <-ctx.Done():
		a.serving.Store(false)
		a.logger.Info("shutdown_requested", slog.String("timeout", a.cfg.ShutdownTimeout.String()))
		report, runErr = a.awaitFleet(reports)
	case err := <-httpErr:
		a.logger.Error("http_server_failed", slog.Any("err", err))
		cancelRun()
		report, runErr = a.awaitFleet(reports)
		runErr = errors.Join(fmt.Errorf("http server: %w", err), runErr)
	}
	a.serving.Store(false)
	a.shutdownHTTP()

	a.logger.Info("simulator_stopped",
		slog.String("stopped_at", time.Now().UTC().Format(time.RFC3339)),
		slog.String("uptime", time.Since(start).Round(time.Millisecond).String()),
		slog.Int("startup_failures", report.StartupFailures()),
		slog.Int("failed", report.Failed()),
	)
	return report, runErr
}

func (a *Application) awaitFleet(reports <-chan fleet.Report) (fleet.Report, error) {
	t := time.NewTimer(a.cfg.ShutdownTimeout)
	defer t.Stop()
	select {
	case r := <-reports:
		return r, nil
	case <-t.C:
		a.logger.Error("shutdown_timeout", slog.String("timeout", a.cfg.ShutdownTimeout.String()))
		return fleet.Report{}, ErrShutdownTimeout
	}
}

func (a *Application) shutdownHTTP() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http_shutdown_failed", slog.Any("err", err))
	}
}

// Close releases the log file.
func (a *Application) Close() error {
	if a.logFile == nil {
		return nil
	}
	return a.logFile.Close()
}
