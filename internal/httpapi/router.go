// v1
// internal/httpapi/router.go

// Package httpapi serves health probes, per-device status and Prometheus
// metrics for a running fleet.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/device"
)

// StatusSource is the subset of device.Board the API reads.
type StatusSource interface {
	Snapshot() []device.Status
	Ready() bool
}

// RouteWrapper decorates a route handler, e.g. with request metrics.
type RouteWrapper func(route string, next http.Handler) http.Handler

// ReadinessCheck returns the reason the process should not receive
// traffic, or nil.
type ReadinessCheck func() error

var errNoRunningDevice = errors.New("no device running")

// NewRouter wires every route. metricsHandler and wrap may be nil.
// /health/ready fails while no device runs or any check fails.
func NewRouter(logger *slog.Logger, source StatusSource, metricsHandler http.Handler, wrap RouteWrapper, checks ...ReadinessCheck) *mux.Router {
	if wrap == nil {
		wrap = func(_ string, next http.Handler) http.Handler { return next }
	}
	r := mux.NewRouter()
	r.Handle("/health", wrap("/health", healthLiveHandler())).Methods(http.MethodGet)
	r.Handle("/health/live", wrap("/health/live", healthLiveHandler())).Methods(http.MethodGet)
	r.Handle("/health/ready", wrap("/health/ready", healthReadyHandler(source, checks))).Methods(http.MethodGet)
	r.Handle("/devices", wrap("/devices", devicesHandler(logger, source))).Methods(http.MethodGet)
	r.Handle("/devices/{id}", wrap("/devices/{id}", deviceHandler(logger, source))).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Wrap adds access logging and panic recovery around h.
func Wrap(logger *slog.Logger, h http.Handler) http.Handler {
	logged := handlers.CustomLoggingHandler(io.Discard, h, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Info("http_request",
			slog.String("method", p.Request.Method),
			slog.String("path", p.URL.Path),
			slog.Int("status", p.StatusCode),
			slog.Int("size", p.Size),
		)
	})
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: logger}),
	)(logged)
}

type recoveryLogger struct{ logger *slog.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http_handler_panic", slog.Any("panic", v))
}

func healthLiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})
}

func healthReadyHandler(source StatusSource, checks []ReadinessCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err := ready(source, checks); err != nil {
			writeText(w, http.StatusServiceUnavailable, "NOT_READY: "+err.Error())
			return
		}
		writeText(w, http.StatusOK, "OK")
	})
}

func ready(source StatusSource, checks []ReadinessCheck) error {
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if !source.Ready() {
		return errNoRunningDevice
	}
	return nil
}

func devicesHandler(logger *slog.Logger, source StatusSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]any{"devices": source.Snapshot()})
	})
}

func deviceHandler(logger *slog.Logger, source StatusSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		for _, s := range source.Snapshot() {
			if s.DeviceID == id {
				writeJSON(w, logger, http.StatusOK, s)
				return
			}
		}
		writeJSON(w, logger, http.StatusNotFound, map[string]string{"error": "unknown device " + id})
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write_response_failed", slog.Any("err", err))
	}
}
