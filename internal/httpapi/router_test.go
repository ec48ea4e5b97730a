// v0
// internal/httpapi/router_test.go
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/device"
)

type staticSource struct {
	statuses []device.Status
	ready    bool
}

func (s staticSource) Snapshot() []device.Status { return s.statuses }
func (s staticSource) Ready() bool               { return s.ready }

var errDraining = errors.New("shutting down")

func newTestServer(t *testing.T, source StatusSource, serving bool) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	draining := func() error {
		if !serving {
			return errDraining
		}
		return nil
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("sensorsim_up 1\n"))
	})
	srv := httptest.NewServer(Wrap(logger, NewRouter(logger, source, metrics, nil, draining)))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		serving    bool
		fleetReady bool
		wantReady  int
		wantBody   string
	}{
		{name: "ready", serving: true, fleetReady: true, wantReady: http.StatusOK, wantBody: "OK"},
		{name: "fleet not running", serving: true, fleetReady: false, wantReady: http.StatusServiceUnavailable, wantBody: "NOT_READY: no device running"},
		{name: "shutting down", serving: false, fleetReady: true, wantReady: http.StatusServiceUnavailable, wantBody: "NOT_READY: shutting down"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, staticSource{ready: tc.fleetReady}, tc.serving)
			if code, body := get(t, srv.URL+"/health/live"); code != http.StatusOK || body != "OK" {
				t.Fatalf("live: %d %q", code, body)
			}
			if code, body := get(t, srv.URL+"/health/ready"); code != tc.wantReady || body != tc.wantBody {
				t.Fatalf("ready: expected %d %q, got %d %q", tc.wantReady, tc.wantBody, code, body)
			}
		})
	}
}

func TestDevicesEndpoints(t *testing.T) {
	t.Parallel()
	source := staticSource{ready: true, statuses: []device.Status{
		{DeviceID: "dows-lake", Location: "Dows Lake", State: device.Running, Published: 4},
		{DeviceID: "nac", Location: "NAC", State: device.Failed, LastError: "unauthorized"},
	}}
	srv := newTestServer(t, source, true)

	code, body := get(t, srv.URL+"/devices")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var list struct {
		Devices []map[string]any `json:"devices"`
	}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Devices) != 2 || list.Devices[0]["state"] != "running" || list.Devices[1]["lastError"] != "unauthorized" {
		t.Fatalf("unexpected devices payload: %s", body)
	}

	code, body = get(t, srv.URL+"/devices/nac")
	if code != http.StatusOK || !strings.Contains(body, `"state":"failed"`) {
		t.Fatalf("device nac: %d %s", code, body)
	}
	if code, _ = get(t, srv.URL+"/devices/bank-street"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", code)
	}
}

func TestMetricsAndFallbacks(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, staticSource{}, true)
	if code, body := get(t, srv.URL+"/metrics"); code != http.StatusOK || !strings.Contains(body, "sensorsim_up") {
		t.Fatalf("metrics: %d %q", code, body)
	}
	if code, _ := get(t, srv.URL+"/nope"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	resp, err := http.Post(srv.URL+"/devices", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
