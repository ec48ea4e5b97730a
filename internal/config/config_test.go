// v0
// internal/config/config_test.go
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("SENSORSIM_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	for _, loc := range DefaultLocations {
		t.Setenv(CredentialEnvKey(loc), "")
	}
}

func TestLoadDefaultsWhenNothingConfigured(t *testing.T) {
	isolate(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.properties"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLocations, cfg.Devices)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Zero(t, cfg.Cycles)
	assert.Equal(t, TransportIoTHub, cfg.Transport)
	assert.Nil(t, cfg.Seed)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.BreakerEnabled)
	assert.Empty(t, cfg.Credentials)
	assert.True(t, cfg.HTTPEnabled())
}

func TestLayeringPropertiesThenEnv(t *testing.T) {
	isolate(t)
	props := writeFile(t, "sensorsim.properties", `
# simulator settings
; alt comment
devices = Dows Lake, NAC
interval = 2500ms
cycles = 3
transport = kafka
seed = 42
log_level = debug
breaker.enabled = true
breaker.max_failures = 4
breaker.reset_seconds = 0.5
`)
	t.Setenv("SENSORSIM_INTERVAL", "5")
	t.Setenv("SENSORSIM_BREAKER_MAX_FAILURES", "7")
	t.Setenv("IOT_HUB_DEVICE_NAC", "  kafka://k:9092/nac  ")

	cfg, err := LoadFile(props)
	require.NoError(t, err)

	assert.Equal(t, []string{"Dows Lake", "NAC"}, cfg.Devices)
	assert.Equal(t, 5*time.Second, cfg.Interval, "env wins over properties")
	assert.Equal(t, 3, cfg.Cycles)
	assert.Equal(t, TransportKafka, cfg.Transport)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(42), *cfg.Seed)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.BreakerEnabled)
	assert.Equal(t, 7, cfg.Breaker.MaxFailures)
	assert.Equal(t, 500*time.Millisecond, cfg.Breaker.ResetTimeout)
	assert.Equal(t, map[string]string{"NAC": "kafka://k:9092/nac"}, cfg.Credentials)
}

func TestDotenvSuppliesCredentials(t *testing.T) {
	isolate(t)
	os.Unsetenv("IOT_HUB_DEVICE_DOWS_LAKE")
	envFile := writeFile(t, ".env", "IOT_HUB_DEVICE_DOWS_LAKE=HostName=h;DeviceId=dows-lake;SharedAccessKey=a2V5\n")
	t.Setenv("SENSORSIM_ENV_FILE", envFile)
	t.Cleanup(func() { os.Unsetenv("IOT_HUB_DEVICE_DOWS_LAKE") })

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "HostName=h;DeviceId=dows-lake;SharedAccessKey=a2V5", cfg.Credentials["Dows Lake"])
}

func TestInvalidValuesAreRejected(t *testing.T) {
	cases := map[string]string{
		"transport":             "carrier-pigeon",
		"interval":              "-1s",
		"cycles":                "-2",
		"publish_timeout_ms":    "0",
		"log_level":             "loud",
		"breaker.enabled":       "maybe",
		"breaker.reset_seconds": "0",
		"devices":               " , ",
		"seed":                  "abc",
	}
	for key, value := range cases {
		cfg := Defaults()
		err := cfg.Set(key, value)
		require.Error(t, err, "%s=%q", key, value)
		assert.Contains(t, err.Error(), key)
	}
}

func TestEnvErrorNamesVariable(t *testing.T) {
	isolate(t)
	t.Setenv("SENSORSIM_CYCLES", "many")
	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SENSORSIM_CYCLES")
}

func TestMalformedPropertiesLine(t *testing.T) {
	isolate(t)
	props := writeFile(t, "bad.properties", "interval=5\njust-a-word\n")
	_, err := LoadFile(props)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCredentialEnvKey(t *testing.T) {
	assert.Equal(t, "IOT_HUB_DEVICE_DOWS_LAKE", CredentialEnvKey("Dows Lake"))
	assert.Equal(t, "IOT_HUB_DEVICE_FIFTH_AVENUE", CredentialEnvKey("Fifth Avenue"))
	assert.Equal(t, "IOT_HUB_DEVICE_NAC", CredentialEnvKey("NAC"))
	assert.Equal(t, "IOT_HUB_DEVICE_PATTERSON_CREEK", CredentialEnvKey("Patterson Creek"))
}

func TestListenAddressOff(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Set("listen_address", "off"))
	assert.False(t, cfg.HTTPEnabled())
}
