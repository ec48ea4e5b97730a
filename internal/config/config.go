// v1
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/breaker"
)

// Transport names accepted by the transport key.
const (
	TransportIoTHub   = "iothub"
	TransportKafka    = "kafka"
	TransportLoopback = "loopback"
)

// CredentialEnvPrefix prefixes each device's credential variable.
const CredentialEnvPrefix = "IOT_HUB_DEVICE_"

// Config captures every runtime setting of the simulator. It is built once
// at startup by Load and then treated as read-only.
type Config struct {
	// Devices lists the locations to simulate, one device each.
	Devices []string
	// Credentials maps a location to its connection credential. Missing
	// entries exclude the device at startup.
	Credentials map[string]string
	// Interval is the pause between two readings of the same device.
	Interval time.Duration
	// Cycles stops each device after that many readings; 0 runs forever.
	Cycles int
	// Transport selects iothub, kafka or loopback.
	Transport string
	// Seed makes readings reproducible when set.
	Seed *int64
	// PublishTimeout bounds a single send.
	PublishTimeout time.Duration
	// ShutdownTimeout bounds the graceful stop after a signal.
	ShutdownTimeout time.Duration
	// ListenAddress is the status HTTP address; "off" disables the server.
	ListenAddress string
	// LogFilePath is the rotated log file written next to stdout.
	LogFilePath string
	LogLevel    slog.Level
	// LogMaxSizeMB, LogMaxBackups and LogMaxAgeDays drive log rotation.
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	// ProfilesPath optionally points at a TOML file of profile overrides.
	ProfilesPath string
	// BreakerEnabled guards each device's handle with a circuit breaker.
	BreakerEnabled bool
	Breaker        breaker.Config
	// PropertiesPath records the path used to load property values.
	PropertiesPath string
	// EnvFile records the dotenv file consulted for credentials.
	EnvFile string
}

const (
	defaultInterval        = 10 * time.Second
	defaultPublishTimeout  = 10 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultListenAddress   = ":8090"
	defaultLogFile         = "logs/sensorsim.log"
	defaultPropsPath       = "sensorsim.properties"
	defaultEnvFile         = ".env"
	defaultLogMaxSizeMB    = 10
	defaultLogMaxBackups   = 3
	defaultLogMaxAgeDays   = 7

	// ListenDisabled turns the HTTP server off.
	ListenDisabled = "off"

	envPrefix = "SENSORSIM_"
)

// DefaultLocations are simulated when no devices are configured.
var DefaultLocations = []string{"Dows Lake", "Fifth Avenue", "NAC"}

// keys lists every property in the order environment overrides apply.
var keys = []string{
	"devices",
	"interval",
	"cycles",
	"transport",
	"seed",
	"publish_timeout_ms",
	"shutdown_timeout_ms",
	"listen_address",
	"log_path",
	"log_level",
	"log_max_size_mb",
	"log_max_backups",
	"log_max_age_days",
	"profiles_path",
	"breaker.enabled",
	"breaker.max_failures",
	"breaker.reset_seconds",
	"breaker.successes_to_close",
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Devices:         append([]string(nil), DefaultLocations...),
		Credentials:     map[string]string{},
		Interval:        defaultInterval,
		Transport:       TransportIoTHub,
		PublishTimeout:  defaultPublishTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		ListenAddress:   defaultListenAddress,
		LogFilePath:     filepath.Clean(defaultLogFile),
		LogLevel:        slog.LevelInfo,
		LogMaxSizeMB:    defaultLogMaxSizeMB,
		LogMaxBackups:   defaultLogMaxBackups,
		LogMaxAgeDays:   defaultLogMaxAgeDays,
		Breaker:         breaker.DefaultConfig(),
		PropertiesPath:  defaultPropsPath,
		EnvFile:         defaultEnvFile,
	}
}

// Load resolves configuration by layering defaults, an optional dotenv
// file, an optional properties file and finally SENSORSIM_* environment
// variables. SENSORSIM_PROPERTIES_PATH and SENSORSIM_ENV_FILE move the two
// files.
func Load() (Config, error) {
	propsPath := defaultPropsPath
	if v, ok := lookupEnvTrimmed(envPrefix + "PROPERTIES_PATH"); ok && v != "" {
		propsPath = v
	}
	return LoadFile(propsPath)
}

// LoadFile is Load with an explicit properties path.
func LoadFile(propsPath string) (Config, error) {
	cfg := Defaults()
	cfg.PropertiesPath = propsPath

	if v, ok := lookupEnvTrimmed(envPrefix + "ENV_FILE"); ok && v != "" {
		cfg.EnvFile = v
	}
	// dotenv never overrides variables already present in the process
	if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %s: %w", cfg.EnvFile, err)
	}

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.ResolveCredentials()
	return cfg, cfg.Validate()
}

// ResolveCredentials reads each device's credential variable.
func (c *Config) ResolveCredentials() {
	if c.Credentials == nil {
		c.Credentials = map[string]string{}
	}
	for _, loc := range c.Devices {
		if v, ok := lookupEnvTrimmed(CredentialEnvKey(loc)); ok && v != "" {
			c.Credentials[loc] = v
		}
	}
}

// CredentialEnvKey names the variable holding a location's credential:
// "Fifth Avenue" reads IOT_HUB_DEVICE_FIFTH_AVENUE.
func CredentialEnvKey(location string) string {
	var b strings.Builder
	b.WriteString(CredentialEnvPrefix)
	for _, r := range strings.ToUpper(strings.TrimSpace(location)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Set applies one property. Command-line flags use it too, so every
// source shares the same parsing and validation.
func (c *Config) Set(key, value string) error {
	if err := setProperty(c, key, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("property %s: %w", key, err)
	}
	return nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if len(c.Devices) == 0 {
		return errors.New("no devices configured")
	}
	switch c.Transport {
	case TransportIoTHub, TransportKafka, TransportLoopback:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.BreakerEnabled {
		if err := c.Breaker.Validate(); err != nil {
			return fmt.Errorf("breaker: %w", err)
		}
	}
	return nil
}

// HTTPEnabled reports whether the status server should run.
func (c Config) HTTPEnabled() bool {
	return c.ListenAddress != "" && c.ListenAddress != ListenDisabled
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	for _, key := range keys {
		name := EnvKey(key)
		v, ok := lookupEnvTrimmed(name)
		if !ok {
			continue
		}
		if err := setProperty(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// EnvKey maps a property key to its environment variable.
func EnvKey(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setProperty(cfg *Config, key, value string) error {
	switch key {
	case "devices":
		devices := splitAndTrim(value)
		if len(devices) == 0 {
			return errors.New("devices cannot be empty")
		}
		cfg.Devices = devices
	case "interval":
		d, err := parseInterval(value)
		if err != nil {
			return err
		}
		cfg.Interval = d
	case "cycles":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		if n < 0 {
			return errors.New("cycles cannot be negative")
		}
		cfg.Cycles = n
	case "transport":
		v := strings.ToLower(value)
		switch v {
		case TransportIoTHub, TransportKafka, TransportLoopback:
			cfg.Transport = v
		default:
			return fmt.Errorf("unknown transport %q", value)
		}
	case "seed":
		if value == "" {
			cfg.Seed = nil
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed: %w", err)
		}
		cfg.Seed = &n
	case "publish_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.PublishTimeout = d
	case "shutdown_timeout_ms":
		d, err := parsePositiveMillis(value)
		if err != nil {
			return err
		}
		cfg.ShutdownTimeout = d
	case "listen_address":
		if value == "" {
			return errors.New("listen_address cannot be empty")
		}
		cfg.ListenAddress = value
	case "log_path":
		if value == "" {
			return errors.New("log_path cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "log_level":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err != nil {
			return err
		}
		cfg.LogLevel = lvl
	case "log_max_size_mb":
		return setPositiveInt(&cfg.LogMaxSizeMB, value)
	case "log_max_backups":
		return setNonNegativeInt(&cfg.LogMaxBackups, value)
	case "log_max_age_days":
		return setNonNegativeInt(&cfg.LogMaxAgeDays, value)
	case "profiles_path":
		cfg.ProfilesPath = value
	case "breaker.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		cfg.BreakerEnabled = b
	case "breaker.max_failures":
		return setPositiveInt(&cfg.Breaker.MaxFailures, value)
	case "breaker.reset_seconds":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		if secs <= 0 {
			return errors.New("value must be greater than zero")
		}
		cfg.Breaker.ResetTimeout = time.Duration(secs * float64(time.Second))
	case "breaker.successes_to_close":
		return setPositiveInt(&cfg.Breaker.SuccessesToClose, value)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

// parseInterval accepts a Go duration ("2500ms", "1m") or whole seconds.
func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, errors.New("value cannot be empty")
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		d, err = time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %w", err)
		}
	}
	if d <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return d, nil
}

func setPositiveInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return errors.New("value must be greater than zero")
	}
	*dst = n
	return nil
}

func setNonNegativeInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return errors.New("value cannot be negative")
	}
	*dst = n
	return nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
