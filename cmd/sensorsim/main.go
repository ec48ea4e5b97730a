// v0
// cmd/sensorsim/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/app"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/config"
	"github.com/Ahmedbooudouh/cst8916-final-project/internal/profile"
)

var version = "dev"

// errStartupFailures marks a run where at least one device never started.
var errStartupFailures = errors.New("one or more devices failed to start")

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := newRootCommand(bootstrap).ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errStartupFailures) {
			bootstrap.Error("sensorsim_failed", slog.Any("err", err))
		}
		os.Exit(1)
	}
}

type runFlags struct {
	properties string
	devices    string
	interval   string
	cycles     string
	transport  string
	seed       string
	listen     string
	dryRun     bool
}

// flagKeys maps flag names to the configuration property they override.
var flagKeys = []struct{ flag, key string }{
	{"devices", "devices"},
	{"interval", "interval"},
	{"cycles", "cycles"},
	{"transport", "transport"},
	{"seed", "seed"},
	{"listen", "listen_address"},
}

func newRootCommand(bootstrap *slog.Logger) *cobra.Command {
	flags := &runFlags{}
	root := &cobra.Command{
		Use:           "sensorsim",
		Short:         "Simulate the Rideau Canal ice sensor fleet",
		Long:          "sensorsim runs one simulated ice sensor per location and sends a telemetry reading from each on a fixed interval.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulator(cmd, flags, bootstrap)
		},
	}
	bindRunFlags(root, flags)

	run := &cobra.Command{
		Use:   "run",
		Short: "Start the simulator (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulator(cmd, flags, bootstrap)
		},
	}
	bindRunFlags(run, flags)

	root.AddCommand(run, newProfilesCommand(), newVersionCommand())
	return root
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	fs := cmd.Flags()
	fs.StringVar(&f.properties, "properties", "", "properties file (default $SENSORSIM_PROPERTIES_PATH or sensorsim.properties)")
	fs.StringVar(&f.devices, "devices", "", "comma separated locations to simulate")
	fs.StringVar(&f.interval, "interval", "", "pause between readings, in seconds or as a duration")
	fs.StringVar(&f.cycles, "cycles", "", "readings per device before stopping; 0 runs until interrupted")
	fs.StringVar(&f.transport, "transport", "", "iothub, kafka or loopback")
	fs.StringVar(&f.seed, "seed", "", "seed for reproducible readings")
	fs.StringVar(&f.listen, "listen", "", `status server address, or "off"`)
	fs.BoolVar(&f.dryRun, "dry-run", false, "send nothing; use the loopback transport")
}

func (f *runFlags) value(name string) string {
	switch name {
	case "devices":
		return f.devices
	case "interval":
		return f.interval
	case "cycles":
		return f.cycles
	case "transport":
		return f.transport
	case "seed":
		return f.seed
	case "listen":
		return f.listen
	}
	return ""
}

func loadConfig(cmd *cobra.Command, f *runFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if f.properties != "" {
		cfg, err = config.LoadFile(f.properties)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	for _, fk := range flagKeys {
		if !cmd.Flags().Changed(fk.flag) {
			continue
		}
		if err := cfg.Set(fk.key, f.value(fk.flag)); err != nil {
			return config.Config{}, fmt.Errorf("flag --%s: %w", fk.flag, err)
		}
	}
	if f.dryRun {
		cfg.Transport = config.TransportLoopback
	}
	cfg.ResolveCredentials()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runSimulator(cmd *cobra.Command, f *runFlags, bootstrap *slog.Logger) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("version", version),
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("transport", cfg.Transport),
		slog.String("devices", strings.Join(cfg.Devices, ",")),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := application.Run(ctx)
	if err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		return err
	}
	if n := report.StartupFailures(); n > 0 {
		logger.Error("service_degraded", slog.Int("startup_failures", n), slog.Int("failed", report.Failed()))
		return errStartupFailures
	}
	return nil
}

func newProfilesCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List the measurement ranges of every known location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := profile.DefaultRegistry()
			if path != "" {
				loaded, err := profile.LoadFile(path)
				if err != nil {
					return err
				}
				reg = loaded
			}
			out := cmd.OutOrStdout()
			for _, loc := range reg.Locations() {
				p, err := reg.Lookup(loc)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-14s ice %s cm  surface %s °C  snow %s cm  external %s °C\n",
					loc, p.IceThickness, p.SurfaceTemperature, p.SnowAccumulation, p.ExternalTemperature)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "TOML profile overrides")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the simulator version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "sensorsim", version)
		},
	}
}
