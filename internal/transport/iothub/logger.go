// v0
// internal/transport/iothub/logger.go
package iothub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// slogBridge adapts paho's printf-style logger to slog.
type slogBridge struct {
	logger *slog.Logger
	level  slog.Level
}

func (b slogBridge) Println(v ...interface{}) {
	b.logger.Log(context.Background(), b.level, "paho", slog.String("msg", strings.TrimSpace(fmt.Sprintln(v...))))
}

func (b slogBridge) Printf(format string, v ...interface{}) {
	b.logger.Log(context.Background(), b.level, "paho", slog.String("msg", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

// SetLibraryLogger routes paho's error and warning output through logger.
// paho's loggers are package globals, so call this once at startup.
func SetLibraryLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	l := logger.With(slog.String("component", "paho"))
	mqtt.CRITICAL = slogBridge{logger: l, level: slog.LevelError}
	mqtt.ERROR = slogBridge{logger: l, level: slog.LevelError}
	mqtt.WARN = slogBridge{logger: l, level: slog.LevelWarn}
}
