package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/multicam-core/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "multicam"

// redacted replaces the value of any attribute whose key names a credential.
const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach the output.
// Matching is case-insensitive.
var secretKeys = map[string]struct{}{
	"password":      {},
	"pass":          {},
	"secret":        {},
	"token":         {},
	"authorization": {},
}

// Logger is the process logger handed to every component. Entries carry
// service and version; components add their own name with Component.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section of config.yaml.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Build version attached to every entry
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(out, cfg, version)
}

func newLogger(out io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}

	return &Logger{
		Logger: slog.New(h.WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", version),
		})),
	}
}

// parseLevel maps debug, warn/warning and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redact is the handler's ReplaceAttr hook.
func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redacted)
	}
	return a
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with component=name. Every
// long-lived subsystem (sessions, dispatch, liveness, controller, api,
// mqtt) logs through one of these.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used before config.yaml has been read: JSON on
// stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
