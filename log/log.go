package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const EnvLogLevel = "THERMALD_LOG_LEVEL"

// current is swapped whole so SetOutput and SetLevel are safe while other
// goroutines log.
var current atomic.Pointer[zerolog.Logger]

func init() {
	l := newLogger(os.Stdout)
	current.Store(&l)
}

func newLogger(out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	return zerolog.New(output).With().Timestamp().Str("app", "thermald").Logger().Level(zerolog.InfoLevel)
}

// SetOutput redirects all log output, keeping the current level.
func SetOutput(out io.Writer) {
	l := newLogger(out).Level(current.Load().GetLevel())
	current.Store(&l)
}

// SetLevel accepts trace, debug, info, warn, error or disabled. Unknown
// names leave the level unchanged and return an error.
func SetLevel(name string) error {
	lvl, ok := ParseLevel(name)
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	l := current.Load().Level(lvl)
	current.Store(&l)
	return nil
}

// ApplyEnv applies THERMALD_LOG_LEVEL if set.
func ApplyEnv() {
	if raw := os.Getenv(EnvLogLevel); raw != "" {
		if err := SetLevel(raw); err != nil {
			Warnf("ignoring %s: %v", EnvLogLevel, err)
		}
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

// Logger returns the underlying logger for structured fields.
func Logger() *zerolog.Logger {
	return current.Load()
}

func Errorf(format string, args ...interface{}) {
	current.Load().Error().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	current.Load().Warn().Msgf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	current.Load().Debug().Msgf(format, args...)
}

func Infof(format string, args ...interface{}) {
	current.Load().Info().Msgf(format, args...)
}

func Info(args ...interface{}) {
	current.Load().Info().Msg(fmt.Sprint(args...))
}

func Error(args ...interface{}) {
	current.Load().Error().Msg(fmt.Sprint(args...))
}

func Debug(args ...interface{}) {
	current.Load().Debug().Msg(fmt.Sprint(args...))
}
