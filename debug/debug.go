package debug

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvDebug    = "PUSHER_DEBUG"
	EnvLogLevel = "PUSHER_LOG_LEVEL"
)

var (
	mu     sync.RWMutex
	logger zerolog.Logger
	level  = zerolog.InfoLevel
	Debug  bool
)

func init() {
	if v, err := strconv.ParseBool(os.Getenv(EnvDebug)); err == nil {
		Debug = v
	}
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}
	logger = newLogger(os.Stderr)
}

func newLogger(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("app", "pusher").Logger().Level(effectiveLevel())
}

func effectiveLevel() zerolog.Level {
	if Debug && level > zerolog.DebugLevel {
		return zerolog.DebugLevel
	}
	return level
}

// Logger returns the process-wide logger. Clients derive child loggers from it.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetOutput redirects log output. Tests point it at io.Discard or a buffer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w)
}

// SetLevel overrides the level picked up from PUSHER_LOG_LEVEL.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	logger = logger.Level(effectiveLevel())
}

func Printf(format string, v ...interface{}) {
	l := Logger()
	l.Debug().Msg(fmt.Sprintf(format, v...))
}

func Enable() {
	mu.Lock()
	defer mu.Unlock()
	Debug = true
	logger = logger.Level(effectiveLevel())
}

func Disable() {
	mu.Lock()
	defer mu.Unlock()
	Debug = false
	logger = logger.Level(effectiveLevel())
}

// ParseLevel maps a PUSHER_LOG_LEVEL value to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
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
