package logutil

import (
    "io"
    "log"
    "os"
    "strings"
    "sync/atomic"

    "github.com/hashicorp/go-hclog"
)

var (
    jsonMode atomic.Bool
    output   atomic.Value // sink
)

// sink keeps the stored type fixed whatever writer is set.
type sink struct{ w io.Writer }

func init() {
    if os.Getenv("LEADER_LOG_JSON") == "1" || os.Getenv("LEADER_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    output.Store(sink{os.Stderr})
}

// SetJSON switches loggers created afterwards to JSON output.
func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// SetOutput redirects loggers created afterwards.
func SetOutput(w io.Writer) {
    if w == nil { w = os.Stderr }
    output.Store(sink{w})
}

// New builds a named logger honoring LEADER_LOG_FORMAT and LEADER_LOG_LEVEL.
func New(name string) hclog.Logger {
    level := hclog.LevelFromString(os.Getenv("LEADER_LOG_LEVEL"))
    if level == hclog.NoLevel {
        level = hclog.Info
    }
    return hclog.New(&hclog.LoggerOptions{
        Name:       name,
        Level:      level,
        Output:     output.Load().(sink).w,
        JSONFormat: jsonMode.Load(),
    })
}

// Named returns l.Named(name), or a fresh logger when l is nil.
func Named(l hclog.Logger, name string) hclog.Logger {
    if l == nil {
        return New(name)
    }
    return l.Named(name)
}

// Std adapts l for libraries that only accept a *log.Logger.
func Std(l hclog.Logger) *log.Logger {
    if l == nil { l = New("") }
    return l.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
}

// ParseLevel accepts "trace", "debug", "info", "warn", "error" (case-insensitive).
func ParseLevel(s string) (hclog.Level, bool) {
    lv := hclog.LevelFromString(strings.TrimSpace(s))
    return lv, lv != hclog.NoLevel
}
