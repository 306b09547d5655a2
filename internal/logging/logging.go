// Package logging provides the leveled structured logger shared by the
// channel driver and transport adapter.
package logging

import (
	"os"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Logger wraps a go-kit logger with the three levels the channel cares
// about. Debug carries per-SDU detail (never key material); Info marks
// rekeys; Warn marks dropped frames.
type Logger struct {
	base kitlog.Logger
}

// New builds a Logger that writes logfmt to w, filtered to minLevel
// ("debug", "info", "warn", or "none").
func New(w *os.File, minLevel string) Logger {
	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC)

	var filtered kitlog.Logger
	switch minLevel {
	case "debug":
		filtered = level.NewFilter(base, level.AllowDebug())
	case "warn":
		filtered = level.NewFilter(base, level.AllowWarn())
	case "none":
		filtered = level.NewFilter(base, level.AllowNone())
	default:
		filtered = level.NewFilter(base, level.AllowInfo())
	}
	return Logger{base: filtered}
}

// Discard is a Logger that drops everything, used when -v is not set.
func Discard() Logger {
	return Logger{base: kitlog.NewNopLogger()}
}

func (l Logger) Debug(keyvals ...interface{}) {
	_ = level.Debug(l.base).Log(keyvals...)
}

func (l Logger) Info(keyvals ...interface{}) {
	_ = level.Info(l.base).Log(keyvals...)
}

func (l Logger) Warn(keyvals ...interface{}) {
	_ = level.Warn(l.base).Log(keyvals...)
}
