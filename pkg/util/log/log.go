// Package log provides the process-wide go-kit logger used by
// pkg/ingest. Library code never prints
// directly; it logs through Logger so the host CLI controls format
// and level.
package log

import (
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the base logger for all library packages. SetLevel lets
// the host binary change its minimum level at startup.
var Logger = newDefaultLogger()

func newDefaultLogger() log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.TimestampFormat(time.Now, time.RFC3339Nano), "caller", log.Caller(4))
	return level.NewFilter(l, level.AllowInfo())
}

// SetLevel adjusts the minimum level of Logger. name must be one of
// "debug", "info", "warn", "error".
func SetLevel(name string) {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.TimestampFormat(time.Now, time.RFC3339Nano), "caller", log.Caller(4))

	var opt level.Option
	switch name {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	Logger = level.NewFilter(base, opt)
}
