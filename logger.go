package banding

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/banding/internal/gpucore"
)

// loggerPtr stores the active logger. Accessed atomically so SetLogger can
// race with logging from the soft backend's timeline goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(gpucore.NopLogger())
}

// SetLogger configures the logger for banding and the packages an App
// creates. By default nothing is logged. Pass nil to restore the silent
// default.
//
// Log levels:
//   - [slog.LevelDebug]: fence waits, resource creation, barrier recording
//   - [slog.LevelInfo]: adapter selected, noise loaded, frame totals
//   - [slog.LevelWarn]: fallbacks (generated noise, basicfont) and ignored flags
//
// The logger is read when an App is created; changing it later does not
// affect running Apps.
func SetLogger(l *slog.Logger) {
	loggerPtr.Store(gpucore.LoggerOr(l))
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
