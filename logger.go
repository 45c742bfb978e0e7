package erathia

import (
	"log/slog"
	"sync/atomic"

	"github.com/zarigata/Erathia/internal/logging"
	"github.com/zarigata/Erathia/terrain"
	"github.com/zarigata/Erathia/vegetation"
)

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(logging.Nop())
}

// SetLogger configures the logger for erathia and its sub-packages.
// By default nothing is logged. Pass nil to restore silence.
//
// Log levels:
//   - [slog.LevelDebug]: dispatch, buffer and pipeline diagnostics
//   - [slog.LevelInfo]: lifecycle events (backend selected, pipelines ready)
//   - [slog.LevelWarn]: soft failures (missing terrain SDF, CPU transforms)
//   - [slog.LevelError]: readback mismatches and background sync failures
//
// Example:
//
//	erathia.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = logging.Nop()
	}
	loggerPtr.Store(l)
	terrain.SetLogger(l)
	vegetation.SetLogger(l)

	backendMu.RLock()
	b := registered
	backendMu.RUnlock()
	if b != nil {
		propagateLogger(b, l)
	}
}

// Logger returns the current logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(b any, l *slog.Logger) {
	if ls, ok := b.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
