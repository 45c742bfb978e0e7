package vegetation

import (
	"log/slog"

	"github.com/zarigata/Erathia/internal/logging"
)

var logger = logging.NewSlot()

// SetLogger sets the logger for the vegetation package.
// Pass nil to disable logging.
func SetLogger(l *slog.Logger) { logger.Store(l) }

// Logger returns the current vegetation logger.
func Logger() *slog.Logger { return logger.Load() }

func slogger() *slog.Logger { return logger.Load() }
