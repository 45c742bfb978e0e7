package erathia

import (
	"errors"
	"sync"

	"github.com/zarigata/Erathia/backend"
	"github.com/zarigata/Erathia/compute"

	// The software backend is always available.
	_ "github.com/zarigata/Erathia/backend/software"
)

var (
	backendMu  sync.RWMutex
	registered compute.Backend
)

// RegisterBackend installs b as the process-wide backend used by worlds
// created without WithBackend. Subsequent calls replace and close the
// previous backend.
func RegisterBackend(b compute.Backend) error {
	if b == nil {
		return errors.New("erathia: backend must not be nil")
	}
	propagateLogger(b, Logger())

	backendMu.Lock()
	old := registered
	registered = b
	backendMu.Unlock()
	if old != nil && old != b {
		if err := old.Close(); err != nil {
			Logger().Warn("erathia: closing replaced backend", "backend", old.Name(), "err", err)
		}
	}
	Logger().Info("erathia: backend registered", "backend", b.Name())
	return nil
}

// Backend returns the registered backend, or nil.
func Backend() compute.Backend {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return registered
}

// UnregisterBackend removes and closes the registered backend.
func UnregisterBackend() error {
	backendMu.Lock()
	old := registered
	registered = nil
	backendMu.Unlock()
	if old == nil {
		return nil
	}
	return old.Close()
}

// RegisterBackendFactory makes a backend constructor selectable by name
// through config.Config.Backend.
func RegisterBackendFactory(name string, f backend.Factory) {
	backend.Register(name, f)
}

// AvailableBackends returns the names of every registered factory.
func AvailableBackends() []string { return backend.Available() }
