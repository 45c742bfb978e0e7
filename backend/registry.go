package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zarigata/Erathia/compute"
)

// Factory creates a backend instance.
type Factory func() (compute.Backend, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)

	// Selection order for Default: the first factory that succeeds wins.
	priority = []string{WGPU, Software}
)

// Register adds or replaces the factory for name.
// It is typically called from an init function.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a factory. It exists for tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name has a factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Get creates the backend registered as name. Auto and the empty name
// behave like Default.
func Get(name string) (compute.Backend, error) {
	if name == "" || name == Auto {
		return Default()
	}

	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}

	b, err := f()
	if err != nil {
		return nil, fmt.Errorf("backend: create %s: %w", name, err)
	}
	return b, nil
}

// Default creates the highest-priority backend whose factory succeeds,
// then falls back to any other registered backend.
func Default() (compute.Backend, error) {
	registryMu.RLock()
	ordered := make([]string, 0, len(factories))
	for _, name := range priority {
		if _, ok := factories[name]; ok {
			ordered = append(ordered, name)
		}
	}
	var rest []string
	for name := range factories {
		if !contains(priority, name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)
	snapshot := make([]Factory, len(ordered))
	for i, name := range ordered {
		snapshot[i] = factories[name]
	}
	registryMu.RUnlock()

	var errs []error
	for i, f := range snapshot {
		b, err := f()
		if err == nil && b != nil {
			return b, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ordered[i], err))
		}
	}
	return nil, errors.Join(append([]error{ErrBackendNotAvailable}, errs...)...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
