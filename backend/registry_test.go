package backend

import (
	"errors"
	"testing"

	"github.com/zarigata/Erathia/compute"
)

// namedBackend is a compute.Backend that only answers Name.
type namedBackend struct {
	compute.Backend
	name string
}

func (n namedBackend) Name() string { return n.name }

func withCleanRegistry(t *testing.T) {
	t.Helper()
	registryMu.Lock()
	saved := factories
	factories = make(map[string]Factory)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		factories = saved
		registryMu.Unlock()
	})
}

func TestRegisterAndGet(t *testing.T) {
	withCleanRegistry(t)

	Register("fake", func() (compute.Backend, error) { return namedBackend{name: "fake"}, nil })
	if !IsRegistered("fake") {
		t.Fatal("expected fake to be registered")
	}
	b, err := Get("fake")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b.Name() != "fake" {
		t.Errorf("expected fake, got %s", b.Name())
	}

	if _, err := Get("missing"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}

	Unregister("fake")
	if IsRegistered("fake") {
		t.Error("expected fake to be unregistered")
	}
}

func TestDefaultPriority(t *testing.T) {
	withCleanRegistry(t)

	Register(Software, func() (compute.Backend, error) { return namedBackend{name: Software}, nil })
	Register(WGPU, func() (compute.Backend, error) { return nil, errors.New("no adapter") })
	Register("zz-custom", func() (compute.Backend, error) { return namedBackend{name: "zz-custom"}, nil })

	b, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if b.Name() != Software {
		t.Errorf("expected software after wgpu failure, got %s", b.Name())
	}

	b, err = Get(Auto)
	if err != nil || b.Name() != Software {
		t.Errorf("Get(auto) should behave like Default, got %v, %v", b, err)
	}

	want := []string{Software, WGPU, "zz-custom"}
	got := Available()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Available()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDefaultNoneAvailable(t *testing.T) {
	withCleanRegistry(t)

	Register(WGPU, func() (compute.Backend, error) { return nil, errors.New("no adapter") })
	_, err := Default()
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("expected ErrBackendNotAvailable, got %v", err)
	}
}
