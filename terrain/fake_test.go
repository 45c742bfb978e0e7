package terrain

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zarigata/Erathia/compute"
)

var errAlloc = errors.New("fake: out of memory")

// fakeBackend is an in-memory compute.Backend whose Sync can be held open.
// Kernels do nothing; images read back as zeros.
type fakeBackend struct {
	mu         sync.Mutex
	nextID     uint64
	images     map[compute.ImageID]compute.ImageDesc
	pipelines  map[compute.PipelineID]string
	dispatches []compute.DispatchDesc
	gate       chan struct{}

	// staleBinds counts dispatches that bound an image already released.
	staleBinds int

	failKernel  string
	failAllocAt int // fail the n-th image allocation, 1-based; 0 never
	allocs      int
	shortRead   bool

	submits atomic.Int64
	syncs   atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		images:    make(map[compute.ImageID]compute.ImageDesc),
		pipelines: make(map[compute.PipelineID]string),
	}
}

func (f *fakeBackend) id() uint64 {
	f.nextID++
	return f.nextID
}

// hold makes Sync block until release.
func (f *fakeBackend) hold() {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
}

func (f *fakeBackend) release() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) CompileKernel(src compute.KernelSource) (compute.KernelID, error) {
	if src.Name == f.failKernel {
		return compute.InvalidID, errors.New("fake: compile error")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return compute.KernelID(f.id()), nil
}

func (f *fakeBackend) CreatePipeline(desc compute.PipelineDesc) (compute.PipelineID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := compute.PipelineID(f.id())
	f.pipelines[id] = desc.Label
	return id, nil
}

func (f *fakeBackend) AllocateImage(desc compute.ImageDesc, _ []byte) (compute.ImageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocs++
	if f.failAllocAt > 0 && f.allocs == f.failAllocAt {
		return compute.InvalidID, errAlloc
	}
	id := compute.ImageID(f.id())
	f.images[id] = desc
	return id, nil
}

func (f *fakeBackend) AllocateBuffer(int, []byte) (compute.BufferID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return compute.BufferID(f.id()), nil
}

func (f *fakeBackend) Dispatch(d compute.DispatchDesc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range d.Bindings {
		if b.Image == compute.InvalidID {
			continue
		}
		if _, ok := f.images[b.Image]; !ok {
			f.staleBinds++
		}
	}
	f.dispatches = append(f.dispatches, d)
	return nil
}

func (f *fakeBackend) Submit() error {
	f.submits.Add(1)
	return nil
}

func (f *fakeBackend) Sync() error {
	f.mu.Lock()
	g := f.gate
	f.mu.Unlock()
	if g != nil {
		<-g
	}
	f.syncs.Add(1)
	return nil
}

func (f *fakeBackend) ReadImage(id compute.ImageID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc, ok := f.images[id]
	if !ok {
		return nil, compute.ErrUnknownHandle
	}
	n := desc.ByteSize()
	if f.shortRead {
		n /= 2
	}
	return make([]byte, n), nil
}

func (f *fakeBackend) ReadBuffer(compute.BufferID, int, int) ([]byte, error) { return nil, nil }

func (f *fakeBackend) ReleaseImage(id compute.ImageID) {
	f.mu.Lock()
	delete(f.images, id)
	f.mu.Unlock()
}

func (f *fakeBackend) ReleaseBuffer(compute.BufferID) {}
func (f *fakeBackend) ReleasePipeline(compute.PipelineID) {}
func (f *fakeBackend) ReleaseKernel(compute.KernelID) {}
func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) liveImages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.images)
}

// sdfOrigins returns the X origin of every SDF dispatch in order.
func (f *fakeBackend) sdfOrigins() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []float32
	for _, d := range f.dispatches {
		if len(d.Bindings) != len(sdfBindings) {
			continue
		}
		out = append(out, compute.ReadParams(d.Params).Float32())
	}
	return out
}

func (f *fakeBackend) isLive(id compute.ImageID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.images[id]
	return ok
}

func (f *fakeBackend) staleBindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staleBinds
}

func (f *fakeBackend) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatches)
}

// stubLoader serves a placeholder source for every kernel name.
var stubLoader = compute.SourceLoaderFunc(func(name string) (compute.KernelSource, error) {
	return compute.KernelSource{Name: name, Code: "// " + name}, nil
})
