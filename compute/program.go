package compute

import (
	"fmt"
	"strings"
)

// Program is a kernel together with the pipeline built from it.
type Program struct {
	Name     string
	Kernel   KernelID
	Pipeline PipelineID
	Layout   PipelineDesc
}

// BuildProgram loads the kernel called name, compiles it and creates its
// pipeline. A missing or empty source and any compile or pipeline error
// fail the build; resources created before the failure are released.
func BuildProgram(b Backend, loader SourceLoader, name string, bindings []BindingLayout, paramsSize uint32) (*Program, error) {
	if b == nil {
		return nil, fmt.Errorf("compute: %s: backend is required", name)
	}
	if loader == nil {
		return nil, fmt.Errorf("compute: %s: source loader is required", name)
	}

	src, err := loader.Load(name)
	if err != nil {
		return nil, fmt.Errorf("compute: load %s: %w", name, err)
	}
	if strings.TrimSpace(src.Code) == "" {
		return nil, fmt.Errorf("compute: load %s: %w", name, ErrKernelEmpty)
	}
	if src.Name == "" {
		src.Name = name
	}

	kernel, err := b.CompileKernel(src)
	if err != nil {
		return nil, fmt.Errorf("compute: compile %s: %w", name, err)
	}

	desc := PipelineDesc{
		Label:      name,
		Kernel:     kernel,
		Bindings:   bindings,
		ParamsSize: paramsSize,
	}
	pipeline, err := b.CreatePipeline(desc)
	if err != nil {
		b.ReleaseKernel(kernel)
		return nil, fmt.Errorf("compute: create pipeline %s: %w", name, err)
	}

	return &Program{Name: name, Kernel: kernel, Pipeline: pipeline, Layout: desc}, nil
}

// Dispatch records one invocation of the program.
func (p *Program) Dispatch(b Backend, bindings []Binding, params []byte, x, y, z uint32) error {
	return b.Dispatch(DispatchDesc{
		Pipeline: p.Pipeline,
		Bindings: bindings,
		Params:   params,
		Groups:   [3]uint32{x, y, z},
	})
}

// Release destroys the pipeline, then the kernel. It is safe on nil.
func (p *Program) Release(b Backend) {
	if p == nil || b == nil {
		return
	}
	if p.Pipeline != InvalidID {
		b.ReleasePipeline(p.Pipeline)
		p.Pipeline = InvalidID
	}
	if p.Kernel != InvalidID {
		b.ReleaseKernel(p.Kernel)
		p.Kernel = InvalidID
	}
}

// Workgroups returns ceil(n / size), the number of groups needed to cover
// n items. It returns 0 when n is not positive.
func Workgroups(n, size int) uint32 {
	if n <= 0 || size <= 0 {
		return 0
	}
	return uint32((n + size - 1) / size) //nolint:gosec // callers pass chunk-scale counts
}
