// Package assets locates kernel sources: an optional on-disk override
// directory first, then the kernels embedded in the binary.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zarigata/Erathia/compute"
)

//go:embed kernels/*.wgsl
var embedded embed.FS

// Extension is the file suffix of kernel sources.
const Extension = ".wgsl"

// Store loads kernel sources by name and memoizes them.
// Store is safe for concurrent use.
type Store struct {
	dir  string
	base fs.FS

	mu    sync.RWMutex
	cache map[string]compute.KernelSource
}

// NewStore returns a store that prefers files in dir over the embedded
// kernels. An empty dir uses the embedded kernels only.
func NewStore(dir string) *Store {
	sub, _ := fs.Sub(embedded, "kernels")
	return &Store{
		dir:   dir,
		base:  sub,
		cache: make(map[string]compute.KernelSource),
	}
}

// NewStoreFS returns a store reading only from fsys. It is used with
// fstest.MapFS in tests and for hosts that ship their own asset bundle.
func NewStoreFS(fsys fs.FS) *Store {
	return &Store{base: fsys, cache: make(map[string]compute.KernelSource)}
}

// Load returns the source of the kernel called name. A missing file yields
// compute.ErrKernelNotFound and an empty one compute.ErrKernelEmpty.
func (s *Store) Load(name string) (compute.KernelSource, error) {
	s.mu.RLock()
	src, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return src, nil
	}

	code, err := s.read(name)
	if err != nil {
		return compute.KernelSource{}, err
	}
	if strings.TrimSpace(code) == "" {
		return compute.KernelSource{}, fmt.Errorf("assets: %s: %w", name, compute.ErrKernelEmpty)
	}

	src = compute.KernelSource{Name: name, Code: code}
	s.mu.Lock()
	s.cache[name] = src
	s.mu.Unlock()
	return src, nil
}

func (s *Store) read(name string) (string, error) {
	file := name + Extension
	if s.dir != "" {
		b, err := os.ReadFile(filepath.Join(s.dir, file))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("assets: read %s: %w", file, err)
		}
	}
	if s.base != nil {
		b, err := fs.ReadFile(s.base, file)
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("assets: read %s: %w", file, err)
		}
	}
	return "", fmt.Errorf("assets: %s: %w", name, compute.ErrKernelNotFound)
}

// Invalidate drops memoized sources so the next Load rereads them.
// With no names every entry is dropped.
func (s *Store) Invalidate(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(names) == 0 {
		s.cache = make(map[string]compute.KernelSource)
		return
	}
	for _, n := range names {
		delete(s.cache, n)
	}
}

// Names lists every kernel the store can load, sorted.
func (s *Store) Names() []string {
	seen := make(map[string]struct{})
	collect := func(fsys fs.FS) {
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), Extension) {
				seen[strings.TrimSuffix(e.Name(), Extension)] = struct{}{}
			}
		}
	}
	if s.base != nil {
		collect(s.base)
	}
	if s.dir != "" {
		collect(os.DirFS(s.dir))
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dir returns the override directory, empty when none is configured.
func (s *Store) Dir() string { return s.dir }
