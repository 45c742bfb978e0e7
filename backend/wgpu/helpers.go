package wgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/zarigata/Erathia/compute"
)

// uniformAlign is the size granularity of uniform buffers.
const uniformAlign = 16

// spirvWords packs little-endian SPIR-V bytes into words.
func spirvWords(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("wgpu: SPIR-V length %d is not a positive multiple of 4", len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words, nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}

// uniformSize returns the uniform buffer size for a parameter block.
func uniformSize(paramsSize uint32) uint64 {
	return max(alignUp(uint64(paramsSize), uniformAlign), uniformAlign)
}

// paddedParams copies params into a zeroed block of the uniform size.
func paddedParams(params []byte, paramsSize uint32) []byte {
	out := make([]byte, uniformSize(paramsSize))
	copy(out, params)
	return out
}

// bufferSize returns the device buffer size for n bytes of contents.
func bufferSize(n int) uint64 {
	return max(alignUp(uint64(n), 4), 4) //nolint:gosec // n is non-negative
}

// bindingIndex maps a resource slot to its shader binding.
func bindingIndex(slot uint32) uint32 { return slot + 1 }

// layoutEntries returns the bind group layout of a pipeline: the uniform
// parameter block followed by one storage buffer per resource slot.
func layoutEntries(bindings []compute.BindingLayout) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings)+1)
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	})
	for _, bl := range bindings {
		layout := &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		if bl.Kind == compute.BindingSampledImage || bl.Kind == compute.BindingReadOnlyBuffer {
			layout.Type = gputypes.BufferBindingTypeReadOnlyStorage
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    bindingIndex(bl.Slot),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     layout,
		})
	}
	return entries
}

// readWindow widens [offset, offset+length) to 4-byte copy alignment and
// returns the aligned start, the aligned size, and where the requested
// bytes begin inside the copy.
//
//nolint:gosec // offset and length are validated non-negative
func readWindow(offset, length int) (start, size uint64, skip int) {
	start = uint64(offset) &^ 3
	end := alignUp(uint64(offset+length), 4)
	return start, end - start, offset - int(start)
}
