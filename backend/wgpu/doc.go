// Package wgpu implements compute.Backend on a GPU through the gogpu/wgpu
// HAL.
//
// Kernels are WGSL, compiled to SPIR-V with naga. Images are backed by
// linear storage buffers of texels*bytesPerTexel bytes, so kernels index
// voxels in the same (z, y, x) order as chunk.Decode. Each dispatch gets a
// uniform buffer at binding 0 holding its parameter block; resource slot N
// is bound at binding N+1.
//
// The package registers itself under backend.WGPU when imported:
//
//	import _ "github.com/zarigata/Erathia/backend/wgpu"
//
// Build with -tags nogpu to leave it out.
//
// Submit ends the recorded dispatches into one command buffer and records
// the submission index the queue returns. Sync polls the queue until every
// index recorded before the call has completed, then frees the encoders and
// per-dispatch uniforms. Reads copy into a MapRead staging buffer and map
// it once the copy completes.
// Releasing a resource while work is outstanding defers its destruction
// until the next Sync that drains the queue.
package wgpu
