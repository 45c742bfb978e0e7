// Package compute defines the boundary between the chunk generators and a
// compute backend.
//
// The generators never talk to a GPU API directly. They compile kernels,
// allocate images and buffers, record dispatches and synchronize through the
// [Backend] interface, which is implemented by:
//   - backend/software: a CPU reference implementation with real
//     asynchronous submission
//   - backend/wgpu: a GPU implementation over gogpu/wgpu HAL
//
//	+-----------+     +------------+
//	|  terrain  |     | vegetation |
//	+-----+-----+     +------+-----+
//	      |                  |
//	      +--------+---------+
//	               |
//	        +------v------+
//	        |   compute   |
//	        |  (Backend)  |
//	        +------+------+
//	               |
//	      +--------+---------+
//	      |                  |
//	+-----v------+    +------v-----+
//	|  software  |    |    wgpu    |
//	+------------+    +------------+
//
// # Resource Management
//
// Resources are referred to by opaque IDs ([KernelID], [PipelineID],
// [ImageID], [BufferID]). The zero value [InvalidID] never names a live
// resource. Backends own the mapping from IDs to native objects and release
// them through the Release methods.
//
// # Synchronization
//
// [Backend.Submit] hands recorded dispatches to the device and returns
// immediately. [Backend.Sync] blocks until every batch submitted before the
// call has completed. Callers that want non-blocking completion run Sync on
// a background goroutine.
package compute
