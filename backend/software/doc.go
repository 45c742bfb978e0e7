// Package software implements compute.Backend on the CPU.
//
// Kernels are Go functions registered under the same names as the WGSL
// kernels the GPU backend compiles. Submit runs each batch on its own
// goroutine, so Submit and Sync keep the asynchronous contract of a real
// device: work recorded and submitted from one goroutine completes while
// the caller continues, and Sync blocks until it has.
//
// Importing the package registers it with the backend registry as
// backend.Software.
package software
