// Package vegetation scatters vegetation instances over generated terrain
// chunks on a compute backend and caches the results.
//
// A Dispatcher runs the placement kernel against a terrain chunk's SDF
// image, keeps the raw placement buffer on the device and, on request,
// decodes it into Placement values or derives per-instance transforms.
// Entries are keyed by (chunk origin, vegetation type) and bounded by an
// LRU; evicting an entry releases its device buffers.
package vegetation
