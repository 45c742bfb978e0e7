// Package terrain schedules GPU generation of voxel terrain chunks and
// caches the results.
//
// A Scheduler owns the shared biome map, the SDF/material pipeline, a
// priority queue of pending requests ordered by distance to the observer,
// the set of chunks in flight on the device and an LRU of completed
// chunks. Work is dispatched from Tick under a cooperative per-frame
// budget; a background poller observes completion with one batched Sync
// and migrates finished chunks into the cache, reading voxels back to the
// CPU only for chunks that need physics data (LOD 0).
//
// Basic usage:
//
//	s := terrain.New(backend, store, terrain.DefaultConfig())
//	defer s.Close()
//
//	s.SetObserverPosition(player)
//	s.RequestChunk(chunk.Coord{X: 32}, 1, nil)
//	for frame := range frames {
//		s.Tick(0)
//		if tex := s.PollChunkTextures(chunk.Coord{X: 32}); tex.Ready {
//			mesh(tex.SDF)
//		}
//	}
package terrain
