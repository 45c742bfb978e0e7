// Package erathia generates voxel terrain and vegetation on a compute
// device for a streaming open world.
//
// A World wires a compute backend, the kernel sources, the terrain chunk
// scheduler and the vegetation placement dispatcher:
//
//	w, err := erathia.New(config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	t := w.Terrain()
//	t.SetObserverPosition(player)
//	t.RequestChunk(origin, 2, nil)   // queued, generated over later frames
//	for range frames {
//	    w.Tick(0)                   // dispatch within the frame budget
//	    if tex := t.PollChunkTextures(origin); tex.Ready {
//	        // bind tex.SDF and tex.Material for meshing
//	    }
//	}
//
// Backends plug in by name. The software backend is always available; the
// GPU backend registers itself unless the module is built with the nogpu
// tag. RegisterBackend installs a process-wide backend that every World
// without an explicit WithBackend option shares.
//
// # Logging
//
// Erathia is silent by default. SetLogger enables structured logging
// through log/slog for the packages and the registered backend.
package erathia
