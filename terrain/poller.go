package terrain

import (
	"time"
)

// pollLoop observes completion of submitted chunks until Close.
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	idle := time.NewTimer(s.cfg.PollInterval)
	defer idle.Stop()
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if s.pollOnce() {
			continue
		}
		idle.Reset(s.cfg.PollInterval)
		select {
		case <-s.stop:
			return
		case <-idle.C:
		}
	}
}

// pollOnce runs one completion pass: a single Sync covering every
// submitted chunk and retired biome map, then the readbacks physics
// chunks need, then migration. It reports whether there was work.
func (s *Scheduler) pollOnce() bool {
	s.mu.Lock()
	var pending, orphans []*chunkState
	for _, st := range s.inFlight {
		if st.phase == phaseSubmitted && !st.gpuComplete {
			pending = append(pending, st)
		}
	}
	live := s.orphans[:0]
	for _, st := range s.orphans {
		switch {
		case st.failed:
		case st.phase == phaseSubmitted:
			orphans = append(orphans, st)
		default:
			live = append(live, st)
		}
	}
	clear(s.orphans[len(live):])
	s.orphans = live
	retired := s.retired
	s.retired = nil
	s.mu.Unlock()

	if len(pending) == 0 && len(orphans) == 0 && len(retired) == 0 {
		return s.readbackPass()
	}

	err := s.backend.Sync()
	now := time.Now()

	s.mu.Lock()
	s.released = append(s.released, retired...)
	for _, st := range orphans {
		if st.previous != nil {
			s.releaseEntryLocked(st.previous)
			st.previous = nil
		}
		s.releaseStateLocked(st)
	}
	if err != nil {
		for _, st := range pending {
			if st.orphaned {
				continue
			}
			if s.inFlight[st.origin] == st {
				delete(s.inFlight, st.origin)
				if st.previous != nil {
					s.cacheLocked(st.origin, st.previous)
					st.previous = nil
				}
			}
			s.releaseStateLocked(st)
		}
		s.mu.Unlock()
		s.flushReleased()
		slogger().Error("terrain: sync failed, dropping chunks", "chunks", len(pending), "err", err)
		return true
	}
	for _, st := range pending {
		st.gpuComplete = true
		st.completed = now
		elapsed := st.completed.Sub(st.dispatched)
		s.recordTimingLocked(elapsed)
		s.pendingGPU += elapsed
		s.completedSinceTick++
	}
	s.mu.Unlock()
	s.flushReleased()

	s.readbackPass()
	return true
}

// readbackPass reads back completed physics chunks and migrates every
// completed chunk into the cache. It reports whether anything moved.
func (s *Scheduler) readbackPass() bool {
	s.mu.Lock()
	var reads []*chunkState
	moved := false
	for _, st := range s.inFlight {
		if !st.gpuComplete {
			continue
		}
		if st.physics && !st.readbackDone {
			reads = append(reads, st)
			continue
		}
		s.migrateLocked(st)
		moved = true
	}
	s.mu.Unlock()

	for _, st := range reads {
		sdf, mat, err := s.readback(st)
		if err != nil {
			slogger().Error("terrain: readback failed, caching GPU data only", "origin", st.origin, "err", err)
		}

		s.mu.Lock()
		if st.orphaned {
			s.mu.Unlock()
			continue
		}
		st.sdfData, st.materialData = sdf, mat
		st.readbackDone = true
		s.migrateLocked(st)
		s.mu.Unlock()
		moved = true
	}
	if moved {
		s.flushReleased()
	}
	return moved || len(reads) > 0
}
