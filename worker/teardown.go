// Copyright 2024 The Swarm Authors
// This file is part of the Swarm library.
//
// The Swarm library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Swarm library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Swarm library. If not, see <http://www.gnu.org/licenses/>.

package worker

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// teardownPollInterval bounds how often the teardown task polls the
// adapter for child exit; teardownMaxWait bounds how long it waits before
// giving up and freeing shared memory regardless (the adapter already
// signaled ABORTING before concludeJob scheduled this task, so the child
// is expected to exit promptly).
const (
	teardownPollInterval = 5 * time.Millisecond
	teardownMaxWait      = 2 * time.Second
)

// scheduleTeardown runs the PAST -> DESTRUCTIBLE teardown task of spec.md
// §5 "Cancellation" off the main loop goroutine, since joining the child
// process may block: wait for the adapter's child to exit, free every
// shared-memory segment it created, then mark the job DESTRUCTIBLE and drop
// it from the job table. Teardown is idempotent per spec.md §5 — concludeJob
// only schedules it once, on the ACTIVE|SUSPENDED -> PAST transition, so a
// second call for the same job can't happen.
func (w *Worker) scheduleTeardown(jobID int32, e *entry) {
	go func() {
		var g errgroup.Group
		g.Go(func() error {
			if e.adapter == nil {
				return nil
			}
			deadline := time.Now().Add(teardownMaxWait)
			for e.adapter.Alive() && time.Now().Before(deadline) {
				time.Sleep(teardownPollInterval)
			}
			return e.adapter.FreeSharedMemory()
		})
		if err := g.Wait(); err != nil {
			w.logger.Error("teardown failed to free shared memory", "job", jobID, "err", err)
			return
		}
		if err := e.job.MarkDestructible(); err != nil {
			w.logger.Debug("mark destructible failed", "job", jobID, "err", err)
			return
		}
		w.mu.Lock()
		if cur, ok := w.jobs[jobID]; ok && cur == e {
			delete(w.jobs, jobID)
		}
		w.mu.Unlock()
	}()
}
