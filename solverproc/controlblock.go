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

package solverproc

import "sync/atomic"

// ControlBlock is the fixed-layout structure shared between a worker and
// its solver child, per spec.md §3. Every field below is single-writer:
// the "do*" flags and formula/assumption sizes are written only by the
// worker, the "did*"/liveness/result fields only by the child. Readers on
// either side tolerate a stale read bounded to one epoch, so plain atomics
// (not a mutex) are the right tool here.
type ControlBlock struct {
	// Worker -> child.
	doExport             atomic.Bool
	doImport             atomic.Bool
	doDumpStats          atomic.Bool
	doStartNextRevision  atomic.Bool
	doTerminate          atomic.Bool

	// Child -> worker.
	didExport            atomic.Bool
	didImport            atomic.Bool
	didDumpStats         atomic.Bool
	didStartNextRevision atomic.Bool
	didTerminate         atomic.Bool

	// Liveness, child -> worker.
	isSpawned     atomic.Bool
	isInitialized atomic.Bool
	hasSolution   atomic.Bool

	// Revision counters.
	revision         atomic.Int32
	solutionRevision atomic.Int32

	// Formula size scalars.
	fSize atomic.Int32
	aSize atomic.Int32

	// Export/import bookkeeping.
	exportBufferMaxSize  atomic.Int32
	exportBufferTrueSize atomic.Int32
	importBufferSize     atomic.Int32
	exportChecksum       atomic.Uint64
	importChecksum       atomic.Uint64

	// Result.
	verdict atomic.Int32
}

// NewControlBlock returns a freshly zeroed control block, as created by
// the adapter's Construction step before the child is fork-exec'd.
func NewControlBlock() *ControlBlock {
	return &ControlBlock{}
}
