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

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/wire"
)

// SimAdapter is an in-process stand-in for a real solver child, used by
// tests and by single-process deployments. It implements the same Adapter
// contract as ProcAdapter but every "child" action is driven explicitly
// through its Simulate* methods rather than by an actual process, giving
// deterministic test behavior with no fork/exec dependency. This mirrors
// the teacher pack's own executor/test-harness split noted for driver
// tests.
type SimAdapter struct {
	mu sync.Mutex

	cb     *ControlBlock
	segMgr SegmentManager
	prefix string

	pid     int
	alive   bool
	fatal   bool
	created []string

	pendingRevisions []Revision
	desiredRevision  int32

	exportBuf      *wire.ClauseBuffer
	exportChecksum uint64

	importBuf      *wire.ClauseBuffer
	importChecksum uint64

	solutionVerdict jobstate.Verdict
	solutionModel   []bool

	maxLbdPartitionedSize, maxSize, maxLBD int32

	logger log.Logger
}

// NewSimAdapter returns a SimAdapter using segMgr for segment bookkeeping
// and the given bucket-cursor bounds for checksum recomputation on digest.
func NewSimAdapter(segMgr SegmentManager, prefix string, maxLbdPartitionedSize, maxSize, maxLBD int32) *SimAdapter {
	return &SimAdapter{
		cb:                    NewControlBlock(),
		segMgr:                segMgr,
		prefix:                prefix,
		maxLbdPartitionedSize: maxLbdPartitionedSize,
		maxSize:               maxSize,
		maxLBD:                maxLBD,
		logger:                log.New("adapter", "sim", "prefix", prefix),
	}
}

// Run "spawns" the simulated child.
func (s *SimAdapter) Run() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid = 1
	s.alive = true
	s.cb.isSpawned.Store(true)
	return s.pid, nil
}

// IsFullyInitialized reports whether SimulateInit has been called.
func (s *SimAdapter) IsFullyInitialized() bool {
	return s.cb.isInitialized.Load()
}

// AppendRevisions publishes the desired revision immediately when the child
// is initialized and no revision transition is in flight; otherwise it
// buffers the revisions for SimulateInit or a later Check to publish.
func (s *SimAdapter) AppendRevisions(revs []Revision, desiredRevision int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range revs {
		name := SegmentName(s.prefix, s.pid, 0, 0, fmt.Sprintf("formulae.%d", r.Index))
		if _, err := s.segMgr.Create(name, len(r.Formula)); err != nil {
			return err
		}
		s.created = append(s.created, name)
		s.pendingRevisions = append(s.pendingRevisions, r)
	}
	s.desiredRevision = desiredRevision
	if s.cb.isInitialized.Load() && !s.cb.doStartNextRevision.Load() {
		s.cb.revision.Store(desiredRevision)
		s.pendingRevisions = nil
	}
	return nil
}

// SetSolvingState drives the simulated process-level state.
func (s *SimAdapter) SetSolvingState(state SolvingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state {
	case SolvingActive:
		s.cb.hasSolution.Store(false)
	case SolvingSuspended:
		// No process-level action needed for the simulation; a real
		// ProcAdapter would send a stop signal here.
	case SolvingAborting:
		s.cb.doTerminate.Store(true)
	}
	return nil
}

// CollectClauses requests an export; SimulateExport completes it.
func (s *SimAdapter) CollectClauses(maxSize int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.exportBufferMaxSize.Store(maxSize)
	s.cb.doExport.Store(true)
	s.cb.didExport.Store(false)
	return nil
}

// HasCollectedClauses reports whether SimulateExport has completed.
func (s *SimAdapter) HasCollectedClauses() bool {
	return s.cb.didExport.Load()
}

// GetCollectedClauses returns the exported buffer and clears the export
// handshake flags.
func (s *SimAdapter) GetCollectedClauses() (*wire.ClauseBuffer, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cb.didExport.Load() {
		return nil, 0, fmt.Errorf("solverproc: no completed export to collect")
	}
	buf, checksum := s.exportBuf, s.exportChecksum
	s.cb.doExport.Store(false)
	s.cb.didExport.Store(false)
	s.exportBuf = nil
	return buf, checksum, nil
}

// DigestClauses refuses if a previous import is still in flight, verifies
// the checksum, and, on match, hands the buffer to the simulated child.
func (s *SimAdapter) DigestClauses(buf *wire.ClauseBuffer, checksum uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return ErrChecksumMismatch
	}
	if s.cb.doImport.Load() && !s.cb.didImport.Load() {
		s.logger.Warn("digest overrun, dropping import")
		return ErrDigestInFlight
	}
	keys := wire.OrderedKeys(buf.Buckets, s.maxLbdPartitionedSize, s.maxSize, s.maxLBD)
	if got := wire.RollingChecksum(buf.Buckets, keys); got != checksum {
		s.fatal = true
		s.logger.Crit("import checksum mismatch, aborting adapter")
		return ErrChecksumMismatch
	}
	s.importBuf = buf
	s.importChecksum = checksum
	s.cb.doImport.Store(true)
	s.cb.didImport.Store(false)
	return nil
}

// Check advances any pending revision publication and reports whether a
// solution for the current revision is ready.
func (s *SimAdapter) Check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingRevisions) > 0 && !s.cb.doStartNextRevision.Load() {
		s.cb.revision.Store(s.desiredRevision)
		s.pendingRevisions = nil
	}
	return s.cb.hasSolution.Load() && s.cb.solutionRevision.Load() == s.cb.revision.Load()
}

// GetSolution returns the solution recorded by SimulateSolution.
func (s *SimAdapter) GetSolution() (jobstate.Verdict, []bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cb.hasSolution.Load() {
		return jobstate.VerdictUnknown, nil, fmt.Errorf("solverproc: no solution available")
	}
	return s.solutionVerdict, s.solutionModel, nil
}

// FreeSharedMemory releases every segment this adapter created.
func (s *SimAdapter) FreeSharedMemory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.created {
		if err := s.segMgr.Remove(name); err != nil {
			return err
		}
	}
	s.created = nil
	return nil
}

// Alive reports whether the simulated child is still running.
func (s *SimAdapter) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// SimulateInit marks the child as fully initialized and publishes any
// revision that was appended before initialization completed.
func (s *SimAdapter) SimulateInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.isInitialized.Store(true)
	if len(s.pendingRevisions) > 0 {
		s.cb.revision.Store(s.desiredRevision)
		s.pendingRevisions = nil
	}
}

// SimulateExport completes a pending CollectClauses call with the given
// buffer, as if the child had produced it.
func (s *SimAdapter) SimulateExport(buf *wire.ClauseBuffer, checksum uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportBuf = buf
	s.exportChecksum = checksum
	s.cb.didExport.Store(true)
}

// SimulateSolution records a solution for the current revision.
func (s *SimAdapter) SimulateSolution(verdict jobstate.Verdict, model []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solutionVerdict = verdict
	s.solutionModel = model
	s.cb.solutionRevision.Store(s.cb.revision.Load())
	s.cb.hasSolution.Store(true)
}

// SimulateDeath simulates the child process exiting unexpectedly, as in
// spec.md §8 scenario 5.
func (s *SimAdapter) SimulateDeath() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
	s.cb.isSpawned.Store(false)
}

// SimulateTerminateAck completes an ABORTING transition as if the child
// had observed doTerminate and exited cleanly.
func (s *SimAdapter) SimulateTerminateAck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.didTerminate.Store(true)
	s.alive = false
	s.cb.isSpawned.Store(false)
}
