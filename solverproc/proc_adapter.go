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
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/wire"
)

var (
	metricSolverSpawns  = metrics.GetOrRegisterCounter("solverproc/spawns", nil)
	metricSolverDeaths  = metrics.GetOrRegisterCounter("solverproc/deaths", nil)
	metricDigestRejects = metrics.GetOrRegisterCounter("solverproc/digest_rejects", nil)
)

// ProcConfig configures a ProcAdapter.
type ProcConfig struct {
	SolverBinary   string
	SolverArgs     []string
	Rank           int
	JobID          int32
	PlatformPrefix string
	SegMgr         SegmentManager

	MaxLbdPartitionedSize int32
	MaxSize               int32
	MaxLBD                int32
}

// ProcAdapter owns a real child process running the SAT engine portfolio.
// The shared control block is process-local (ControlBlock); only the
// fork/exec lifecycle and the suspend/resume/terminate signaling are
// genuinely cross-process, via the child's PID. Formula, assumption and
// clause payloads move through the SegmentManager's named segments exactly
// as described in spec.md §3, which a production build would back with a
// real OS shared-memory mapping instead of MemSegmentManager.
type ProcAdapter struct {
	mu  sync.Mutex
	cfg ProcConfig
	cb  *ControlBlock

	cmd   *exec.Cmd
	pid   int
	alive atomic.Bool
	fatal bool

	created []string

	pendingRevisions []Revision
	desiredRevision  int32

	logger log.Logger
}

// NewProcAdapter constructs an adapter for the given configuration. It
// creates no process and no segments yet; Run() does that.
func NewProcAdapter(cfg ProcConfig) *ProcAdapter {
	return &ProcAdapter{
		cfg:    cfg,
		cb:     NewControlBlock(),
		logger: log.New("adapter", "proc", "job", cfg.JobID, "rank", cfg.Rank),
	}
}

func (p *ProcAdapter) segmentPrefix() string {
	return SegmentName(p.cfg.PlatformPrefix, p.pid, p.cfg.Rank, p.cfg.JobID, "")
}

// Run fork-execs the child. The child, seeing the control block already
// initialized, is expected to map the same segments by name via
// SWARMSAT_SEGMENT_PREFIX.
func (p *ProcAdapter) Run() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cmd = exec.Command(p.cfg.SolverBinary, p.cfg.SolverArgs...)
	p.cmd.Env = append(os.Environ(), fmt.Sprintf("SWARMSAT_SEGMENT_PREFIX=%s", p.segmentPrefix()))
	p.cmd.Stdout = os.Stdout
	p.cmd.Stderr = os.Stderr

	if err := p.cmd.Start(); err != nil {
		return 0, fmt.Errorf("solverproc: spawning solver: %w", err)
	}
	p.pid = p.cmd.Process.Pid
	p.alive.Store(true)
	p.cb.isSpawned.Store(true)
	metricSolverSpawns.Inc(1)

	go p.waitForExit()

	return p.pid, nil
}

func (p *ProcAdapter) waitForExit() {
	err := p.cmd.Wait()
	p.alive.Store(false)
	p.cb.isSpawned.Store(false)
	if err != nil {
		p.logger.Warn("solver child exited", "err", err)
	}
	metricSolverDeaths.Inc(1)
}

// IsFullyInitialized reports whether the child has set isInitialized.
func (p *ProcAdapter) IsFullyInitialized() bool {
	return p.cb.isInitialized.Load()
}

// AppendRevisions creates segments for each new revision, publishing the
// desired revision at once if the child is fully initialized and no
// revision transition is in flight; otherwise a later Check publishes it.
func (p *ProcAdapter) AppendRevisions(revs []Revision, desiredRevision int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range revs {
		formulaName := SegmentName(p.cfg.PlatformPrefix, p.pid, p.cfg.Rank, p.cfg.JobID, fmt.Sprintf("formulae.%d", r.Index))
		if _, err := p.cfg.SegMgr.Create(formulaName, len(r.Formula)); err != nil {
			return err
		}
		p.created = append(p.created, formulaName)
		if seg, err := p.cfg.SegMgr.Open(formulaName); err == nil {
			seg.Write(r.Formula)
		}

		assumptionsName := SegmentName(p.cfg.PlatformPrefix, p.pid, p.cfg.Rank, p.cfg.JobID, fmt.Sprintf("assumptions.%d", r.Index))
		if _, err := p.cfg.SegMgr.Create(assumptionsName, len(r.Assumptions)); err != nil {
			return err
		}
		p.created = append(p.created, assumptionsName)
		if seg, err := p.cfg.SegMgr.Open(assumptionsName); err == nil {
			seg.Write(r.Assumptions)
		}

		p.cb.fSize.Store(int32(len(r.Formula)))
		p.cb.aSize.Store(int32(len(r.Assumptions)))
		p.pendingRevisions = append(p.pendingRevisions, r)
	}
	p.desiredRevision = desiredRevision

	if p.cb.isInitialized.Load() && !p.cb.doStartNextRevision.Load() {
		p.cb.revision.Store(desiredRevision)
		p.pendingRevisions = nil
	}
	return nil
}

// SetSolvingState drives the child's process-level state via process
// signals: ACTIVE resumes it (SIGCONT) and clears hasSolution, SUSPENDED
// stops it (SIGSTOP), ABORTING sets doTerminate and resumes it so it can
// observe the flag and exit on its own.
func (p *ProcAdapter) SetSolvingState(state SolvingState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("solverproc: child not running")
	}

	switch state {
	case SolvingActive:
		p.cb.hasSolution.Store(false)
		return p.cmd.Process.Signal(syscall.SIGCONT)
	case SolvingSuspended:
		return p.cmd.Process.Signal(syscall.SIGSTOP)
	case SolvingAborting:
		p.cb.doTerminate.Store(true)
		return p.cmd.Process.Signal(syscall.SIGCONT)
	default:
		return fmt.Errorf("solverproc: unknown solving state %d", state)
	}
}

// CollectClauses requests an export from the child. Non-blocking.
func (p *ProcAdapter) CollectClauses(maxSize int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb.exportBufferMaxSize.Store(maxSize)
	p.cb.doExport.Store(true)
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Signal(syscall.SIGCONT)
	}
	return nil
}

// HasCollectedClauses reports whether the child has set didExport.
func (p *ProcAdapter) HasCollectedClauses() bool {
	return p.cb.didExport.Load()
}

// GetCollectedClauses copies the export segment out, clears doExport, and
// decodes the buffer.
func (p *ProcAdapter) GetCollectedClauses() (*wire.ClauseBuffer, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cb.didExport.Load() {
		return nil, 0, fmt.Errorf("solverproc: no completed export to collect")
	}
	name := SegmentName(p.cfg.PlatformPrefix, p.pid, p.cfg.Rank, p.cfg.JobID, "clauseexport")
	seg, err := p.cfg.SegMgr.Open(name)
	if err != nil {
		return nil, 0, err
	}
	buf, err := wire.DecodeClauseBuffer(seg.Read(), true)
	if err != nil {
		return nil, 0, err
	}
	p.cb.doExport.Store(false)
	p.cb.didExport.Store(false)
	return buf, buf.Checksum, nil
}

// DigestClauses refuses if a previous import is still pending, otherwise
// writes the encoded buffer into the import segment and sets doImport.
func (p *ProcAdapter) DigestClauses(buf *wire.ClauseBuffer, checksum uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatal {
		return ErrChecksumMismatch
	}
	if p.cb.doImport.Load() && !p.cb.didImport.Load() {
		metricDigestRejects.Inc(1)
		p.logger.Warn("digest overrun, dropping import")
		return ErrDigestInFlight
	}

	keys := wire.OrderedKeys(buf.Buckets, p.cfg.MaxLbdPartitionedSize, p.cfg.MaxSize, p.cfg.MaxLBD)
	if got := wire.RollingChecksum(buf.Buckets, keys); got != checksum {
		p.fatal = true
		p.logger.Crit("import checksum mismatch, aborting adapter")
		return ErrChecksumMismatch
	}

	name := SegmentName(p.cfg.PlatformPrefix, p.pid, p.cfg.Rank, p.cfg.JobID, "clauseimport")
	encoded := wire.EncodeClauseBuffer(buf, p.cfg.MaxLbdPartitionedSize, p.cfg.MaxSize, p.cfg.MaxLBD, true)
	seg, err := p.cfg.SegMgr.Open(name)
	if err != nil {
		seg, err = p.cfg.SegMgr.Create(name, len(encoded))
		if err != nil {
			return err
		}
		p.created = append(p.created, name)
	}
	seg.Write(encoded)
	p.cb.importBufferSize.Store(int32(len(encoded)))
	p.cb.importChecksum.Store(checksum)
	p.cb.doImport.Store(true)
	p.cb.didImport.Store(false)
	return nil
}

// Check advances any pending revision publication and reports whether a
// solution for the current revision is ready.
func (p *ProcAdapter) Check() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pendingRevisions) > 0 && !p.cb.doStartNextRevision.Load() {
		p.cb.revision.Store(p.desiredRevision)
		p.pendingRevisions = nil
	}
	return p.cb.hasSolution.Load() && p.cb.solutionRevision.Load() == p.cb.revision.Load()
}

// GetSolution reads the per-revision solution segment.
func (p *ProcAdapter) GetSolution() (jobstate.Verdict, []bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cb.hasSolution.Load() {
		return jobstate.VerdictUnknown, nil, fmt.Errorf("solverproc: no solution available")
	}
	rev := p.cb.solutionRevision.Load()
	name := SegmentName(p.cfg.PlatformPrefix, p.pid, p.cfg.Rank, p.cfg.JobID, fmt.Sprintf("solution.%d", rev))
	seg, err := p.cfg.SegMgr.Open(name)
	if err != nil {
		return jobstate.VerdictUnknown, nil, err
	}
	data := seg.Read()
	model := make([]bool, len(data))
	for i, b := range data {
		model[i] = b != 0
	}
	verdict := jobstate.Verdict(p.cb.verdict.Load())
	return verdict, model, nil
}

// FreeSharedMemory releases every segment this adapter created.
func (p *ProcAdapter) FreeSharedMemory() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.created {
		if err := p.cfg.SegMgr.Remove(name); err != nil {
			return err
		}
	}
	p.created = nil
	return nil
}

// Alive reports whether the child process is still running.
func (p *ProcAdapter) Alive() bool {
	return p.alive.Load()
}
