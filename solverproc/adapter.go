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
	"errors"

	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/wire"
)

// SolvingState is the process-level state the worker asks the adapter to
// drive the child toward.
type SolvingState int

const (
	SolvingActive SolvingState = iota
	SolvingSuspended
	SolvingAborting
)

// Revision is one incremental formula update: its payload plus assumptions.
type Revision struct {
	Index       int32
	Formula     []byte
	Assumptions []byte
}

var (
	// ErrDigestInFlight is returned by DigestClauses when a previous
	// import is still pending (doImport && !didImport).
	ErrDigestInFlight = errors.New("solverproc: previous digest still in flight")
	// ErrSolverLost is surfaced when the child process exits while the
	// adapter was ACTIVE.
	ErrSolverLost = errors.New("solverproc: solver child exited unexpectedly")
	// ErrChecksumMismatch is fatal for the adapter: it stops delivering
	// clauses and the caller must signal abort.
	ErrChecksumMismatch = errors.New("solverproc: import checksum mismatch")
)

// Adapter owns one child process running the SAT engine portfolio and the
// shared control block used to communicate with it. Methods are called
// from a single worker thread; see spec.md §4.3 for the single-writer
// discipline on the underlying control block fields.
type Adapter interface {
	// Run fork-execs (or, for SimAdapter, simulates) the child and
	// returns its PID.
	Run() (pid int, err error)

	// IsFullyInitialized reports whether the child has set isInitialized.
	IsFullyInitialized() bool

	// AppendRevisions creates segments for each new revision and, once
	// the child is fully initialized and no revision transition is in
	// flight, publishes the desired revision; otherwise the revisions are
	// buffered and published later.
	AppendRevisions(revs []Revision, desiredRevision int32) error

	// SetSolvingState drives the child's process-level state: ACTIVE
	// resumes it and clears hasSolution, SUSPENDED stops it, ABORTING
	// sets doTerminate and resumes it so it can observe the flag.
	SetSolvingState(s SolvingState) error

	// CollectClauses asks the child to export up to maxSize clause ints.
	// Non-blocking.
	CollectClauses(maxSize int32) error

	// HasCollectedClauses reports whether an export has completed.
	HasCollectedClauses() bool

	// GetCollectedClauses copies the export buffer out and clears
	// doExport.
	GetCollectedClauses() (*wire.ClauseBuffer, uint64, error)

	// DigestClauses hands a merged buffer to the child for import.
	DigestClauses(buf *wire.ClauseBuffer, checksum uint64) error

	// Check reports whether a solution for the current revision is
	// ready, advancing any pending revision publication along the way.
	Check() bool

	// GetSolution reads the per-revision solution segments.
	GetSolution() (jobstate.Verdict, []bool, error)

	// FreeSharedMemory releases every segment this adapter created.
	FreeSharedMemory() error

	// Alive reports whether the child process is still running. A false
	// return while the worker believes the job is ACTIVE is "solver
	// lost" (spec.md §4.3 failure semantics).
	Alive() bool
}
