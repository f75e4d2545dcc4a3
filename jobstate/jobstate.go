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

// Package jobstate holds the per-worker, per-job record: its lifecycle
// state machine, tree position, and the demand/temperature formulas the
// scheduler and balancer read from it.
package jobstate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethersphere/swarmsat/wire"
)

// State is a position in the job lifecycle state machine.
type State int

const (
	Inactive State = iota
	Committed
	Active
	Suspended
	Past
	Destructible
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Committed:
		return "COMMITTED"
	case Active:
		return "ACTIVE"
	case Suspended:
		return "SUSPENDED"
	case Past:
		return "PAST"
	case Destructible:
		return "DESTRUCTIBLE"
	default:
		return "UNKNOWN"
	}
}

// Reason records why a job reached PAST, consumed by NOTIFY_JOB_DONE.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDoneSAT
	ReasonDoneUNSAT
	ReasonDoneUnknown
	ReasonLimitExceeded
	ReasonInterrupted
	ReasonSolverLost
)

// Verdict is the job's satisfiability result.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictSAT
	VerdictUNSAT
)

// Result is the job's outcome, once known.
type Result struct {
	Verdict  Verdict
	Model    []bool
	Revision int32
}

var (
	// ErrInvalidTransition is returned when a lifecycle method is called
	// from a state it does not support.
	ErrInvalidTransition = errors.New("jobstate: invalid state transition")
	// ErrNoCommitment names a job with no pending commitment. No method of
	// Job returns it: Start reports a start from any state other than
	// COMMITTED as ErrInvalidTransition.
	ErrNoCommitment = errors.New("jobstate: no pending commitment")
)

// Job is a worker's record of one job: identity, lifecycle state, tree
// position, and timing. Its methods take an internal, unexported lock; its
// exported fields are not guarded by that lock and are read and written
// directly by the owning worker's main loop only.
type Job struct {
	mu sync.RWMutex

	JobID       int32
	Application int32
	Priority    float64
	Revision    int32

	state State

	// Tree position.
	TreeIndex      int
	RootRank       int
	ParentRank     int
	LeftChildRank  int
	RightChildRank int

	Volume    int
	MaxDemand int // 0 means unlimited

	// Timestamps.
	Arrival        time.Time
	Activation     time.Time
	LastLimitCheck time.Time
	Abort          time.Time

	WallclockLimit time.Duration
	CPULimit       time.Duration

	Dependencies []int32
	Precursor    *int32
	Interrupted  bool

	Result Result
	Reason Reason

	Commitment *wire.JobRequest

	// CumulativeCPU folds in SUSPENDED lifetime CPU usage so it survives
	// resume/suspend cycles.
	CumulativeCPU time.Duration

	logger log.Logger
}

// New constructs an INACTIVE job record.
func New(jobID int32, application int32, priority float64) *Job {
	return &Job{
		JobID:          jobID,
		Application:    application,
		Priority:       priority,
		state:          Inactive,
		RootRank:       -1,
		ParentRank:     -1,
		LeftChildRank:  -1,
		RightChildRank: -1,
		logger:         log.New("job", jobID),
	}
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Ready reports whether every precursor this job depends on has already
// concluded, per the informative dependencies/precursor fields (§3
// EXPANSION). doneLookup reports whether a given job id has reached PAST.
func (j *Job) Ready(doneLookup func(int32) bool) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.Precursor != nil && !doneLookup(*j.Precursor) {
		return false
	}
	for _, dep := range j.Dependencies {
		if !doneLookup(dep) {
			return false
		}
	}
	return true
}

// Commit transitions INACTIVE/COMMITTED/SUSPENDED -> COMMITTED: the worker accepts
// to serve req's requested tree index. commit() requires not-ACTIVE and
// not-PAST, so re-committing (e.g. a retried request for the same slot) is
// permitted.
func (j *Job) Commit(req wire.JobRequest) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Active || j.state == Past || j.state == Destructible {
		return fmt.Errorf("%w: commit from %s", ErrInvalidTransition, j.state)
	}
	j.Commitment = &req
	j.TreeIndex = int(req.RequestedIndex)
	j.RootRank = int(req.RootRank)
	j.Revision = req.Revision
	j.state = Committed
	j.logger.Debug("job committed", "index", j.TreeIndex, "root", j.RootRank)
	return nil
}

// Start transitions COMMITTED -> ACTIVE, after the job description has
// been pushed to this worker. Callers spawn the Solver Process Adapter
// after Start succeeds.
func (j *Job) Start(now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Committed {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, j.state)
	}
	j.state = Active
	j.Activation = now
	j.LastLimitCheck = now
	j.Volume = 1
	j.logger.Debug("job activated")
	return nil
}

// Suspend transitions ACTIVE -> SUSPENDED: the solver is paused, both
// child-rank slots are cleared, and elapsed CPU is folded into the
// lifetime counter.
func (j *Job) Suspend(elapsedCPU time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Active {
		return fmt.Errorf("%w: suspend from %s", ErrInvalidTransition, j.state)
	}
	j.state = Suspended
	j.LeftChildRank = -1
	j.RightChildRank = -1
	j.CumulativeCPU += elapsedCPU
	j.logger.Debug("job suspended", "cumulativeCPU", j.CumulativeCPU)
	return nil
}

// Resume transitions SUSPENDED -> ACTIVE.
func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Suspended {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, j.state)
	}
	j.state = Active
	j.logger.Debug("job resumed")
	return nil
}

// Terminate transitions ACTIVE|SUSPENDED -> PAST: the solver is aborted,
// children cleared, and the abort timestamp recorded with the reason the
// job concluded.
func (j *Job) Terminate(now time.Time, reason Reason) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Active && j.state != Suspended {
		return fmt.Errorf("%w: terminate from %s", ErrInvalidTransition, j.state)
	}
	j.state = Past
	j.Abort = now
	j.Reason = reason
	j.LeftChildRank = -1
	j.RightChildRank = -1
	j.logger.Debug("job terminated", "reason", reason)
	return nil
}

// MarkDestructible transitions PAST -> DESTRUCTIBLE, once the solver
// adapter has reported its shared memory released.
func (j *Job) MarkDestructible() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Past {
		return fmt.Errorf("%w: destruct from %s", ErrInvalidTransition, j.state)
	}
	j.state = Destructible
	j.logger.Debug("job destructible")
	return nil
}
