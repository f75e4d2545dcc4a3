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
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/jobtree"
	"github.com/ethersphere/swarmsat/scheduler"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/transport"
)

var (
	messagesHandled = metrics.NewRegisteredCounter("worker/messages", nil)
	jobsActivated   = metrics.NewRegisteredCounter("worker/jobs_activated", nil)
	jobsTerminated  = metrics.NewRegisteredCounter("worker/jobs_terminated", nil)
)

// AdapterFactory constructs the Solver Process Adapter for a newly started
// job. Production deployments pass a factory returning a *solverproc.ProcAdapter;
// tests pass one returning a *solverproc.SimAdapter.
type AdapterFactory func(jobID int32) solverproc.Adapter

// DoneNotifier is invoked once per job when this worker observes (or, at
// the root, concludes) its outcome, so an embedder can deliver results back
// to a client. fromRoot is true only when this worker is the job's root.
type DoneNotifier func(jobID int32, result jobstate.Result, reason jobstate.Reason, fromRoot bool)

// Worker multiplexes incoming transport messages for all jobs it currently
// participates in, driving each job's state machine and invoking the Job
// Tree, Local Scheduler and Clause Communicator on its behalf (spec.md §4
// "Worker Main Loop"). A Worker's public methods other than Run are not
// safe for concurrent use; Run's internal loop drives every live job (only
// teardown goroutines remove concluded entries, under mu), mirroring
// the cooperative, single-threaded, event-driven model of spec.md §5.
type Worker struct {
	cfg     Config
	router  transport.Router
	newAdap AdapterFactory
	onDone  DoneNotifier

	logger log.Logger

	mu   sync.Mutex // guards jobs, for balancer snapshot reads from outside Run
	jobs map[int32]*entry

	doneJobIDs map[int32]bool // precursor lookups, local knowledge only

	balancingEpoch int32
	lastBalanceAt  time.Time
	lastComputeAt  time.Time

	// pendingContributions accumulates QUERY_VOLUME reports since the
	// coordinator's last balancer.Compute (only meaningful on
	// cfg.CoordinatorRank).
	pendingContributions map[int32][]contribFromRank
}

type contribFromRank struct {
	rank     int
	demand   int
	priority float64
	commit   bool
}

// New constructs a Worker. newAdap builds a fresh Adapter for each job this
// worker starts; onDone (may be nil) is invoked on job conclusion.
func New(cfg Config, router transport.Router, newAdap AdapterFactory, onDone DoneNotifier) *Worker {
	return &Worker{
		cfg:                   cfg,
		router:                router,
		newAdap:               newAdap,
		onDone:                onDone,
		logger:                log.New("worker", cfg.Rank),
		jobs:                  map[int32]*entry{},
		doneJobIDs:            map[int32]bool{},
		pendingContributions:  map[int32][]contribFromRank{},
	}
}

// Rank returns this worker's physical rank.
func (w *Worker) Rank() int { return w.cfg.Rank }

// Job returns the job record for jobID, if this worker currently tracks it.
func (w *Worker) Job(jobID int32) (*jobstate.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.jobs[jobID]
	if !ok {
		return nil, false
	}
	return e.job, true
}

func (w *Worker) getEntry(jobID int32) (*entry, bool) {
	e, ok := w.jobs[jobID]
	return e, ok
}

// newEntry constructs and registers a fresh, INACTIVE job entry.
func (w *Worker) newEntry(jobID, application int32, priority float64) *entry {
	e := &entry{
		job:   jobstate.New(jobID, application, priority),
		tree:  jobtree.New(w.cfg.N, int64(jobID)),
		sched: scheduler.NewSlotScheduler(jobID, w.cfg.HopBudget),
		comm:  nil, // constructed once tree position is known at commit
	}
	w.jobs[jobID] = e
	return e
}

// randomOtherRank picks a uniformly random rank other than this worker's
// own, the target an undirected JobRequest walks to next (spec.md §4.5).
func (w *Worker) randomOtherRank() int {
	if w.cfg.N <= 1 {
		return w.Rank()
	}
	r := rand.Intn(w.cfg.N - 1)
	if r >= w.Rank() {
		r++
	}
	return r
}
