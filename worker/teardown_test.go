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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethersphere/swarmsat/clausecomm"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/jobtree"
	"github.com/ethersphere/swarmsat/scheduler"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/wire"
)

// newTestEntry builds a minimal two-child entry (its job still INACTIVE) for
// jobID on a 16-rank cluster, with ranks 1 and 2 recorded as its left and
// right child ranks, for exercising dropDeadChild and scheduleTeardown in
// isolation from the full Run/transport machinery.
func newTestEntry(t *testing.T, jobID int32) *entry {
	t.Helper()
	tr := jobtree.New(16, int64(jobID))
	tr.Update(0, 0, 0)
	tr.SetLeftChildRank(1)
	tr.SetRightChildRank(2)

	e := &entry{
		job:   jobstate.New(jobID, 0, 1.0),
		tree:  tr,
		sched: scheduler.NewSlotScheduler(jobID, 4),
		comm:  clausecomm.New(clausecomm.DefaultConfig(time.Second), jobID, true, false),
	}
	e.comm.SetLiveChildren(clausecomm.ChildSet{LeftRank: 1, HasLeft: true, RightRank: 2, HasRight: true})
	return e
}

func TestDropDeadChildClearsOnlyMatchingSlot(t *testing.T) {
	w := &Worker{logger: log.New("test", "drop-dead-child")}
	e := newTestEntry(t, 9)

	w.dropDeadChild(e, 1)

	if _, ok := e.tree.LeftChildRank(); ok {
		t.Fatalf("left child rank should be cleared after its job concluded")
	}
	if r, ok := e.tree.RightChildRank(); !ok || r != 2 {
		t.Fatalf("right child rank should be untouched, got %d, %v", r, ok)
	}
}

func TestDropDeadChildIgnoresUnknownRank(t *testing.T) {
	w := &Worker{logger: log.New("test", "drop-dead-child")}
	e := newTestEntry(t, 9)

	w.dropDeadChild(e, 99)

	if _, ok := e.tree.LeftChildRank(); !ok {
		t.Fatalf("left child rank should be untouched for an unrelated rank")
	}
	if _, ok := e.tree.RightChildRank(); !ok {
		t.Fatalf("right child rank should be untouched for an unrelated rank")
	}
}

func TestDropDeadChildRefreshesCommunicatorLiveChildren(t *testing.T) {
	w := &Worker{logger: log.New("test", "drop-dead-child")}
	e := newTestEntry(t, 9)

	e.comm.OnActivate(time.Now())
	epoch, _ := e.comm.BeginEpoch(time.Now())
	e.comm.SetLocalBuffer(nil)
	e.comm.ReceiveGather(1, epoch, nil)
	if e.comm.ReadyToAggregate() {
		t.Fatalf("should not be ready while the right child is still live and unreported")
	}

	w.dropDeadChild(e, 2)

	if !e.comm.ReadyToAggregate() {
		t.Fatalf("dropping the only outstanding live child should make epoch %d ready to aggregate", epoch)
	}
}

// TestScheduleTeardownFreesSegmentsAndMarksDestructible exercises the async
// PAST -> DESTRUCTIBLE half of spec.md §5 "Cancellation": scheduleTeardown
// must wait for the adapter's simulated child to stop, free its segments,
// and remove the job from the worker's table.
func TestScheduleTeardownFreesSegmentsAndMarksDestructible(t *testing.T) {
	const jobID = int32(3)
	w := &Worker{logger: log.New("test", "teardown"), jobs: map[int32]*entry{}}
	e := newTestEntry(t, jobID)
	w.jobs[jobID] = e

	segMgr := solverproc.NewMemSegmentManager()
	sim := solverproc.NewSimAdapter(segMgr, "swarmsat-teardown-test", 8, 64, 8)
	e.adapter = sim
	if _, err := sim.Run(); err != nil {
		t.Fatalf("adapter run: %v", err)
	}
	sim.SimulateInit()

	commitReq := wire.JobRequest{JobID: jobID, RootRank: 0, RequestingRank: 0, RequestedIndex: 0, Revision: 1}
	if err := e.job.Commit(commitReq); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := e.job.Start(time.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.job.Terminate(time.Now(), jobstate.ReasonDoneSAT); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := sim.SetSolvingState(solverproc.SolvingAborting); err != nil {
		t.Fatalf("set solving state: %v", err)
	}
	sim.SimulateTerminateAck()

	w.scheduleTeardown(jobID, e)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.job.State() == jobstate.Destructible {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if e.job.State() != jobstate.Destructible {
		t.Fatalf("expected job to reach DESTRUCTIBLE, got %s", e.job.State())
	}

	w.mu.Lock()
	_, stillTracked := w.jobs[jobID]
	w.mu.Unlock()
	if stillTracked {
		t.Fatalf("expected job to be dropped from the job table once destructible")
	}
}
