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
	"context"
	"time"

	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/scheduler"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/transport"
	"github.com/ethersphere/swarmsat/wire"
)

// tick drives every job this worker tracks for one iteration of the main
// loop: scheduler emission, clause-sharing epoch advancement, limit checks
// and solution detection, then the balancing epoch (spec.md §4).
func (w *Worker) tick(ctx context.Context, now time.Time) {
	w.mu.Lock()
	jobIDs := make([]int32, 0, len(w.jobs))
	for id := range w.jobs {
		jobIDs = append(jobIDs, id)
	}
	w.mu.Unlock()

	for _, jobID := range jobIDs {
		w.mu.Lock()
		e, ok := w.jobs[jobID]
		w.mu.Unlock()
		if !ok {
			continue
		}
		w.tickJob(ctx, jobID, e, now)
	}
	w.maybeRunBalancingEpoch(ctx, now)
}

func (w *Worker) tickJob(ctx context.Context, jobID int32, e *entry, now time.Time) {
	if e.job.State() != jobstate.Active {
		return
	}
	if e.adapter != nil && !e.adapter.Alive() {
		w.concludeJob(ctx, jobID, e, now, jobstate.Result{Revision: e.job.Revision}, jobstate.ReasonSolverLost)
		return
	}
	w.checkLimits(ctx, jobID, e, now)
	if e.job.State() != jobstate.Active {
		return
	}

	demand := e.job.Demand(now, w.cfg.Demand)
	if e.comm != nil {
		e.comm.Reposition(e.tree.IsRoot(), e.tree.IsLeaf(demand))
	}
	w.emitPendingRequests(ctx, e, demand, now)
	w.driveClauseSharing(ctx, jobID, e, now)
	w.checkSolved(ctx, jobID, e, now)
}

// emitPendingRequests asks the Local Scheduler which child slots should be
// (re)requested this tick and sends each: a Directed request goes straight
// to the rank the job's own rank permutation names for that tree index; an
// Undirected one goes to a freshly chosen random rank, starting a new leg
// of its random walk (spec.md §4.5).
func (w *Worker) emitPendingRequests(ctx context.Context, e *entry, demand int, now time.Time) {
	reqs := e.sched.PendingRequests(scheduler.PendingRequestInput{
		JobID:          e.job.JobID,
		Application:    e.job.Application,
		RootRank:       int32(e.job.RootRank),
		RequestingRank: int32(w.Rank()),
		Revision:       e.job.Revision,
		Priority:       e.job.Priority,
		Demand:         demand,
		Volume:         e.job.Volume,
		BalancingEpoch: w.balancingEpoch,
		Tree:           e.tree,
		Now:            now,
		RetryInterval:  w.cfg.RetryInterval,
	})
	for _, req := range reqs {
		target := e.tree.RankForIndex(int(req.RequestedIndex))
		if req.Kind == wire.Undirected {
			target = w.randomOtherRank()
		}
		data, _ := wire.EncodeJobRequest(req)
		w.send(ctx, target, transport.RequestNode, data)
	}
}

// driveClauseSharing advances one step of the anytime gather/distribute
// cycle: starts a fresh epoch when the communicator is idle and willing,
// or hands a completed local export to it once the adapter reports one.
func (w *Worker) driveClauseSharing(ctx context.Context, jobID int32, e *entry, now time.Time) {
	if e.comm == nil || e.adapter == nil {
		return
	}
	if !e.comm.InFlight() {
		if !e.comm.WantsToCommunicate(now, true) {
			return
		}
		_, budget := e.comm.BeginEpoch(now)
		e.comm.SetLiveChildren(childSetFromTree(e.tree))
		if err := e.adapter.CollectClauses(budget); err != nil {
			w.logger.Debug("collect clauses failed", "job", jobID, "err", err)
		}
		return
	}
	if e.adapter.HasCollectedClauses() {
		buf, _, err := e.adapter.GetCollectedClauses()
		if err != nil {
			w.logger.Debug("get collected clauses failed", "job", jobID, "err", err)
			return
		}
		e.comm.SetLocalBuffer(buf)
		w.progressAggregation(ctx, jobID, e)
	}
}

// checkLimits terminates a job whose wallclock/CPU budget has been spent or
// that has been marked interrupted (spec.md §3 EXPANSION), no more often
// than cfg.LimitPeriod.
func (w *Worker) checkLimits(ctx context.Context, jobID int32, e *entry, now time.Time) {
	if !now.After(e.job.LastLimitCheck.Add(w.cfg.LimitPeriod)) {
		return
	}
	e.job.LastLimitCheck = now

	elapsed := now.Sub(e.job.Activation)
	cpu := e.job.CumulativeCPU + elapsed
	overWall := e.job.WallclockLimit > 0 && elapsed > e.job.WallclockLimit
	overCPU := e.job.CPULimit > 0 && cpu > e.job.CPULimit
	if !overWall && !overCPU && !e.job.Interrupted {
		return
	}

	reason := jobstate.ReasonLimitExceeded
	if e.job.Interrupted {
		reason = jobstate.ReasonInterrupted
	}
	w.concludeJob(ctx, jobID, e, now, jobstate.Result{Verdict: jobstate.VerdictUnknown, Revision: e.job.Revision}, reason)
}

// checkSolved asks the adapter whether this revision's solution is ready
// and, if so, concludes the job with it. Any worker along the tree may
// observe this first; concludeJob's own forwarding carries it to the root.
func (w *Worker) checkSolved(ctx context.Context, jobID int32, e *entry, now time.Time) {
	if e.adapter == nil || !e.adapter.Check() {
		return
	}
	verdict, model, err := e.adapter.GetSolution()
	if err != nil {
		w.logger.Debug("solution read failed", "job", jobID, "err", err)
		return
	}
	reason := jobstate.ReasonDoneUnknown
	switch verdict {
	case jobstate.VerdictSAT:
		reason = jobstate.ReasonDoneSAT
	case jobstate.VerdictUNSAT:
		reason = jobstate.ReasonDoneUNSAT
	}
	w.concludeJob(ctx, jobID, e, now, jobstate.Result{Verdict: verdict, Model: model, Revision: e.job.Revision}, reason)
}

// concludeJob moves a job to PAST, frees its adapter and either forwards
// NOTIFY_JOB_DONE toward the root or, already at the root, delivers the
// result to the embedder.
func (w *Worker) concludeJob(ctx context.Context, jobID int32, e *entry, now time.Time, result jobstate.Result, reason jobstate.Reason) {
	if e.adapter != nil {
		_ = e.adapter.SetSolvingState(solverproc.SolvingAborting)
	}
	if err := e.job.Terminate(now, reason); err != nil {
		return
	}
	jobsTerminated.Inc(1)
	e.job.Result = result
	e.tree.ClearChildren()
	w.mu.Lock()
	w.doneJobIDs[jobID] = true
	w.mu.Unlock()
	w.scheduleTeardown(jobID, e)

	data, _ := wire.EncodeJobDone(wire.JobDone{
		JobID:    uint32(jobID),
		Verdict:  uint8(result.Verdict),
		Model:    wire.EncodeModel(result.Model),
		Revision: uint32(result.Revision),
		Reason:   uint8(reason),
	})
	if !e.tree.IsRoot() {
		if parent, ok := e.tree.ParentRank(); ok {
			w.send(ctx, parent, transport.NotifyJobDone, data)
			return
		}
	}
	if w.onDone != nil {
		w.onDone(jobID, result, reason, true)
	}
}
