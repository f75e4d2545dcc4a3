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

	"github.com/ethersphere/swarmsat/clausecomm"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/jobtree"
	"github.com/ethersphere/swarmsat/scheduler"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/transport"
	"github.com/ethersphere/swarmsat/wire"
)

// tickPeriod is how often Run wakes up to drive per-job progress (scheduler
// emission, clause-sharing epoch advancement, limit checks) even with no
// inbound message. It is independent of any single job's own periods.
const tickPeriod = 100 * time.Millisecond

// Run drives the worker's main loop until ctx is canceled: it multiplexes
// inbound messages with a periodic tick that advances every job's
// scheduler, clause communicator and limit checks. Run's loop drives every
// live job; a second goroutine only pumps the Router into a channel, and a
// concluded job's scheduleTeardown goroutine removes its entry from the job
// table under w.mu, matching "cooperative within a worker" from spec.md §5.
func (w *Worker) Run(ctx context.Context) error {
	msgs := make(chan transport.Envelope)
	errs := make(chan error, 1)
	go func() {
		for {
			env, err := w.router.Recv(ctx)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			select {
			case msgs <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case env := <-msgs:
			messagesHandled.Inc(1)
			w.handleEnvelope(ctx, env)
		case now := <-ticker.C:
			w.tick(ctx, now)
		}
	}
}

func (w *Worker) handleEnvelope(ctx context.Context, env transport.Envelope) {
	switch env.Kind {
	case transport.RequestNode, transport.RequestNodeOneshot:
		w.handleRequestNode(ctx, env)
	case transport.OfferAdoption:
		w.handleOfferAdoption(ctx, env)
	case transport.RejectAdoption:
		w.handleRejectAdoption(ctx, env)
	case transport.SendJobDescription:
		w.handleSendJobDescription(ctx, env)
	case transport.GatherClauses:
		w.handleGatherClauses(ctx, env)
	case transport.DistributeClauses:
		w.handleDistributeClauses(ctx, env)
	case transport.NotifyJobDone:
		w.handleNotifyJobDone(ctx, env)
	case transport.QueryVolume:
		w.handleQueryVolume(ctx, env)
	case transport.NotifyVolumeUpdate:
		w.handleNotifyVolumeUpdate(ctx, env)
	default:
		w.logger.Warn("unknown message kind", "kind", env.Kind, "from", env.From)
	}
}

func (w *Worker) send(ctx context.Context, toRank int, kind transport.MessageKind, payload []byte) {
	err := w.router.Send(ctx, toRank, transport.Envelope{Kind: kind, Payload: payload})
	if err != nil {
		w.logger.Debug("send failed", "to", toRank, "kind", kind, "err", err)
	}
}

// handleRequestNode implements the acceptance policy of spec.md §4.5 for
// an inbound REQUEST_NODE/REQUEST_NODE_ONESHOT.
func (w *Worker) handleRequestNode(ctx context.Context, env transport.Envelope) {
	req, err := wire.DecodeJobRequest(env.Payload)
	if err != nil {
		w.logger.Debug("malformed job request", "err", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var current scheduler.CurrentActive
	for _, e := range w.jobs {
		if e.job.State() == jobstate.Active {
			if !current.HasActive || e.job.Priority > current.Priority {
				current = scheduler.CurrentActive{HasActive: true, Priority: e.job.Priority}
			}
		}
	}

	decision := scheduler.Evaluate(req, req.Priority, current, w.balancingEpoch)
	switch decision {
	case scheduler.Accept:
		e, ok := w.getEntry(req.JobID)
		if !ok {
			e = w.newEntry(req.JobID, req.Application, req.Priority)
		}
		if err := e.job.Commit(req); err != nil {
			w.logger.Debug("commit failed, rejecting", "job", req.JobID, "err", err)
			w.rejectRequest(ctx, req)
			return
		}
		e.tree.Update(int(req.RequestedIndex), int(req.RootRank), int(req.RequestingRank))
		e.awaitingDescription = true
		w.send(ctx, int(req.RequestingRank), transport.OfferAdoption, env.Payload)
	default:
		w.rejectRequest(ctx, req)
	}
}

// rejectRequest implements the two rejection paths of spec.md §4.5: a
// Directed request is simply dropped (its own scheduler will retry, next
// time as Undirected); an Undirected one is pushed one more hop along its
// random walk, or dropped once the hop budget is spent.
func (w *Worker) rejectRequest(ctx context.Context, req wire.JobRequest) {
	if req.Kind != wire.Undirected {
		return
	}
	next, ok := scheduler.NextHop(req, w.cfg.HopBudget)
	if !ok {
		return
	}
	data, _ := wire.EncodeJobRequest(next)
	w.send(ctx, w.randomOtherRank(), transport.RequestNode, data)
}

// handleOfferAdoption is received by the requester once a rank accepts a
// REQUEST_NODE for one of its child slots: record the child rank and push
// the job description.
func (w *Worker) handleOfferAdoption(ctx context.Context, env transport.Envelope) {
	req, err := wire.DecodeJobRequest(env.Payload)
	if err != nil {
		return
	}
	w.mu.Lock()
	e, ok := w.getEntry(req.JobID)
	w.mu.Unlock()
	if !ok {
		return
	}

	idx := int(req.RequestedIndex)
	if idx == e.tree.LeftChildIndex() {
		e.tree.SetLeftChildRank(env.From)
	} else if idx == e.tree.RightChildIndex() {
		e.tree.SetRightChildRank(env.From)
	}
	e.sched.NotifySlotFilled(idx, e.tree)

	desc := wire.JobDescription{
		JobID:       uint32(e.job.JobID),
		Revision:    uint32(e.job.Revision),
		TreeIndex:   uint32(idx),
		RootRank:    uint32(e.job.RootRank),
		ParentRank:  uint32(w.router.Rank()),
		Formula:     e.formula,
		Assumptions: e.assumptions,
		Checksum:    e.checksum,
		MaxDemand:   uint32(e.job.MaxDemand),
	}
	data, _ := wire.EncodeJobDescription(desc)
	w.send(ctx, env.From, transport.SendJobDescription, data)
}

// handleRejectAdoption is observational only: the requester's own
// SlotScheduler already re-emits on a timer with an escalating request
// kind (spec.md §4.5), so no forwarding action is needed here.
func (w *Worker) handleRejectAdoption(ctx context.Context, env transport.Envelope) {
	req, err := wire.DecodeJobRequest(env.Payload)
	if err != nil {
		return
	}
	w.logger.Debug("request rejected", "job", req.JobID, "index", req.RequestedIndex, "from", env.From)
}

// handleSendJobDescription activates a COMMITTED job once its formula
// arrives, spawning the Solver Process Adapter.
func (w *Worker) handleSendJobDescription(ctx context.Context, env transport.Envelope) {
	desc, err := wire.DecodeJobDescription(env.Payload)
	if err != nil {
		return
	}
	jobID := int32(desc.JobID)

	w.mu.Lock()
	e, ok := w.getEntry(jobID)
	w.mu.Unlock()
	if !ok || e.job.State() != jobstate.Committed {
		return
	}

	e.tree.Update(int(desc.TreeIndex), int(desc.RootRank), int(desc.ParentRank))
	e.job.MaxDemand = int(desc.MaxDemand)
	e.formula, e.assumptions, e.checksum = desc.Formula, desc.Assumptions, desc.Checksum

	now := time.Now()
	if err := e.job.Start(now); err != nil {
		w.logger.Debug("start failed", "job", jobID, "err", err)
		return
	}
	jobsActivated.Inc(1)

	e.adapter = w.newAdap(jobID)
	if _, err := e.adapter.Run(); err != nil {
		w.logger.Error("solver spawn failed", "job", jobID, "err", err)
		_ = e.job.Terminate(now, jobstate.ReasonSolverLost)
		return
	}
	_ = e.adapter.AppendRevisions([]solverproc.Revision{{
		Index:       int32(desc.Revision),
		Formula:     desc.Formula,
		Assumptions: desc.Assumptions,
	}}, int32(desc.Revision))

	demand := e.job.Demand(now, w.cfg.Demand)
	e.comm = clausecomm.New(w.cfg.ClauseBuf, jobID, e.tree.IsRoot(), e.tree.IsLeaf(demand))
	e.comm.OnActivate(now)
}

// handleGatherClauses merges an inbound child buffer into this worker's
// in-flight aggregation for the job, forwarding or distributing once ready.
func (w *Worker) handleGatherClauses(ctx context.Context, env transport.Envelope) {
	m, err := wire.DecodeGatherMessage(env.Payload)
	if err != nil {
		return
	}
	jobID := int32(m.JobID)
	w.mu.Lock()
	e, ok := w.getEntry(jobID)
	w.mu.Unlock()
	if !ok || e.comm == nil {
		return
	}
	buf, err := wire.DecodeClauseBuffer(m.Buffer, w.cfg.ClauseBuf.WithChecksum)
	if err != nil {
		w.logger.Warn("corrupt gather buffer, dropping", "job", jobID, "err", err)
		return
	}
	e.comm.ReceiveGather(env.From, int32(m.Epoch), buf)
	w.progressAggregation(ctx, jobID, e)
}

// handleDistributeClauses hands a validated merged buffer to this worker's
// solver adapter and fans it out to any live children.
func (w *Worker) handleDistributeClauses(ctx context.Context, env transport.Envelope) {
	m, err := wire.DecodeDistributeMessage(env.Payload)
	if err != nil {
		return
	}
	jobID := int32(m.JobID)
	w.mu.Lock()
	e, ok := w.getEntry(jobID)
	w.mu.Unlock()
	if !ok || e.comm == nil {
		return
	}
	buf, accepted := e.comm.AcceptDistribute(int32(m.Epoch), m.Buffer)
	if !accepted {
		return
	}
	for _, rank := range childSetFromTree(e.tree).Live() {
		w.send(ctx, rank, transport.DistributeClauses, env.Payload)
	}
	if e.adapter != nil {
		keys := wire.OrderedKeys(buf.Buckets, w.cfg.ClauseBuf.MaxLbdPartitionedSize, w.cfg.ClauseBuf.MaxSize, w.cfg.ClauseBuf.MaxLBD)
		checksum := wire.RollingChecksum(buf.Buckets, keys)
		if err := e.adapter.DigestClauses(buf, checksum); err != nil {
			w.logger.Debug("digest failed", "job", jobID, "err", err)
		}
	}
}

// handleNotifyJobDone forwards a conclusion up toward the root, or, at the
// root, delivers it to the embedder via DoneNotifier. env.From is always a
// direct child of this worker in the job's tree (the message only ever
// hops one rank at a time toward the root, spec.md §4 data flow): if this
// worker's own copy of the job is still live, that child just concluded
// independently of us, so drop it from our tree and let the Local
// Scheduler request a replacement (spec.md §4.7 "live children").
func (w *Worker) handleNotifyJobDone(ctx context.Context, env transport.Envelope) {
	m, err := wire.DecodeJobDone(env.Payload)
	if err != nil {
		return
	}
	jobID := int32(m.JobID)
	w.mu.Lock()
	e, ok := w.getEntry(jobID)
	w.mu.Unlock()

	w.doneJobIDs[jobID] = true

	if ok && e.job.State() == jobstate.Active {
		w.dropDeadChild(e, env.From)
	}

	if ok && !e.tree.IsRoot() {
		if parent, has := e.tree.ParentRank(); has {
			w.send(ctx, parent, transport.NotifyJobDone, env.Payload)
			return
		}
	}
	if w.onDone != nil {
		w.onDone(jobID, jobstate.Result{
			Verdict:  jobstate.Verdict(m.Verdict),
			Model:    wire.DecodeModel(m.Model),
			Revision: int32(m.Revision),
		}, jobstate.Reason(m.Reason), true)
	}
}

// dropDeadChild removes fromRank from e's tree, resets that slot's retry
// state so the Local Scheduler starts over at Directed, and refreshes the
// communicator's live-children set so an in-flight gather epoch stops
// waiting on a child that is never going to reply.
func (w *Worker) dropDeadChild(e *entry, fromRank int) {
	var clearedIndex int
	if l, ok := e.tree.LeftChildRank(); ok && l == fromRank {
		clearedIndex = e.tree.LeftChildIndex()
	} else if r, ok := e.tree.RightChildRank(); ok && r == fromRank {
		clearedIndex = e.tree.RightChildIndex()
	} else {
		return
	}
	e.tree.ClearChildRank(fromRank)
	e.sched.NotifySlotFilled(clearedIndex, e.tree)
	if e.comm != nil {
		e.comm.SetLiveChildren(childSetFromTree(e.tree))
	}
}

func childSetFromTree(t *jobtree.Tree) clausecomm.ChildSet {
	var cs clausecomm.ChildSet
	if r, ok := t.LeftChildRank(); ok {
		cs.LeftRank, cs.HasLeft = r, true
	}
	if r, ok := t.RightChildRank(); ok {
		cs.RightRank, cs.HasRight = r, true
	}
	return cs
}
