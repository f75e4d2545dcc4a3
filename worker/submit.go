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

	"github.com/ethersphere/swarmsat/clausecomm"
	"github.com/ethersphere/swarmsat/ingest"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/wire"
)

// SubmitRoot activates jobID directly as this worker's root, bypassing the
// REQUEST_NODE/OFFER_ADOPTION handshake a non-root slot would go through:
// job ingress (spec.md §6 "Job ingress JSON") hands a formula straight to
// the rank that will host tree index 0, so there is no commitment to
// negotiate. desc carries the ingress document's limits/dependencies;
// formula/assumptions are the revision-1 payload.
func (w *Worker) SubmitRoot(jobID, application int32, desc ingest.Description, formula, assumptions []byte, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.getEntry(jobID)
	if !ok {
		e = w.newEntry(jobID, application, desc.Priority())
	}
	ingest.Seed(e.job, desc, now)

	self := int32(w.Rank())
	req := wire.JobRequest{
		JobID:          jobID,
		Application:    application,
		RootRank:       self,
		RequestingRank: self,
		RequestedIndex: 0,
		EmissionTime:   now,
		BalancingEpoch: w.balancingEpoch,
		Kind:           wire.Directed,
		Revision:       1,
		Priority:       desc.Priority(),
	}
	if err := e.job.Commit(req); err != nil {
		return err
	}
	e.tree.Update(0, int(self), int(self))
	if err := e.job.Start(now); err != nil {
		return err
	}
	jobsActivated.Inc(1)

	e.adapter = w.newAdap(jobID)
	if _, err := e.adapter.Run(); err != nil {
		_ = e.job.Terminate(now, jobstate.ReasonSolverLost)
		return err
	}
	e.formula, e.assumptions = formula, assumptions
	e.checksum = wire.FormulaChecksum(formula, assumptions)
	if err := e.adapter.AppendRevisions([]solverproc.Revision{{
		Index:       1,
		Formula:     formula,
		Assumptions: assumptions,
	}}, 1); err != nil {
		return err
	}

	demand := e.job.Demand(now, w.cfg.Demand)
	e.comm = clausecomm.New(w.cfg.ClauseBuf, jobID, true, e.tree.IsLeaf(demand))
	e.comm.OnActivate(now)
	return nil
}
