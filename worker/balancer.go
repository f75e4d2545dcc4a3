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
	"math"
	"time"

	"github.com/ethersphere/swarmsat/balancer"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/transport"
	"github.com/ethersphere/swarmsat/wire"
)

// maybeRunBalancingEpoch drives this worker's half of spec.md §4.6: on its
// own BalancingEpochPeriod cadence it reports its local jobs' demand and
// priority to cfg.CoordinatorRank; the coordinator, on the same cadence,
// runs balancer.Compute over whatever it has collected since its last run
// and broadcasts the result. The two cadences are not synchronized across
// ranks, matching the anytime, no-barrier character of the rest of the
// system.
func (w *Worker) maybeRunBalancingEpoch(ctx context.Context, now time.Time) {
	if w.lastBalanceAt.IsZero() {
		w.lastBalanceAt = now
	} else if now.After(w.lastBalanceAt.Add(w.cfg.BalancingEpochPeriod)) {
		w.lastBalanceAt = now
		w.balancingEpoch++
		w.reportVolumeContributions(ctx, now)
	}

	if w.Rank() != w.cfg.CoordinatorRank {
		return
	}
	if w.lastComputeAt.IsZero() {
		w.lastComputeAt = now
		return
	}
	if now.After(w.lastComputeAt.Add(w.cfg.BalancingEpochPeriod)) {
		w.lastComputeAt = now
		w.computeAndBroadcast(ctx)
	}
}

func (w *Worker) reportVolumeContributions(ctx context.Context, now time.Time) {
	w.mu.Lock()
	contribs := w.localContributions(now)
	w.mu.Unlock()
	if len(contribs) == 0 {
		return
	}
	if w.Rank() == w.cfg.CoordinatorRank {
		w.recordContributions(contribs)
		return
	}
	msg := wire.QueryVolumeMessage{FromRank: uint32(w.Rank()), Epoch: uint32(w.balancingEpoch), Contributions: contribs}
	data, _ := wire.EncodeQueryVolume(msg)
	w.send(ctx, w.cfg.CoordinatorRank, transport.QueryVolume, data)
}

// localContributions reports every job this worker currently holds a slot
// for, whatever its lifecycle state short of INACTIVE — a COMMITTED job is
// as real a claim on the cluster's ranks as an ACTIVE one.
func (w *Worker) localContributions(now time.Time) []wire.VolumeContribution {
	var out []wire.VolumeContribution
	for jobID, e := range w.jobs {
		if e.job.State() == jobstate.Inactive {
			continue
		}
		out = append(out, wire.VolumeContribution{
			JobID:     uint32(jobID),
			Demand:    uint32(e.job.Demand(now, w.cfg.Demand)),
			Priority:  math.Float64bits(e.job.Priority),
			Committed: true,
		})
	}
	return out
}

func (w *Worker) handleQueryVolume(ctx context.Context, env transport.Envelope) {
	m, err := wire.DecodeQueryVolume(env.Payload)
	if err != nil {
		return
	}
	w.recordContributions(m.Contributions)
}

func (w *Worker) recordContributions(contribs []wire.VolumeContribution) {
	for _, c := range contribs {
		jobID := int32(c.JobID)
		w.pendingContributions[jobID] = append(w.pendingContributions[jobID], contribFromRank{
			demand:   int(c.Demand),
			priority: math.Float64frombits(c.Priority),
			commit:   c.Committed,
		})
	}
}

// computeAndBroadcast runs the Balancer over every contribution collected
// since the last run and pushes the result to every rank (including
// itself). balancer.Compute already dedups by job id, taking the maximum
// reported demand, so contributions need no merging here.
func (w *Worker) computeAndBroadcast(ctx context.Context) {
	if len(w.pendingContributions) == 0 {
		return
	}
	var contribs []balancer.Contribution
	for jobID, reports := range w.pendingContributions {
		for _, r := range reports {
			contribs = append(contribs, balancer.Contribution{JobID: jobID, Demand: r.demand, Priority: r.priority, Committed: r.commit})
		}
	}
	w.pendingContributions = map[int32][]contribFromRank{}

	assignments := balancer.Compute(w.cfg.N, contribs)
	wireAssignments := make([]wire.VolumeAssignment, 0, len(assignments))
	for _, a := range assignments {
		wireAssignments = append(wireAssignments, wire.VolumeAssignment{JobID: uint32(a.JobID), Volume: uint32(a.Volume)})
	}
	msg := wire.NotifyVolumeUpdateMessage{Epoch: uint32(w.balancingEpoch), Assignments: wireAssignments}
	data, _ := wire.EncodeNotifyVolumeUpdate(msg)

	for rank := 0; rank < w.cfg.N; rank++ {
		if rank == w.Rank() {
			w.applyVolumeUpdate(msg)
			continue
		}
		w.send(ctx, rank, transport.NotifyVolumeUpdate, data)
	}
}

func (w *Worker) handleNotifyVolumeUpdate(ctx context.Context, env transport.Envelope) {
	m, err := wire.DecodeNotifyVolumeUpdate(env.Payload)
	if err != nil {
		return
	}
	w.applyVolumeUpdate(m)
}

func (w *Worker) applyVolumeUpdate(m wire.NotifyVolumeUpdateMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range m.Assignments {
		if e, ok := w.jobs[int32(a.JobID)]; ok {
			e.lastVolume = int(a.Volume)
			e.job.Volume = int(a.Volume)
		}
	}
}
