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

// Package scheduler is the per-worker, per-job Local Scheduler (spec.md
// §4.5): it emits JobRequests for child tree slots the current demand
// warrants but volume hasn't yet filled, and decides whether to accept,
// forward, or drop requests this worker receives.
package scheduler

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethersphere/swarmsat/jobtree"
	"github.com/ethersphere/swarmsat/wire"
)

var (
	requestsDirected   = metrics.GetOrRegisterCounter("scheduler/requests_directed", nil)
	requestsUndirected = metrics.GetOrRegisterCounter("scheduler/requests_undirected", nil)
)

// SlotScheduler tracks, per job, the emission state of its two child
// slots: which mode (directed, then undirected) the next retry should
// use, and when it last tried.
type SlotScheduler struct {
	hopBudget int32

	attempts     [2]int
	lastEmission [2]time.Time

	logger log.Logger
}

const (
	leftSlot = iota
	rightSlot
)

// NewSlotScheduler returns a scheduler for one job's two child slots.
// hopBudget bounds how far an undirected request may be forwarded.
func NewSlotScheduler(jobID int32, hopBudget int32) *SlotScheduler {
	return &SlotScheduler{hopBudget: hopBudget, logger: log.New("scheduler", "job", jobID)}
}

// PendingRequests returns the JobRequests that should be (re)emitted this
// tick: one per child slot that is unset, warranted by both demand and the
// Balancer-assigned volume, not yet out of retries, and whose
// retry interval has elapsed since the last attempt.
func (s *SlotScheduler) PendingRequests(req PendingRequestInput) []wire.JobRequest {
	var out []wire.JobRequest
	if left, ok := s.nextForSlot(leftSlot, req, req.Tree.LeftChildIndex()); ok {
		out = append(out, left)
	}
	if right, ok := s.nextForSlot(rightSlot, req, req.Tree.RightChildIndex()); ok {
		out = append(out, right)
	}
	return out
}

// PendingRequestInput bundles the external context PendingRequests needs,
// avoiding a dependency from scheduler on the full jobstate.Job type.
type PendingRequestInput struct {
	JobID          int32
	Application    int32
	RootRank       int32
	RequestingRank int32
	Revision       int32
	Priority       float64
	Demand         int
	Volume         int
	BalancingEpoch int32
	Tree           *jobtree.Tree
	Now            time.Time
	RetryInterval  time.Duration
}

// effectiveCap is the number of tree slots a job may actually grow into
// this tick: the Local Scheduler never requests a slot demand alone would
// warrant but the Balancer hasn't allotted volume for (spec.md §4.5/§4.6,
// Sum V_j <= N).
func effectiveCap(demand, volume int) int {
	if volume < demand {
		return volume
	}
	return demand
}

func (s *SlotScheduler) nextForSlot(slot int, in PendingRequestInput, childIndex int) (wire.JobRequest, bool) {
	var filled bool
	if slot == leftSlot {
		_, filled = in.Tree.LeftChildRank()
	} else {
		_, filled = in.Tree.RightChildRank()
	}
	if filled {
		s.attempts[slot] = 0
		return wire.JobRequest{}, false
	}
	if childIndex >= effectiveCap(in.Demand, in.Volume) {
		return wire.JobRequest{}, false
	}
	if s.attempts[slot] > int(s.hopBudget)+1 {
		// Give up retrying this slot once we've exhausted as many
		// escalations as the undirected hop budget allows; the count is
		// reset only once the slot is filled or NotifySlotFilled names it.
		return wire.JobRequest{}, false
	}
	if !in.Now.After(s.lastEmission[slot].Add(in.RetryInterval)) && !s.lastEmission[slot].IsZero() {
		return wire.JobRequest{}, false
	}

	req := wire.JobRequest{
		JobID:          in.JobID,
		Application:    in.Application,
		RootRank:       in.RootRank,
		RequestingRank: in.RequestingRank,
		RequestedIndex: int32(childIndex),
		EmissionTime:   in.Now,
		BalancingEpoch: in.BalancingEpoch,
		Revision:       in.Revision,
		Priority:       in.Priority,
	}
	if s.attempts[slot] == 0 {
		req.Kind = wire.Directed
		requestsDirected.Inc(1)
	} else {
		req.Kind = wire.Undirected
		req.Hops = 0
		requestsUndirected.Inc(1)
	}

	s.attempts[slot]++
	s.lastEmission[slot] = in.Now
	s.logger.Debug("emitting job request", "index", childIndex, "kind", req.Kind, "attempt", s.attempts[slot])
	return req, true
}

// NotifySlotFilled resets a slot's retry state once a commitment for it is
// accepted, so a later loss of that slot starts retrying from Directed
// again.
func (s *SlotScheduler) NotifySlotFilled(childIndex int, tree *jobtree.Tree) {
	if childIndex == tree.LeftChildIndex() {
		s.attempts[leftSlot] = 0
	} else if childIndex == tree.RightChildIndex() {
		s.attempts[rightSlot] = 0
	}
}

// NextHop advances an undirected request's hop budget. It reports false
// (no further forwarding) for directed requests or once the hop budget is
// exhausted.
func NextHop(req wire.JobRequest, maxHops int32) (wire.JobRequest, bool) {
	if req.Kind == wire.Directed {
		return req, false
	}
	if req.Hops >= maxHops {
		return req, false
	}
	req.Hops++
	return req, true
}
