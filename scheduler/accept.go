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

package scheduler

import "github.com/ethersphere/swarmsat/wire"

// Decision is the outcome of evaluating an incoming JobRequest.
type Decision int

const (
	Accept Decision = iota
	RejectForward
	RejectDrop
)

// CurrentActive describes the worker's currently ACTIVE job, if any, for
// the purpose of the acceptance policy below.
type CurrentActive struct {
	HasActive bool
	Priority  float64
}

// Evaluate applies the acceptance policy from spec.md §4.5: accept iff the
// worker has no ACTIVE job with higher priority than this request and the
// request's balancing epoch is not stale (older than currentEpoch). On
// rejection, an undirected request is forwarded, a directed one is
// dropped. requestPriority is the priority of the job named by req; the
// worker passes the request's own wire-carried req.Priority.
func Evaluate(req wire.JobRequest, requestPriority float64, current CurrentActive, currentEpoch int32) Decision {
	stale := req.BalancingEpoch < currentEpoch
	if stale {
		return rejection(req)
	}
	if current.HasActive && current.Priority > requestPriority {
		return rejection(req)
	}
	return Accept
}

func rejection(req wire.JobRequest) Decision {
	if req.Kind == wire.Undirected {
		return RejectForward
	}
	return RejectDrop
}

// Candidate pairs a JobRequest with the priority of the job it names, for
// ResolveTie to compare requests that target the same (jobId, slot) at the
// same epoch from different senders.
type Candidate struct {
	Request  wire.JobRequest
	Priority float64
}

// ResolveTie picks the winner among simultaneous requests for the same
// slot, per spec.md §4.5: lower balancing epoch loses; on equal epochs,
// higher priority wins; on equal priorities, lower job id wins. Panics if
// candidates is empty; callers should not invoke it otherwise.
func ResolveTie(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.Request.BalancingEpoch != best.Request.BalancingEpoch:
			if c.Request.BalancingEpoch > best.Request.BalancingEpoch {
				best = c
			}
		case c.Priority != best.Priority:
			if c.Priority > best.Priority {
				best = c
			}
		default:
			if c.Request.JobID < best.Request.JobID {
				best = c
			}
		}
	}
	return best
}
