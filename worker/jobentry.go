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
	"github.com/ethersphere/swarmsat/clausecomm"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/jobtree"
	"github.com/ethersphere/swarmsat/scheduler"
	"github.com/ethersphere/swarmsat/solverproc"
)

// entry is everything a Worker tracks for one job it participates in.
type entry struct {
	job     *jobstate.Job
	tree    *jobtree.Tree
	sched   *scheduler.SlotScheduler
	comm    *clausecomm.Communicator
	adapter solverproc.Adapter

	// formula/assumptions/checksum are this worker's copy of the job's
	// current-revision description, carried so a SEND_JOB_DESCRIPTION
	// can be reissued to a newly accepted child without asking the
	// adapter (which holds it in shared memory, not addressable here).
	formula     []byte
	assumptions []byte
	checksum    uint64

	// lastVolume is the most recently applied Balancer assignment, used
	// to detect growth (emit requests) vs. shrink (suspend children).
	lastVolume int

	// awaitingDescription is set once this worker has committed to a
	// slot but has not yet received SEND_JOB_DESCRIPTION.
	awaitingDescription bool
}
