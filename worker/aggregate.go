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

	"github.com/ethersphere/swarmsat/transport"
	"github.com/ethersphere/swarmsat/wire"
)

// progressAggregation advances a job's clause-sharing epoch once its
// Communicator reports every expected input has arrived: an inner node
// forwards the merge up, the root digests it locally and fans it back down
// (spec.md §4.7). Called both from a direct GATHER_CLAUSES arrival and
// after this worker's own solver export completes.
func (w *Worker) progressAggregation(ctx context.Context, jobID int32, e *entry) {
	if e.comm == nil || !e.comm.ReadyToAggregate() {
		return
	}
	merged := e.comm.Aggregate()

	if e.tree.IsRoot() {
		w.distributeFromRoot(ctx, jobID, e, merged)
		return
	}
	parent, ok := e.tree.ParentRank()
	if !ok {
		return
	}
	data, _ := wire.EncodeGatherMessage(wire.GatherMessage{
		JobID:  uint32(jobID),
		Epoch:  uint32(e.comm.Epoch()),
		Buffer: e.comm.Encode(merged),
	})
	w.send(ctx, parent, transport.GatherClauses, data)
}

// distributeFromRoot digests the epoch's merged buffer into the root's own
// adapter and fans it out to every live child.
func (w *Worker) distributeFromRoot(ctx context.Context, jobID int32, e *entry, merged *wire.ClauseBuffer) {
	encoded := e.comm.Encode(merged)
	msg := wire.DistributeMessage{JobID: uint32(jobID), Epoch: uint32(e.comm.Epoch()), Buffer: encoded}
	data, _ := wire.EncodeDistributeMessage(msg)
	for _, rank := range childSetFromTree(e.tree).Live() {
		w.send(ctx, rank, transport.DistributeClauses, data)
	}
	if e.adapter != nil {
		keys := wire.OrderedKeys(merged.Buckets, w.cfg.ClauseBuf.MaxLbdPartitionedSize, w.cfg.ClauseBuf.MaxSize, w.cfg.ClauseBuf.MaxLBD)
		checksum := wire.RollingChecksum(merged.Buckets, keys)
		if err := e.adapter.DigestClauses(merged, checksum); err != nil {
			w.logger.Debug("root digest failed", "job", jobID, "err", err)
		}
	}
	e.comm.FinishRootDistribute()
}
