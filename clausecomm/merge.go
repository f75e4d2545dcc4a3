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

package clausecomm

import (
	"github.com/ethersphere/swarmsat/wire"
)

// MergeBuffers combines several clause buffers bucket-wise (duplicate
// clauses across buffers are not deduplicated: SAT semantics tolerate
// duplicate learned clauses, and deduplication would cost an extra
// O(n log n) pass over every merge for no correctness benefit, per
// spec.md's Non-goals) and truncates the result to the growth-rule budget:
// outSize = min(MaxBudget, Alpha * sum(inSizes)), measured in literal-plus-
// header ints, per spec.md §4.7. Clauses are kept in ascending canonical
// bucket order (smallest, lowest-LBD first) so that truncation always
// drops the least valuable (highest size/LBD) clauses first.
func MergeBuffers(bufs []*wire.ClauseBuffer, cfg Config) *wire.ClauseBuffer {
	inSize := 0
	for _, b := range bufs {
		inSize += bufferCost(b)
	}
	budget := int(float64(inSize) * cfg.Alpha)
	if cfg.MaxBudget > 0 && budget > int(cfg.MaxBudget) {
		budget = int(cfg.MaxBudget)
	}

	merged := map[wire.BucketKey][]wire.Clause{}
	for _, b := range bufs {
		if b == nil {
			continue
		}
		for key, clauses := range b.Buckets {
			merged[key] = append(merged[key], clauses...)
		}
	}

	out := &wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{}}
	order := wire.OrderedKeys(merged, cfg.MaxLbdPartitionedSize, cfg.MaxSize, cfg.MaxLBD)
	spent := 0
	for _, key := range order {
		for _, cl := range merged[key] {
			cost := clauseCost(key, cl)
			if spent+cost > budget {
				return out
			}
			out.Buckets[key] = append(out.Buckets[key], cl)
			spent += cost
		}
	}
	return out
}

// bufferCost estimates a buffer's size in ints, for the growth-rule input
// sum: each clause costs its literal count, plus one explicit LBD int when
// its bucket isn't LBD-partitioned.
func bufferCost(b *wire.ClauseBuffer) int {
	if b == nil {
		return 0
	}
	cost := 0
	for key, clauses := range b.Buckets {
		for _, cl := range clauses {
			cost += int(clauseCost(key, cl))
		}
	}
	return cost
}

func clauseCost(key wire.BucketKey, cl wire.Clause) int {
	if key.Partitioned {
		return len(cl.Literals)
	}
	return 1 + len(cl.Literals)
}
