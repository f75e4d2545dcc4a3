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
	"testing"
	"time"

	"github.com/ethersphere/swarmsat/wire"
)

func unitBuffer(lit int32) *wire.ClauseBuffer {
	return &wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{
		{Size: 1, Partitioned: true, LBD: 1}: {{Literals: []int32{lit}, LBD: 1}},
	}}
}

// TestTwoLeavesRootDistribution is spec.md §8 scenario 4: four workers,
// two leaves producing unit clauses [7] and [-7]; the root's distribution
// must contain both units and every receiver's recomputed checksum must
// match.
func TestTwoLeavesRootDistribution(t *testing.T) {
	cfg := DefaultConfig(time.Second)

	leafA := New(cfg, 1, false, true)
	leafA.SetLiveChildren(ChildSet{})
	leafA.BeginEpoch(time.Now())
	leafA.SetLocalBuffer(unitBuffer(7))
	if !leafA.ReadyToAggregate() {
		t.Fatal("leaf A should be ready with only its own buffer")
	}
	outA := leafA.Aggregate()

	leafB := New(cfg, 1, false, true)
	leafB.SetLiveChildren(ChildSet{})
	leafB.BeginEpoch(time.Now())
	leafB.SetLocalBuffer(unitBuffer(-7))
	outB := leafB.Aggregate()

	root := New(cfg, 1, true, false)
	root.SetLiveChildren(ChildSet{LeftRank: 1, HasLeft: true, RightRank: 2, HasRight: true})
	epoch, _ := root.BeginEpoch(time.Now())
	root.SetLocalBuffer(&wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{}})
	root.ReceiveGather(1, epoch, outA)
	root.ReceiveGather(2, epoch, outB)
	if !root.ReadyToAggregate() {
		t.Fatal("root should be ready once both children report")
	}
	merged := root.Aggregate()

	if merged.NumClauses() != 2 {
		t.Fatalf("merged clause count = %d, want 2", merged.NumClauses())
	}
	key := wire.BucketKey{Size: 1, Partitioned: true, LBD: 1}
	lits := map[int32]bool{}
	for _, cl := range merged.Buckets[key] {
		lits[cl.Literals[0]] = true
	}
	if !lits[7] || !lits[-7] {
		t.Fatalf("merged buffer missing a unit clause: %v", merged.Buckets[key])
	}

	// Every receiver recomputes the same checksum on decode.
	wireBytes := root.Encode(merged)
	for i := 0; i < 3; i++ {
		decoded, ok := root.AcceptDistribute(epoch, wireBytes)
		if !ok {
			t.Fatalf("receiver %d: distribute rejected", i)
		}
		if decoded.NumClauses() != 2 {
			t.Fatalf("receiver %d: decoded %d clauses, want 2", i, decoded.NumClauses())
		}
		root.ph = distributed // re-open for the next simulated receiver
	}
}

func TestAcceptDistributeRejectsStaleEpoch(t *testing.T) {
	cfg := DefaultConfig(time.Second)
	c := New(cfg, 1, false, false)
	c.epoch = 5
	if _, ok := c.AcceptDistribute(4, nil); ok {
		t.Fatal("stale epoch must be rejected")
	}
}

func TestAcceptDistributeRejectsCorruptBuffer(t *testing.T) {
	cfg := DefaultConfig(time.Second)
	c := New(cfg, 1, false, false)
	c.epoch = 1
	buf := unitBuffer(3)
	data := c.Encode(buf)
	data[len(data)-1] ^= 0xff // corrupt a literal byte
	if _, ok := c.AcceptDistribute(1, data); ok {
		t.Fatal("corrupt buffer must be rejected")
	}
}

func TestMergeBuffersGrowthRuleTruncates(t *testing.T) {
	cfg := DefaultConfig(time.Second)
	cfg.Alpha = 1
	cfg.MaxBudget = 0 // disabled, rely on alpha*sum only

	big := &wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{
		{Size: 2, Partitioned: true, LBD: 1}: {
			{Literals: []int32{1, 2}, LBD: 1},
			{Literals: []int32{3, 4}, LBD: 1},
			{Literals: []int32{5, 6}, LBD: 1},
		},
	}}
	merged := MergeBuffers([]*wire.ClauseBuffer{big}, cfg)
	// inSize = 6 ints, alpha=1 => budget 6, exactly fits all three clauses.
	if merged.NumClauses() != 3 {
		t.Fatalf("expected no truncation at alpha=1, got %d clauses", merged.NumClauses())
	}

	cfg.Alpha = 0.5
	merged = MergeBuffers([]*wire.ClauseBuffer{big}, cfg)
	if merged.NumClauses() >= 3 {
		t.Fatalf("expected truncation at alpha=0.5, got %d clauses", merged.NumClauses())
	}
}

func TestWantsToCommunicateLeafTiming(t *testing.T) {
	cfg := DefaultConfig(10 * time.Second)
	c := New(cfg, 1, false, true)
	now := time.Now()
	c.OnActivate(now)

	if c.WantsToCommunicate(now, true) {
		t.Fatal("leaf should not emit before half a period has elapsed")
	}
	if !c.WantsToCommunicate(now.Add(6*time.Second), true) {
		t.Fatal("leaf should be willing to emit after half a period")
	}

	c.BeginEpoch(now.Add(6 * time.Second))
	c.ph = idle
	if c.WantsToCommunicate(now.Add(7*time.Second), true) {
		t.Fatal("leaf should not re-emit within one period of its last emission")
	}
	if !c.WantsToCommunicate(now.Add(17*time.Second), true) {
		t.Fatal("leaf should be willing to emit again after a full period")
	}
}

func TestWantsToCommunicateInnerNodeNoLeafGuard(t *testing.T) {
	cfg := DefaultConfig(10 * time.Second)
	c := New(cfg, 1, false, false)
	now := time.Now()
	c.OnActivate(now)
	if !c.WantsToCommunicate(now, true) {
		t.Fatal("inner node has no half-period activation guard")
	}
}
