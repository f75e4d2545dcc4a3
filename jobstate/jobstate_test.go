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

package jobstate

import (
	"testing"
	"time"

	"github.com/ethersphere/swarmsat/wire"
)

func TestLifecyclePath(t *testing.T) {
	j := New(1, 0, 1.0)
	if j.State() != Inactive {
		t.Fatalf("new job should be INACTIVE, got %s", j.State())
	}
	if err := j.Commit(wire.JobRequest{RequestedIndex: 3, RootRank: 0}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if j.State() != Committed {
		t.Fatalf("state after commit = %s, want COMMITTED", j.State())
	}
	now := time.Now()
	if err := j.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if j.State() != Active {
		t.Fatalf("state after start = %s, want ACTIVE", j.State())
	}
	if err := j.Suspend(5 * time.Second); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if j.State() != Suspended {
		t.Fatalf("state after suspend = %s, want SUSPENDED", j.State())
	}
	if j.LeftChildRank != -1 || j.RightChildRank != -1 {
		t.Fatalf("suspend should clear child ranks")
	}
	if err := j.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := j.Terminate(now.Add(time.Minute), ReasonDoneSAT); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if j.State() != Past {
		t.Fatalf("state after terminate = %s, want PAST", j.State())
	}
	if err := j.MarkDestructible(); err != nil {
		t.Fatalf("mark destructible: %v", err)
	}
	if j.State() != Destructible {
		t.Fatalf("state after destruct = %s, want DESTRUCTIBLE", j.State())
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	j := New(1, 0, 1.0)
	if err := j.Start(time.Now()); err == nil {
		t.Fatalf("start from INACTIVE should fail")
	}
	if err := j.Suspend(0); err == nil {
		t.Fatalf("suspend from INACTIVE should fail")
	}
	if err := j.Terminate(time.Now(), ReasonNone); err == nil {
		t.Fatalf("terminate from INACTIVE should fail")
	}
}

func TestDemandZeroForUncommittedInactiveJob(t *testing.T) {
	j := New(1, 0, 1.0)
	d := j.Demand(time.Now(), DemandParams{Communicator: 8})
	if d != 0 {
		t.Fatalf("demand for an uncommitted inactive job should be 0, got %d", d)
	}
}

func TestDemandOneWhenCommitmentPending(t *testing.T) {
	j := New(1, 0, 1.0)
	if err := j.Commit(wire.JobRequest{}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	d := j.Demand(time.Now(), DemandParams{Communicator: 8})
	if d != 1 {
		t.Fatalf("demand for a committed-but-inactive job should be 1, got %d", d)
	}
}

func TestDemandImmediateGrowthWhenPeriodNonPositive(t *testing.T) {
	j := New(1, 0, 1.0)
	j.Commit(wire.JobRequest{})
	j.Start(time.Now())
	d := j.Demand(time.Now(), DemandParams{Communicator: 4, GrowthPeriod: 0})
	if d != 4 {
		t.Fatalf("demand with g<=0 should equal communicator size, got %d", d)
	}
}

func TestDemandMonotoneNonDecreasingUntilCap(t *testing.T) {
	j := New(1, 0, 1.0)
	j.Commit(wire.JobRequest{})
	start := time.Now()
	j.Start(start)
	params := DemandParams{Communicator: 64, GrowthPeriod: time.Second, Mode: DiscreteGrowth}
	prev := j.Demand(start, params)
	for s := 1; s <= 10; s++ {
		cur := j.Demand(start.Add(time.Duration(s)*time.Second), params)
		if cur < prev {
			t.Fatalf("demand decreased at t=%ds: %d -> %d", s, prev, cur)
		}
		prev = cur
	}
	if prev > 64 {
		t.Fatalf("demand exceeded communicator cap: %d", prev)
	}
}

func TestDemandClampedByMaxDemand(t *testing.T) {
	j := New(1, 0, 1.0)
	j.MaxDemand = 3
	j.Commit(wire.JobRequest{})
	start := time.Now()
	j.Start(start)
	params := DemandParams{Communicator: 64, GrowthPeriod: time.Second, Mode: DiscreteGrowth}
	d := j.Demand(start.Add(10*time.Second), params)
	if d > 3 {
		t.Fatalf("demand %d exceeded per-job max demand of 3", d)
	}
}

func TestDemandZeroWhileSuspended(t *testing.T) {
	j := New(1, 0, 1.0)
	j.Commit(wire.JobRequest{})
	start := time.Now()
	j.Start(start)
	params := DemandParams{Communicator: 64, GrowthPeriod: time.Second, Mode: DiscreteGrowth}
	if err := j.Suspend(start.Add(10 * time.Second).Sub(start)); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	d := j.Demand(start.Add(10*time.Second), params)
	if d != 0 {
		t.Fatalf("a SUSPENDED job is not ACTIVE and has no pending commitment, demand should be 0, got %d", d)
	}
}

func TestDemandRecurrenceDoubling(t *testing.T) {
	j := New(1, 0, 1.0)
	j.Commit(wire.JobRequest{})
	start := time.Now()
	j.Start(start)
	params := DemandParams{Communicator: 1000, GrowthPeriod: time.Second, Mode: DiscreteGrowth}
	d0 := j.Demand(start, params)
	d1 := j.Demand(start.Add(time.Second), params)
	if d0 != 1 {
		t.Fatalf("d(0) = %d, want 1", d0)
	}
	if d1 != 2*d0+1 {
		t.Fatalf("d(g) = %d, want 2*d(0)+1 = %d", d1, 2*d0+1)
	}
}

func TestTemperatureStartsAtOneAndDecreases(t *testing.T) {
	t0 := Temperature(0)
	if t0 <= 0.99 || t0 > 1.0 {
		t.Fatalf("temperature at age 0 should be close to 1.0, got %v", t0)
	}
	var prev float64 = 2
	for age := 0.0; age < 2000; age += 50 {
		cur := Temperature(age)
		if cur >= prev {
			t.Fatalf("temperature must be strictly decreasing: age %v got %v >= prev %v", age, cur, prev)
		}
		prev = cur
	}
}

func TestTemperatureTailStaysAboveZeroForReasonableAges(t *testing.T) {
	v := Temperature(10000)
	if v <= 0 {
		t.Fatalf("temperature should remain positive for realistic job ages, got %v", v)
	}
}

func TestReadyChecksPrecursorAndDependencies(t *testing.T) {
	j := New(2, 0, 1.0)
	precursor := int32(1)
	j.Precursor = &precursor
	j.Dependencies = []int32{3, 4}

	done := map[int32]bool{1: false, 3: true, 4: true}
	lookup := func(id int32) bool { return done[id] }
	if j.Ready(lookup) {
		t.Fatalf("job should not be ready while its precursor is unfinished")
	}
	done[1] = true
	if !j.Ready(lookup) {
		t.Fatalf("job should be ready once precursor and dependencies are done")
	}
}
