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

package solverproc

import (
	"testing"

	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/wire"
)

const (
	testMaxLbdPartitioned = 8
	testMaxSize           = 32
	testMaxLBD            = 8
)

func newTestSimAdapter() *SimAdapter {
	return NewSimAdapter(NewMemSegmentManager(), "swarmsat", testMaxLbdPartitioned, testMaxSize, testMaxLBD)
}

func TestSimAdapterRunAndInit(t *testing.T) {
	a := newTestSimAdapter()
	pid, err := a.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if pid == 0 {
		t.Fatalf("expected non-zero pid")
	}
	if a.IsFullyInitialized() {
		t.Fatalf("should not be initialized before SimulateInit")
	}
	a.SimulateInit()
	if !a.IsFullyInitialized() {
		t.Fatalf("should be initialized after SimulateInit")
	}
}

func TestSimAdapterRevisionBufferedUntilInit(t *testing.T) {
	a := newTestSimAdapter()
	a.Run()
	if err := a.AppendRevisions([]Revision{{Index: 1, Formula: []byte("p cnf 1 1\n1 0\n")}}, 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if a.cb.revision.Load() != 0 {
		t.Fatalf("revision should not publish before init, got %d", a.cb.revision.Load())
	}
	a.SimulateInit()
	if a.cb.revision.Load() != 1 {
		t.Fatalf("revision should publish once init completes, got %d", a.cb.revision.Load())
	}
}

func TestSimAdapterCollectAndGetClauses(t *testing.T) {
	a := newTestSimAdapter()
	a.Run()
	if err := a.CollectClauses(1500); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if a.HasCollectedClauses() {
		t.Fatalf("should not have collected clauses before SimulateExport")
	}
	buf := &wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{
		{Size: 1, Partitioned: true, LBD: 1}: {{Literals: []int32{7}, LBD: 1}},
	}}
	keys := wire.OrderedKeys(buf.Buckets, testMaxLbdPartitioned, testMaxSize, testMaxLBD)
	checksum := wire.RollingChecksum(buf.Buckets, keys)
	a.SimulateExport(buf, checksum)

	if !a.HasCollectedClauses() {
		t.Fatalf("expected collected clauses after SimulateExport")
	}
	got, gotChecksum, err := a.GetCollectedClauses()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NumClauses() != 1 || gotChecksum != checksum {
		t.Fatalf("unexpected collected buffer: %+v checksum %d", got, gotChecksum)
	}
	if a.HasCollectedClauses() {
		t.Fatalf("collected clauses should be cleared after GetCollectedClauses")
	}
}

func TestSimAdapterDigestOverrunDropped(t *testing.T) {
	a := newTestSimAdapter()
	a.Run()
	buf := &wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{
		{Size: 1, Partitioned: true, LBD: 1}: {{Literals: []int32{1}, LBD: 1}},
	}}
	keys := wire.OrderedKeys(buf.Buckets, testMaxLbdPartitioned, testMaxSize, testMaxLBD)
	checksum := wire.RollingChecksum(buf.Buckets, keys)

	if err := a.DigestClauses(buf, checksum); err != nil {
		t.Fatalf("first digest: %v", err)
	}
	if err := a.DigestClauses(buf, checksum); err != ErrDigestInFlight {
		t.Fatalf("second digest while first pending should be dropped, got %v", err)
	}
}

func TestSimAdapterDigestChecksumMismatchFatal(t *testing.T) {
	a := newTestSimAdapter()
	a.Run()
	buf := &wire.ClauseBuffer{Buckets: map[wire.BucketKey][]wire.Clause{
		{Size: 1, Partitioned: true, LBD: 1}: {{Literals: []int32{1}, LBD: 1}},
	}}
	if err := a.DigestClauses(buf, 0xdeadbeef); err != ErrChecksumMismatch {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
	// The adapter is fatally broken: it stops delivering clauses.
	if err := a.DigestClauses(buf, 0xdeadbeef); err != ErrChecksumMismatch {
		t.Fatalf("adapter should remain fatal after a checksum mismatch, got %v", err)
	}
}

// TestSolverDeathDuringActive covers spec scenario 5: the child is killed
// mid-solve; the adapter surfaces it via Alive() so the caller can
// terminate the job locally.
func TestSolverDeathDuringActive(t *testing.T) {
	a := newTestSimAdapter()
	a.Run()
	if !a.Alive() {
		t.Fatalf("adapter should be alive after Run")
	}
	a.SimulateDeath()
	if a.Alive() {
		t.Fatalf("adapter should report not alive after SimulateDeath")
	}
}

func TestFreeSharedMemoryReleasesSegments(t *testing.T) {
	segMgr := NewMemSegmentManager()
	a := NewSimAdapter(segMgr, "swarmsat", testMaxLbdPartitioned, testMaxSize, testMaxLBD)
	a.Run()
	a.AppendRevisions([]Revision{{Index: 0, Formula: []byte("p cnf 0 0\n")}}, 0)
	if names := segMgr.List("swarmsat"); len(names) == 0 {
		t.Fatalf("expected segments to exist after AppendRevisions")
	}
	if err := a.FreeSharedMemory(); err != nil {
		t.Fatalf("free: %v", err)
	}
	if names := segMgr.List("swarmsat"); len(names) != 0 {
		t.Fatalf("expected all segments released, got %v", names)
	}
}

// TestIncrementalRevisionsPublishOnlyAfterResume covers spec scenario 6:
// appendRevisions at r=1 while a revision transition is in flight (the
// doStartNextRevision flag stands in for the suspended window) leaves
// revision 0 published; once the transition clears, check() publishes
// revision 1, and it only reports a solution once solutionRevision matches
// the now-current revision.
func TestIncrementalRevisionsPublishOnlyAfterResume(t *testing.T) {
	a := newTestSimAdapter()
	a.Run()
	a.SimulateInit()
	a.AppendRevisions([]Revision{{Index: 0, Formula: []byte("p cnf 1 1\n1 0\n")}}, 0)
	if a.cb.revision.Load() != 0 {
		t.Fatalf("revision 0 should publish immediately once initialized")
	}

	a.SimulateSolution(jobstate.VerdictSAT, []bool{true})
	if !a.Check() {
		t.Fatalf("check should report a solution for revision 0")
	}

	a.cb.doStartNextRevision.Store(true) // simulate a transition in flight
	a.AppendRevisions([]Revision{{Index: 1, Formula: []byte("p cnf 1 1\n-1 0\n")}}, 1)
	if a.cb.revision.Load() != 0 {
		t.Fatalf("revision should not advance to 1 while a transition is in flight")
	}

	a.cb.doStartNextRevision.Store(false)
	if a.Check() {
		t.Fatalf("check should advance to revision 1 once no transition is in flight, with no solution for it yet")
	}
	if a.cb.revision.Load() != 1 {
		t.Fatalf("revision should now be 1, got %d", a.cb.revision.Load())
	}
	if a.Check() {
		t.Fatalf("check should not report revision 0's stale solution as matching revision 1")
	}
	a.SimulateSolution(jobstate.VerdictSAT, []bool{false})
	if !a.Check() {
		t.Fatalf("check should report the new solution once solutionRevision catches up to revision 1")
	}
}
