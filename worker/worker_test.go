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

package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethersphere/swarmsat/ingest"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/transport"
	"github.com/ethersphere/swarmsat/worker"
)

// autoInitAdapter stands in for a real solver child's own startup
// handshake: a ProcAdapter's child signals initialized on its own once it
// has mapped its segments, but SimAdapter needs SimulateInit called
// explicitly, so the test harness does it the moment Run returns.
type autoInitAdapter struct {
	*solverproc.SimAdapter
}

func (a *autoInitAdapter) Run() (int, error) {
	pid, err := a.SimAdapter.Run()
	if err == nil {
		a.SimAdapter.SimulateInit()
	}
	return pid, err
}

// adapterRegistry lets the test reach into a SimAdapter created deep inside
// a worker's message handling, keyed by the (rank, jobID) pair that created
// it, so the test can drive that specific "child process" directly.
type adapterRegistry struct {
	mu    sync.Mutex
	byKey map[string]*solverproc.SimAdapter
}

func newAdapterRegistry() *adapterRegistry {
	return &adapterRegistry{byKey: map[string]*solverproc.SimAdapter{}}
}

func regKey(rank int, jobID int32) string { return fmt.Sprintf("%d:%d", rank, jobID) }

func (r *adapterRegistry) factory(rank int) worker.AdapterFactory {
	return func(jobID int32) solverproc.Adapter {
		sim := solverproc.NewSimAdapter(solverproc.NewMemSegmentManager(), fmt.Sprintf("swarmsat-test-%d", rank), 8, 64, 8)
		r.mu.Lock()
		r.byKey[regKey(rank, jobID)] = sim
		r.mu.Unlock()
		return &autoInitAdapter{SimAdapter: sim}
	}
}

func (r *adapterRegistry) get(rank int, jobID int32) *solverproc.SimAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byKey[regKey(rank, jobID)]
}

// TestTwoWorkerSATRoundTrip replicates spec.md §8 scenario 1: a two-rank
// cluster solving (x1 v x2)(~x1), SAT with x1=false, x2=true. The root
// submits the job on rank 0, rank 1 accepts the one child slot demand
// warrants, and the child's simulated solver reports the solution, which
// must be forwarded up to the root and delivered through DoneNotifier.
func TestTwoWorkerSATRoundTrip(t *testing.T) {
	const n = 2
	const jobID = int32(42)

	net := transport.NewFakeNetwork(n, 32)
	reg := newAdapterRegistry()

	done := make(chan jobstate.Result, 1)
	var doneMu sync.Mutex
	var doneReason jobstate.Reason

	cfg0 := worker.DefaultConfig(0, n)
	cfg0.Demand.GrowthPeriod = 0 // full demand immediately, no ramp-up wait
	cfg0.RetryInterval = 20 * time.Millisecond
	// The scheduler only requests slots demand/volume both warrant
	// (spec.md §4.5/§4.6), so the balancer must actually run, and quickly,
	// for the root to be granted volume 2 and request rank 1.
	cfg0.BalancingEpochPeriod = 30 * time.Millisecond

	cfg1 := cfg0
	cfg1.Rank = 1

	w0 := worker.New(cfg0, net.Router(0), reg.factory(0), func(id int32, result jobstate.Result, reason jobstate.Reason, fromRoot bool) {
		if !fromRoot {
			return
		}
		doneMu.Lock()
		doneReason = reason
		doneMu.Unlock()
		done <- result
	})
	w1 := worker.New(cfg1, net.Router(1), reg.factory(1), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w0.Run(ctx) }()
	go func() { defer wg.Done(); w1.Run(ctx) }()

	maxDemand := 2
	desc := ingest.Description{MaxDemand: &maxDemand}
	formula := []byte("p cnf 2 2\n1 2 0\n-1 0\n")

	if err := w0.SubmitRoot(jobID, 0, desc, formula, nil, time.Now()); err != nil {
		t.Fatalf("submit root: %v", err)
	}

	var child *solverproc.SimAdapter
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if child = reg.get(1, jobID); child != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if child == nil {
		t.Fatalf("rank 1 never accepted a child slot for job %d", jobID)
	}
	// Let handleSendJobDescription finish spawning and publishing the
	// revision before the simulated solver reports a solution for it.
	time.Sleep(200 * time.Millisecond)
	child.SimulateSolution(jobstate.VerdictSAT, []bool{false, true})

	select {
	case result := <-done:
		if result.Verdict != jobstate.VerdictSAT {
			t.Fatalf("expected SAT, got %v", result.Verdict)
		}
		if len(result.Model) != 2 || result.Model[0] != false || result.Model[1] != true {
			t.Fatalf("unexpected model: %v", result.Model)
		}
		doneMu.Lock()
		reason := doneReason
		doneMu.Unlock()
		if reason != jobstate.ReasonDoneSAT {
			t.Fatalf("unexpected reason: %v", reason)
		}
	case <-time.After(4 * time.Second):
		t.Fatalf("timed out waiting for job conclusion")
	}

	cancel()
	wg.Wait()
}

// TestRootConcludesWithoutForwarding mirrors spec.md §8 scenario 2: the same
// two-rank shape, but the root's own solver is the one that concludes
// UNSAT, exercising the no-forwarding path (the root observes its own
// result directly, no NOTIFY_JOB_DONE is ever sent).
func TestRootConcludesWithoutForwarding(t *testing.T) {
	const n = 2
	const jobID = int32(7)

	net := transport.NewFakeNetwork(n, 32)
	reg := newAdapterRegistry()

	done := make(chan jobstate.Result, 1)

	cfg0 := worker.DefaultConfig(0, n)
	cfg0.BalancingEpochPeriod = time.Hour
	cfg1 := cfg0
	cfg1.Rank = 1

	w0 := worker.New(cfg0, net.Router(0), reg.factory(0), func(id int32, result jobstate.Result, reason jobstate.Reason, fromRoot bool) {
		if fromRoot {
			done <- result
		}
	})
	w1 := worker.New(cfg1, net.Router(1), reg.factory(1), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w0.Run(ctx) }()
	go func() { defer wg.Done(); w1.Run(ctx) }()

	maxDemandOne := 1 // demand never exceeds 1: this job stays single-rank
	desc := ingest.Description{MaxDemand: &maxDemandOne}
	formula := []byte("p cnf 1 2\n1 0\n-1 0\n")

	if err := w0.SubmitRoot(jobID, 0, desc, formula, nil, time.Now()); err != nil {
		t.Fatalf("submit root: %v", err)
	}

	var root *solverproc.SimAdapter
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if root = reg.get(0, jobID); root != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if root == nil {
		t.Fatalf("expected root adapter to be created")
	}
	root.SimulateSolution(jobstate.VerdictUNSAT, nil)

	select {
	case result := <-done:
		if result.Verdict != jobstate.VerdictUNSAT {
			t.Fatalf("expected UNSAT, got %v", result.Verdict)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job conclusion")
	}

	cancel()
	wg.Wait()
}
