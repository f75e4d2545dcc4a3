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

// Package worker implements the Worker Main Loop (spec.md §4 "Worker Main
// Loop"): it multiplexes incoming transport messages, drives each job's
// state machine, and invokes the Job Tree, Local Scheduler, Clause
// Communicator and Balancer on its behalf. It is the only component that
// is single-threaded and event-driven by construction (spec.md §5);
// everything it calls is designed to be invoked from exactly one
// goroutine.
package worker

import (
	"time"

	"github.com/ethersphere/swarmsat/clausecomm"
	"github.com/ethersphere/swarmsat/jobstate"
)

// Config bundles the cluster-wide constants a Worker needs, constructed by
// the embedder (a test harness or a cube-and-conquer driver) rather than
// parsed from flags — CLI/parameter parsing is out of scope (spec.md §1).
type Config struct {
	Rank int
	N    int

	// CoordinatorRank runs the Balancer computation each epoch and
	// broadcasts the result; every worker still computes demand/priority
	// locally and evaluates accept/reject policy identically, so the
	// choice of coordinator only affects which single rank happens to
	// run balancer.Compute, not the result (spec.md §4.6 "a deterministic
	// function each worker runs on the same inputs").
	CoordinatorRank int

	BalancingEpochPeriod time.Duration
	RetryInterval        time.Duration
	HopBudget            int32

	Demand      jobstate.DemandParams
	ClauseBuf   clausecomm.Config
	LimitPeriod time.Duration // how often WallclockLimit/CPULimit are checked
}

// DefaultConfig returns a Config with conservative periods suitable for
// tests and small deployments.
func DefaultConfig(rank, n int) Config {
	clausePeriod := 2 * time.Second
	return Config{
		Rank:                 rank,
		N:                    n,
		CoordinatorRank:      0,
		BalancingEpochPeriod: 5 * time.Second,
		RetryInterval:        500 * time.Millisecond,
		HopBudget:            4,
		Demand: jobstate.DemandParams{
			GrowthPeriod: 2 * time.Second,
			Mode:         jobstate.DiscreteGrowth,
			Communicator: n,
		},
		ClauseBuf:   clausecomm.DefaultConfig(clausePeriod),
		LimitPeriod: time.Second,
	}
}
