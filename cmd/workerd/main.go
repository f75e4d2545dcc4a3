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

// Command workerd drives a single-process cluster of swarmsat workers: it
// wires N ranks together over an in-process transport, submits one job read
// from disk at rank 0, and prints the result once the root observes it.
//
// A real deployment would replace the in-process transport.FakeNetwork with
// a transport.Router implementation over an actual message-passing layer
// and spawn one workerd process per rank instead of N goroutines in one —
// both are out of scope here (spec.md §1), so this binary exists only to
// give the worker package an executable home, in the spirit of a
// cube-and-conquer driver harness.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethersphere/swarmsat/ingest"
	"github.com/ethersphere/swarmsat/jobstate"
	"github.com/ethersphere/swarmsat/solverproc"
	"github.com/ethersphere/swarmsat/transport"
	"github.com/ethersphere/swarmsat/worker"
)

func main() {
	var (
		n            = flag.Int("n", 4, "cluster size (number of ranks)")
		descPath     = flag.String("job", "", "path to a job ingress JSON document (spec.md §6)")
		formulaPath  = flag.String("formula", "", "path to the job's DIMACS formula file")
		solverBinary = flag.String("solver", "", "path to the SAT solver binary each rank forks")
		platform     = flag.String("prefix", "swarmsat", "shared-memory segment name prefix")
		verbosity    = flag.String("verbosity", "info", "log level: crit, error, warn, info, debug, trace")
	)
	flag.Parse()

	setLogLevel(*verbosity)

	if *descPath == "" || *formulaPath == "" {
		fmt.Fprintln(os.Stderr, "workerd: -job and -formula are required")
		flag.Usage()
		os.Exit(2)
	}

	descData, err := os.ReadFile(*descPath)
	if err != nil {
		log.Crit("reading job description", "err", err)
	}
	desc, err := ingest.Decode(descData)
	if err != nil {
		log.Crit("decoding job description", "err", err)
	}
	formula, err := os.ReadFile(*formulaPath)
	if err != nil {
		log.Crit("reading formula", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	net := transport.NewFakeNetwork(*n, 64)
	segMgr := solverproc.NewMemSegmentManager()

	result := make(chan jobstate.Result, 1)
	onDone := func(jobID int32, r jobstate.Result, reason jobstate.Reason, fromRoot bool) {
		if fromRoot {
			result <- r
		}
	}

	for rank := 0; rank < *n; rank++ {
		cfg := worker.DefaultConfig(rank, *n)
		newAdap := adapterFactory(segMgr, *platform, *solverBinary, rank)
		var w *worker.Worker
		if rank == 0 {
			w = worker.New(cfg, net.Router(rank), newAdap, onDone)
			go func(root *worker.Worker) {
				if err := root.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("root worker exited", "err", err)
				}
			}(w)
			if err := w.SubmitRoot(1, 0, desc, formula, nil, time.Now()); err != nil {
				log.Crit("submitting root job", "err", err)
			}
			continue
		}
		w = worker.New(cfg, net.Router(rank), newAdap, nil)
		go func(peer *worker.Worker) {
			if err := peer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("worker exited", "rank", peer.Rank(), "err", err)
			}
		}(w)
	}

	select {
	case r := <-result:
		out, _ := json.Marshal(struct {
			Verdict string `json:"verdict"`
			Model   []bool `json:"model,omitempty"`
		}{verdictString(r.Verdict), r.Model})
		fmt.Println(string(out))
	case <-ctx.Done():
		log.Warn("interrupted before job concluded")
	}
}

func adapterFactory(segMgr solverproc.SegmentManager, prefix, solverBinary string, rank int) worker.AdapterFactory {
	return func(jobID int32) solverproc.Adapter {
		return solverproc.NewProcAdapter(solverproc.ProcConfig{
			SolverBinary:          solverBinary,
			Rank:                  rank,
			JobID:                 jobID,
			PlatformPrefix:        prefix,
			SegMgr:                segMgr,
			MaxLbdPartitionedSize: 2000,
			MaxSize:               4000,
			MaxLBD:                8,
		})
	}
}

func verdictString(v jobstate.Verdict) string {
	switch v {
	case jobstate.VerdictSAT:
		return "SAT"
	case jobstate.VerdictUNSAT:
		return "UNSAT"
	default:
		return "UNKNOWN"
	}
}

func setLogLevel(name string) {
	var lvl log.Lvl
	switch name {
	case "crit":
		lvl = log.LvlCrit
	case "error":
		lvl = log.LvlError
	case "warn":
		lvl = log.LvlWarn
	case "debug":
		lvl = log.LvlDebug
	case "trace":
		lvl = log.LvlTrace
	default:
		lvl = log.LvlInfo
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat(false))))
}
