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

// Package balancer computes, once per balancing epoch, each job's volume
// (the number of ranks it deserves) from the demands and priorities every
// worker has contributed (spec.md §4.6). It is realised as a deterministic
// function every worker runs against the same aggregated input, rather
// than an elected leader, so the whole cluster reaches the same conclusion
// without a consensus round.
package balancer

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	epochsComputed = metrics.NewRegisteredCounter("balancer/epochs", nil)
	computeTimer   = metrics.NewRegisteredResettingTimer("balancer/compute", nil)
)

// Contribution is one job's demand/priority pair as submitted by its
// participating workers for this epoch (spec.md §4.6's "local view").
type Contribution struct {
	JobID    int32
	Demand   int
	Priority float64
	// Committed reports whether the job currently holds at least one rank
	// globally (COMMITTED/ACTIVE/SUSPENDED somewhere): per spec.md §4.6,
	// volumes never shrink such a job below 1.
	Committed bool
}

// Assignment is the volume allocation for one job, computed for an epoch.
type Assignment struct {
	JobID  int32
	Volume int
}

// Compute applies iterative water-filling over priority-weighted demand to
// the epoch's contributions, producing a volume assignment with
// sum(volumes) <= n. Ties between jobs of equal priority competing for the
// same marginal rank are broken by ascending job id, so every worker
// computes byte-identical results from the same input set. Contributions
// are first deduplicated by JobID (a job may have been reported by more
// than one worker in the same epoch; the maximum reported demand wins,
// since demand only grows monotonically within an epoch).
func Compute(n int, contributions []Contribution) []Assignment {
	t0 := time.Now()
	defer func() {
		epochsComputed.Inc(1)
		computeTimer.Update(time.Since(t0))
	}()

	byJob := map[int32]*Contribution{}
	for _, c := range contributions {
		c := c
		if existing, ok := byJob[c.JobID]; ok {
			if c.Demand > existing.Demand {
				existing.Demand = c.Demand
			}
			existing.Committed = existing.Committed || c.Committed
			continue
		}
		byJob[c.JobID] = &c
	}

	jobs := make([]*Contribution, 0, len(byJob))
	for _, c := range byJob {
		jobs = append(jobs, c)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].JobID < jobs[j].JobID
	})

	volumes := make(map[int32]int, len(jobs))
	for _, c := range jobs {
		if c.Committed && c.Demand < 1 {
			volumes[c.JobID] = 1
		} else {
			volumes[c.JobID] = 0
		}
	}

	remaining := n
	for _, c := range jobs {
		remaining -= volumes[c.JobID]
	}

	// Water-fill one rank at a time: each marginal rank goes to the job
	// maximizing priority_j / (volume_j+1) among jobs still under demand
	// (the highest-averages/Jefferson apportionment rule, applied to
	// priority weights instead of population). This is what "approximates
	// demand weighted by priority" means operationally: a job twice as
	// important as another receives ranks roughly twice as fast, while
	// never exceeding its own demand. Ties use the same precedence as the
	// Local Scheduler's request tie-break (spec.md §4.5): higher priority,
	// then lower job id.
	for remaining > 0 {
		bestIdx := -1
		var bestRatio float64
		for i, c := range jobs {
			if volumes[c.JobID] >= c.Demand {
				continue
			}
			ratio := c.Priority / float64(volumes[c.JobID]+1)
			if bestIdx == -1 || ratio > bestRatio ||
				(ratio == bestRatio && c.Priority > jobs[bestIdx].Priority) ||
				(ratio == bestRatio && c.Priority == jobs[bestIdx].Priority && c.JobID < jobs[bestIdx].JobID) {
				bestIdx = i
				bestRatio = ratio
			}
		}
		if bestIdx == -1 {
			break
		}
		volumes[jobs[bestIdx].JobID]++
		remaining--
	}

	out := make([]Assignment, 0, len(jobs))
	for _, c := range jobs {
		out = append(out, Assignment{JobID: c.JobID, Volume: volumes[c.JobID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })

	total := 0
	for _, a := range out {
		total += a.Volume
	}
	if total > n {
		log.Crit("balancer: computed volumes exceed cluster size", "total", total, "n", n)
	}
	return out
}
