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

package ingest

import (
	"strconv"
	"time"

	"github.com/ethersphere/swarmsat/jobstate"
)

// Seed applies the ingress document's optional limit/dependency fields onto
// a freshly constructed root job record, resolving Dependencies/Precursor
// (carried as job-id strings on the wire) to the int32 ids jobstate uses
// internally. Malformed ids are skipped rather than failing the whole
// ingestion, since they are informative-only fields (spec.md §3
// EXPANSION): a dependency scheduler is out of scope.
func Seed(job *jobstate.Job, d Description, now time.Time) {
	job.Arrival = d.Arrival(now)
	job.WallclockLimit = d.WallclockLimit()
	job.CPULimit = d.CPULimit()
	if d.MaxDemand != nil {
		job.MaxDemand = *d.MaxDemand
	}
	job.Interrupted = d.IsInterrupted()

	for _, raw := range d.Dependencies {
		if id, ok := parseJobID(raw); ok {
			job.Dependencies = append(job.Dependencies, id)
		}
	}
	if d.Precursor != nil {
		if id, ok := parseJobID(*d.Precursor); ok {
			job.Precursor = &id
		}
	}
}

func parseJobID(raw string) (int32, bool) {
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}
