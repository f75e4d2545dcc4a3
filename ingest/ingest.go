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

// Package ingest names the job ingress JSON document shape (spec.md §6):
// the user-submitted job description a file-watcher/JSON ingestion layer
// (out of scope per spec.md §1) would decode before handing a job to the
// cluster. This package only carries the data type and the seeding of a
// jobstate.Job from it; it never watches files itself.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Description is one job's ingress document, matching spec.md §6's
// informative JSON shape field-for-field.
type Description struct {
	User string `json:"user"`
	Name string `json:"name"`

	PriorityValue *float64 `json:"priority,omitempty"`
	Application   string   `json:"application,omitempty"`
	ArrivalValue  *float64 `json:"arrival,omitempty"` // unix seconds

	WallclockLimitSeconds *float64 `json:"wallclock-limit,omitempty"`
	CPULimitSeconds       *float64 `json:"cpu-limit,omitempty"`
	MaxDemand             *int     `json:"max-demand,omitempty"`

	Assumptions []int32 `json:"assumptions,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`
	Precursor    *string  `json:"precursor,omitempty"`

	Done      *bool `json:"done,omitempty"`
	Interrupt *bool `json:"interrupt,omitempty"`

	Incremental *bool  `json:"incremental,omitempty"`
	ContentMode string `json:"content-mode,omitempty"`
}

// Decode parses a single job ingress document.
func Decode(data []byte) (Description, error) {
	var d Description
	if err := json.Unmarshal(data, &d); err != nil {
		return Description{}, fmt.Errorf("ingest: decode description: %w", err)
	}
	return d, nil
}

// Priority returns the submitted priority, defaulting to 1.0 when unset.
func (d Description) Priority() float64 {
	if d.PriorityValue == nil {
		return 1
	}
	return *d.PriorityValue
}

// Arrival converts the optional unix-seconds ArrivalValue field to a
// time.Time, defaulting to now when unset.
func (d Description) Arrival(now time.Time) time.Time {
	if d.ArrivalValue == nil {
		return now
	}
	return time.Unix(0, int64(*d.ArrivalValue*float64(time.Second))).UTC()
}

// WallclockLimit converts the optional seconds field to a time.Duration,
// zero meaning unlimited.
func (d Description) WallclockLimit() time.Duration {
	if d.WallclockLimitSeconds == nil {
		return 0
	}
	return time.Duration(*d.WallclockLimitSeconds * float64(time.Second))
}

// CPULimit mirrors WallclockLimit for the CPU limit.
func (d Description) CPULimit() time.Duration {
	if d.CPULimitSeconds == nil {
		return 0
	}
	return time.Duration(*d.CPULimitSeconds * float64(time.Second))
}

// IsDone reports whether the submitter has marked this job done (read by a
// dependent job's precursor lookup, see jobstate.Job.Ready).
func (d Description) IsDone() bool {
	return d.Done != nil && *d.Done
}

// IsInterrupted reports whether the submitter requested an interrupt.
func (d Description) IsInterrupted() bool {
	return d.Interrupt != nil && *d.Interrupt
}
