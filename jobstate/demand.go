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
	"math"
	"time"
)

// GrowthMode selects between the two demand-growth interpretations named
// in spec.md §4.4; both double the demand every growth period, the
// difference is whether age is treated as continuous or floored to whole
// periods before exponentiating.
type GrowthMode int

const (
	ContinuousGrowth GrowthMode = iota
	DiscreteGrowth
)

// DemandParams bundles the external inputs to the demand formula that
// aren't themselves part of the job record: the growth period, growth
// mode, and the cluster's total rank count (the communicator size C).
type DemandParams struct {
	GrowthPeriod time.Duration
	Mode         GrowthMode
	Communicator int
}

// Demand computes the volume (in ranks) job j would like to hold at time
// now, per spec.md §4.4's recurrence d(0)=1, d(k*g)=2*d((k-1)*g)+1.
func (j *Job) Demand(now time.Time, p DemandParams) int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	// spec.md §4.4: "If not ACTIVE: demand = 1 if a commitment is pending,
	// else 0." A SUSPENDED job is not ACTIVE, so it reports demand the
	// same as an INACTIVE/COMMITTED one rather than continuing to run the
	// growth formula on wall-clock age it accrued before being suspended.
	if j.state != Active {
		if j.Commitment != nil {
			return 1
		}
		return 0
	}

	c := p.Communicator
	g := p.GrowthPeriod

	var demand int
	if g <= 0 {
		demand = c
	} else {
		t := now.Sub(j.Activation).Seconds()
		gs := g.Seconds()
		switch p.Mode {
		case DiscreteGrowth:
			k := math.Floor(t / gs)
			demand = capAt(c, (1<<uint(k+1))-1)
		default:
			demand = capAt(c, int(math.Floor(math.Exp2(t/gs+1)))-1)
		}
	}

	if j.MaxDemand > 0 {
		demand = capAt(demand, j.MaxDemand)
	}
	if demand < 0 {
		demand = 0
	}
	return demand
}

func capAt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// temperatureBase and temperatureDecay are the constants from spec.md
// §4.4's temp(age) = base' + amplitude*decay^(age+1) formulation, where
// base' = 1 - amplitude and amplitude = 1 - 0.95 = 0.05.
const (
	temperatureBase  = 0.95
	temperatureAmp   = 0.05
	temperatureDecay = 0.99
)

// epsilonTailStep is the fixed per-second decrement applied once the
// geometric term's own decrement falls below machine epsilon, preserving
// strict monotonicity per spec.md §9 Open Question (ii): a flat tail would
// make two asymptotically old jobs compare equal. No code in this module
// reads Temperature; the scheduler's acceptance tie-break does not use it.
var epsilonTailStep = math.Nextafter(1, 2) - 1

// tailStartAge is the smallest integer age at which the geometric term's
// per-step decrement first drops below epsilonTailStep, computed once at
// package init since it depends only on the constants above.
var tailStartAge, tailValueAtStart = computeTemperatureTail()

func computeTemperatureTail() (int, float64) {
	age := 0
	for {
		cur := temperatureBase + temperatureAmp*math.Pow(temperatureDecay, float64(age+1))
		next := temperatureBase + temperatureAmp*math.Pow(temperatureDecay, float64(age+2))
		if cur-next < epsilonTailStep {
			return age, cur
		}
		age++
		if age > 100000 {
			// Decay constant close enough to 1 that the geometric term
			// never crosses epsilon in a realistic job lifetime; fall back
			// to the plain formula indefinitely.
			return age, temperatureBase + temperatureAmp*math.Pow(temperatureDecay, float64(age+1))
		}
	}
}

// Temperature returns the acceptance-decision weight for a job of the
// given age (seconds since activation): it starts at 1.0 and converges
// toward 0.95, decaying geometrically until the per-second decrement would
// fall below machine epsilon, after which it decreases by exactly one
// epsilon per second to stay strictly monotone.
func Temperature(age float64) float64 {
	if age < float64(tailStartAge) {
		return temperatureBase + temperatureAmp*math.Pow(temperatureDecay, age+1)
	}
	overshoot := age - float64(tailStartAge)
	return tailValueAtStart - epsilonTailStep*overshoot
}
