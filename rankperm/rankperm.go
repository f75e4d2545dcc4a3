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

// Package rankperm computes the deterministic, job-keyed bijection that maps
// a job's logical tree index to a physical worker rank, so that different
// jobs whose volumes overlap do not all pile up on the same ranks.
package rankperm

import (
	"encoding/binary"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Table is a deterministic pseudo-random bijection pi_j over [0, N) keyed by
// a job id. It is built lazily and is safe for concurrent use once built.
type Table struct {
	n      int
	jobID  int64
	bits   uint
	rounds int

	mu      sync.RWMutex
	forward map[int]int
	inverse map[int]int
}

var (
	buildGroup singleflight.Group

	cacheMu sync.Mutex
	cache   = map[cacheKey]*Table{}
)

type cacheKey struct {
	n     int
	jobID int64
}

// feistelRounds is the number of Feistel rounds applied per candidate index.
// Four rounds give good avalanche for the small bit widths used here (the
// table only ever needs to cover the cluster size N).
const feistelRounds = 4

// For builds the (or returns the cached) permutation table for a cluster of
// size n and job id jobID. Concurrent calls for the same (n, jobID) collapse
// into a single build via singleflight, mirroring how rankperm tables are
// requested independently by every worker that becomes aware of a job.
func For(n int, jobID int64) *Table {
	key := cacheKey{n: n, jobID: jobID}

	cacheMu.Lock()
	if t, ok := cache[key]; ok {
		cacheMu.Unlock()
		return t
	}
	cacheMu.Unlock()

	groupKey := groupKeyFor(n, jobID)
	v, _, _ := buildGroup.Do(groupKey, func() (interface{}, error) {
		cacheMu.Lock()
		if t, ok := cache[key]; ok {
			cacheMu.Unlock()
			return t, nil
		}
		cacheMu.Unlock()

		t := build(n, jobID)

		cacheMu.Lock()
		cache[key] = t
		cacheMu.Unlock()
		return t, nil
	})
	return v.(*Table)
}

func groupKeyFor(n int, jobID int64) string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(n))
	binary.BigEndian.PutUint64(b[4:12], uint64(jobID))
	return string(b[:])
}

func build(n int, jobID int64) *Table {
	t := &Table{
		n:       n,
		jobID:   jobID,
		bits:    bitsFor(n),
		rounds:  feistelRounds,
		forward: make(map[int]int, n),
		inverse: make(map[int]int, n),
	}
	if n <= 0 {
		return t
	}
	for i := 0; i < n; i++ {
		r := t.permute(i)
		t.forward[i] = r
		t.inverse[r] = i
	}
	return t
}

// bitsFor returns the working width of the Feistel network for a cluster of
// size n: the smallest even bit count covering n. It must be even so the
// network splits into two equal-width halves (feistel); an odd width would
// give the halves unequal sizes and collapse the network's image to
// [0, 2^(2*(bits/2))), making permute non-injective.
func bitsFor(n int) uint {
	if n <= 1 {
		return 2
	}
	var b uint
	for (1 << b) < n {
		b++
	}
	if b%2 != 0 {
		b++
	}
	return b
}

// permute runs rejection sampling over a keyed Feistel network until it
// lands a candidate strictly below n.
func (t *Table) permute(i int) int {
	mask := uint32(1)<<t.bits - 1
	x := uint32(i) & mask
	for {
		x = t.feistel(x)
		if int(x) < t.n {
			return int(x)
		}
		// rejected candidate: re-run the network on itself so the
		// sequence of candidates is still a deterministic function of i.
	}
}

func (t *Table) feistel(x uint32) uint32 {
	half := t.bits / 2
	lowMask := uint32(1)<<half - 1
	l := x >> half
	r := x & lowMask
	for round := 0; round < t.rounds; round++ {
		f := t.round(r, round)
		l, r = r, (l^f)&lowMask
	}
	return (l << half) | r
}

// round is the Feistel round function, keyed by the job id and round index
// so distinct jobs spread their tree indices across distinct ranks.
func (t *Table) round(r uint32, round int) uint32 {
	h := fnv.New64a()
	var b [20]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(t.jobID))
	binary.BigEndian.PutUint32(b[8:12], r)
	binary.BigEndian.PutUint32(b[12:16], uint32(round))
	binary.BigEndian.PutUint32(b[16:20], uint32(t.n))
	h.Write(b[:])
	return uint32(h.Sum64())
}

// Rank returns the physical worker rank assigned to logical tree index i.
func (t *Table) Rank(i int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if r, ok := t.forward[i]; ok {
		return r
	}
	return i % t.n
}

// Index returns the logical tree index currently assigned to physical rank
// r, if any rank below N maps to it.
func (t *Table) Index(rank int) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.inverse[rank]
	return i, ok
}

// N returns the cluster size this table was built for.
func (t *Table) N() int { return t.n }
