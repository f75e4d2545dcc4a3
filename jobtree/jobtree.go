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

// Package jobtree embeds a job's binary rank tree into the cluster: given
// this worker's current tree index within a job, it names the root rank,
// the parent rank and the left/right child rank slots, addressed through
// rankperm so that two jobs with overlapping volumes don't collide on the
// same physical ranks.
package jobtree

import (
	"fmt"

	"github.com/ethersphere/swarmsat/rankperm"
)

// Unset marks a child rank slot that has not (yet, or no longer) been
// accepted by any worker.
const Unset = -1

// Tree is a worker's view of its position in one job's binary rank tree.
type Tree struct {
	n     int
	jobID int64
	perm  *rankperm.Table

	index      int
	rootRank   int
	parentRank int
	leftRank   int
	rightRank  int
}

// New returns a Tree for a job with the given cluster size and job id. The
// tree starts unpositioned (as if for a worker that has not yet committed
// to the job); call Update once a commitment names this worker's index.
func New(n int, jobID int64) *Tree {
	return &Tree{
		n:          n,
		jobID:      jobID,
		perm:       rankperm.For(n, jobID),
		index:      0,
		rootRank:   Unset,
		parentRank: Unset,
		leftRank:   Unset,
		rightRank:  Unset,
	}
}

// Index returns this worker's current tree index for the job.
func (t *Tree) Index() int { return t.index }

// IsRoot reports whether this worker currently holds tree index 0.
func (t *Tree) IsRoot() bool { return t.index == 0 }

// RootRank returns the rank hosting tree index 0.
func (t *Tree) RootRank() int { return t.rootRank }

// ParentRank returns the rank hosting this worker's parent index, or
// (Unset, false) when this worker is the root.
func (t *Tree) ParentRank() (int, bool) {
	if t.IsRoot() {
		return Unset, false
	}
	return t.parentRank, true
}

// LeftChildIndex returns the logical left-child tree index, 2i+1.
func (t *Tree) LeftChildIndex() int { return 2*t.index + 1 }

// RightChildIndex returns the logical right-child tree index, 2i+2.
func (t *Tree) RightChildIndex() int { return 2*t.index + 2 }

// RankForIndex maps a job-local tree index to the physical rank it is
// addressed through, via the job's rank permutation.
func (t *Tree) RankForIndex(index int) int { return t.perm.Rank(index) }

// LeftChildRank returns the rank currently occupying the left child slot,
// or (Unset, false) if no commitment has been accepted there yet.
func (t *Tree) LeftChildRank() (int, bool) {
	if t.leftRank == Unset {
		return Unset, false
	}
	return t.leftRank, true
}

// RightChildRank mirrors LeftChildRank for the right slot.
func (t *Tree) RightChildRank() (int, bool) {
	if t.rightRank == Unset {
		return Unset, false
	}
	return t.rightRank, true
}

// SetLeftChildRank records that rank r has accepted the left child slot.
func (t *Tree) SetLeftChildRank(r int) { t.leftRank = r }

// SetRightChildRank records that rank r has accepted the right child slot.
func (t *Tree) SetRightChildRank(r int) { t.rightRank = r }

// ClearChildren drops both child slots, as happens on suspend or terminate.
func (t *Tree) ClearChildren() {
	t.leftRank = Unset
	t.rightRank = Unset
}

// ClearChildRank drops whichever child slot currently holds rank, if any,
// as happens when that child's job concludes independently of this worker
// (spec.md §4.7 "live children"). Reports whether a slot was cleared.
func (t *Tree) ClearChildRank(rank int) bool {
	if t.leftRank == rank {
		t.leftRank = Unset
		return true
	}
	if t.rightRank == rank {
		t.rightRank = Unset
		return true
	}
	return false
}

// IsLeaf reports whether this worker currently has no children and the
// job's demand does not warrant any: growing to demand would not place a
// tree index at or below this worker's children.
func (t *Tree) IsLeaf(demand int) bool {
	_, hasLeft := t.LeftChildRank()
	_, hasRight := t.RightChildRank()
	if hasLeft || hasRight {
		return false
	}
	return t.LeftChildIndex() >= demand
}

// Update mutates the worker's position on commit: the tree index it now
// occupies for the job, the rank hosting the root, and the rank hosting
// its parent (ignored when index is 0).
func (t *Tree) Update(index, rootRank, parentRank int) {
	t.index = index
	t.rootRank = rootRank
	if index == 0 {
		t.parentRank = Unset
	} else {
		t.parentRank = parentRank
	}
}

// String renders a short debugging label for the tree position.
func (t *Tree) String() string {
	return fmt.Sprintf("job#%d idx=%d root=%d parent=%d left=%d right=%d",
		t.jobID, t.index, t.rootRank, t.parentRank, t.leftRank, t.rightRank)
}

// ParentIndex returns the logical parent tree index of index i; callers
// must not invoke this for i == 0 (the root has no parent).
func ParentIndex(i int) int {
	return (i - 1) / 2
}

// IsLeftChild reports whether tree index i is its parent's left child.
func IsLeftChild(i int) bool {
	return i%2 == 1
}
