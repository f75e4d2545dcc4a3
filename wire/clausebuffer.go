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

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncatedBuffer is returned when a clause buffer ends in the middle of
// a bucket or clause.
var ErrTruncatedBuffer = errors.New("wire: truncated clause buffer")

// ErrChecksumMismatch is returned by DecodeClauseBuffer when the buffer
// carries a checksum and the recomputed rolling hash disagrees with it.
var ErrChecksumMismatch = errors.New("wire: clause buffer checksum mismatch")

// Clause is a learned clause: a sequence of DIMACS-style literals plus the
// literal block distance the solver assigned it.
type Clause struct {
	Literals []int32
	LBD      int32
}

// BucketKey names a bucket's clause shape: clauses of a given size, and
// (for small sizes) a given LBD.
type BucketKey struct {
	Size        int32
	Partitioned bool // true: clauses of this size are grouped by exact LBD
	LBD         int32 // meaningful only when Partitioned
}

// ClauseBuffer is a decoded clause buffer: the bucketed clause set produced
// by a collectClauses call or a bucket merge, plus its checksum if one was
// carried on the wire.
type ClauseBuffer struct {
	Buckets     map[BucketKey][]Clause
	Checksum    uint64
	HasChecksum bool
}

// NumClauses returns the total number of clauses across all buckets.
func (b *ClauseBuffer) NumClauses() int {
	n := 0
	for _, cs := range b.Buckets {
		n += len(cs)
	}
	return n
}

// bucketCursor enumerates BucketKeys in the fixed, deterministic order that
// every worker uses when walking a clause buffer: ascending size, and for
// sizes at or below maxLbdPartitionedSize, ascending LBD within the size
// before moving to the next size. This is the "next(maxLbdPartitionedSize)"
// state machine named in spec.md §6; through OrderedKeys it is shared by the
// wire writer, the checksum recomputations and clausecomm's bucket merge
// (the reader takes buckets in wire order) so two independently computed merges of
// the same input set serialize identically.
type bucketCursor struct {
	maxLbdPartitionedSize int32
	maxSize               int32
	maxLBD                int32

	size        int32
	lbd         int32
	partitioned bool
	done        bool
}

// newBucketCursor starts a cursor at the smallest canonical bucket key.
func newBucketCursor(maxLbdPartitionedSize, maxSize, maxLBD int32) *bucketCursor {
	c := &bucketCursor{
		maxLbdPartitionedSize: maxLbdPartitionedSize,
		maxSize:               maxSize,
		maxLBD:                maxLBD,
		size:                  1,
	}
	c.partitioned = c.size <= c.maxLbdPartitionedSize
	if c.partitioned {
		c.lbd = 1
	}
	return c
}

// key returns the cursor's current position.
func (c *bucketCursor) key() BucketKey {
	return BucketKey{Size: c.size, Partitioned: c.partitioned, LBD: c.lbd}
}

// next advances the cursor past its current key and reports whether a
// further key exists.
func (c *bucketCursor) next() bool {
	if c.done {
		return false
	}
	if c.partitioned {
		if c.lbd < c.maxLBD {
			c.lbd++
			return true
		}
		c.size++
	} else {
		c.size++
	}
	if c.size > c.maxSize {
		c.done = true
		return false
	}
	c.partitioned = c.size <= c.maxLbdPartitionedSize
	if c.partitioned {
		c.lbd = 1
	} else {
		c.lbd = 0
	}
	return true
}

// OrderedKeys returns the keys present in buckets, sorted in canonical
// bucket order (ascending size, partitioned LBD groups before the
// unpartitioned bucket for sizes beyond maxLbdPartitionedSize).
func OrderedKeys(buckets map[BucketKey][]Clause, maxLbdPartitionedSize, maxSize, maxLBD int32) []BucketKey {
	var ordered []BucketKey
	cur := newBucketCursor(maxLbdPartitionedSize, maxSize, maxLBD)
	for {
		if _, ok := buckets[cur.key()]; ok {
			ordered = append(ordered, cur.key())
		}
		if !cur.next() {
			break
		}
	}
	return ordered
}

// EncodeClauseBuffer serializes buf in canonical bucket order. Each bucket
// is self-describing: size, partitioning flag, LBD (when partitioned) and
// clause count, so a reader never needs the cursor bounds the writer used.
// withChecksum requests a leading 64-bit rolling hash over the clauses in
// canonical order.
func EncodeClauseBuffer(buf *ClauseBuffer, maxLbdPartitionedSize, maxSize, maxLBD int32, withChecksum bool) []byte {
	keys := OrderedKeys(buf.Buckets, maxLbdPartitionedSize, maxSize, maxLBD)

	var out []byte
	if withChecksum {
		var cksum [8]byte
		binary.BigEndian.PutUint64(cksum[:], RollingChecksum(buf.Buckets, keys))
		out = append(out, cksum[:]...)
	}

	for _, key := range keys {
		clauses := buf.Buckets[key]
		out = append(out, encodeBucket(key, clauses)...)
	}
	return out
}

func encodeBucket(key BucketKey, clauses []Clause) []byte {
	var hdr [13]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(key.Size))
	if key.Partitioned {
		hdr[4] = 1
	}
	binary.BigEndian.PutUint32(hdr[5:9], uint32(key.LBD))
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(clauses)))
	out := append([]byte{}, hdr[:]...)

	for _, cl := range clauses {
		if key.Partitioned {
			out = append(out, encodeInts(cl.Literals)...)
			continue
		}
		var lbd [4]byte
		binary.BigEndian.PutUint32(lbd[:], uint32(cl.LBD))
		out = append(out, lbd[:]...)
		out = append(out, encodeInts(cl.Literals)...)
	}
	return out
}

func encodeInts(vals []int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(out[4*i:4*i+4], uint32(v))
	}
	return out
}

// DecodeClauseBuffer is the inverse of EncodeClauseBuffer. withChecksum must
// match how the buffer was encoded.
func DecodeClauseBuffer(data []byte, withChecksum bool) (*ClauseBuffer, error) {
	buf := &ClauseBuffer{Buckets: map[BucketKey][]Clause{}}

	if withChecksum {
		if len(data) < 8 {
			return nil, ErrTruncatedBuffer
		}
		buf.Checksum = binary.BigEndian.Uint64(data[:8])
		buf.HasChecksum = true
		data = data[8:]
	}

	var keys []BucketKey
	for len(data) > 0 {
		if len(data) < 13 {
			return nil, ErrTruncatedBuffer
		}
		size := int32(binary.BigEndian.Uint32(data[0:4]))
		partitioned := data[4] != 0
		lbd := int32(binary.BigEndian.Uint32(data[5:9]))
		numClauses := int(binary.BigEndian.Uint32(data[9:13]))
		data = data[13:]

		key := BucketKey{Size: size, Partitioned: partitioned, LBD: lbd}
		clauses := make([]Clause, 0, numClauses)
		for i := 0; i < numClauses; i++ {
			if partitioned {
				if len(data) < int(size)*4 {
					return nil, ErrTruncatedBuffer
				}
				lits, err := decodeInts(data[:size*4])
				if err != nil {
					return nil, err
				}
				clauses = append(clauses, Clause{Literals: lits, LBD: lbd})
				data = data[size*4:]
				continue
			}
			if len(data) < 4+int(size)*4 {
				return nil, ErrTruncatedBuffer
			}
			clauseLBD := int32(binary.BigEndian.Uint32(data[:4]))
			lits, err := decodeInts(data[4 : 4+size*4])
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, Clause{Literals: lits, LBD: clauseLBD})
			data = data[4+size*4:]
		}
		if numClauses > 0 {
			buf.Buckets[key] = clauses
			keys = append(keys, key)
		}
	}

	if buf.HasChecksum {
		got := RollingChecksum(buf.Buckets, keys)
		if got != buf.Checksum {
			return nil, fmt.Errorf("%w: have %#x, want %#x", ErrChecksumMismatch, got, buf.Checksum)
		}
	}
	return buf, nil
}

func decodeInts(data []byte) ([]int32, error) {
	if len(data)%4 != 0 {
		return nil, ErrTruncatedBuffer
	}
	out := make([]int32, len(data)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(data[4*i : 4*i+4]))
	}
	return out, nil
}
