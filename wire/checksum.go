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
	"hash/fnv"
)

// RollingChecksum combines (literals, size, lbd) per clause, visiting
// buckets in the given canonical order, into the 64-bit rolling hash
// carried by a clause buffer's optional header. It is not a cryptographic
// checksum: corruption detection, not tamper resistance, is the goal
// (cryptographic integrity is explicitly out of scope).
func RollingChecksum(buckets map[BucketKey][]Clause, order []BucketKey) uint64 {
	h := fnv.New64a()
	var scratch [4]byte
	for _, key := range order {
		for _, cl := range buckets[key] {
			binary.BigEndian.PutUint32(scratch[:], uint32(cl.Size()))
			h.Write(scratch[:])
			binary.BigEndian.PutUint32(scratch[:], uint32(cl.LBD))
			h.Write(scratch[:])
			for _, lit := range cl.Literals {
				binary.BigEndian.PutUint32(scratch[:], uint32(lit))
				h.Write(scratch[:])
			}
		}
	}
	return h.Sum64()
}

// Size returns the clause's literal count, matching the "size" field the
// checksum combines per spec.md §6.
func (c Clause) Size() int32 { return int32(len(c.Literals)) }

// FormulaChecksum hashes a revision's formula and assumption payload, for
// the Checksum field SEND_JOB_DESCRIPTION carries (spec.md §6) so a child
// can tell its copy apart from a later revision's.
func FormulaChecksum(formula, assumptions []byte) uint64 {
	h := fnv.New64a()
	h.Write(formula)
	h.Write(assumptions)
	return h.Sum64()
}
