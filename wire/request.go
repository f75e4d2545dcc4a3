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

// Package wire implements the on-the-wire encodings of the job-requesting
// and clause-sharing traffic: JobRequest (RLP, as pushsync encodes its chunk
// messages) and the clause buffer format (manual byte marshaling, as
// pss's trojan chunk does).
package wire

import (
	"io"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// RequestKind distinguishes a one-shot directed JobRequest from an
// undirected one that may be forwarded along a random walk. Modeled as an
// explicit enum rather than overloading a hop-count sentinel (-2 vs 0).
type RequestKind uint8

const (
	// Directed addresses a specific destination rank; the receiver tries
	// once and drops the request if it cannot accept.
	Directed RequestKind = iota
	// Undirected lets the receiver forward the request along a random
	// walk until an idle worker accepts or the hop budget is exhausted.
	Undirected
)

func (k RequestKind) String() string {
	switch k {
	case Directed:
		return "directed"
	case Undirected:
		return "undirected"
	default:
		return "unknown"
	}
}

// JobRequest asks a rank to serve a job's tree index. Field order below
// matches spec.md §6's wire field order, plus one addition: Priority.
// spec.md §6 does not list a priority field, but §4.5's acceptance policy
// requires comparing the requesting job's priority against the receiver's
// current ACTIVE job, and a worker encountering a job for the first time
// (its first REQUEST_NODE) has no other source for that number. We carry
// it on the request itself rather than inventing an out-of-band channel.
type JobRequest struct {
	JobID          int32
	Application    int32
	RootRank       int32
	RequestingRank int32
	RequestedIndex int32
	EmissionTime   time.Time
	BalancingEpoch int32
	Kind           RequestKind
	Hops           int32 // remaining hop budget; meaningful only for Undirected
	Revision       int32
	Priority       float64
}

// wireHopCount recovers the legacy hopCount sentinel encoding described in
// spec.md §6 (-2 for directed, the live hop counter otherwise) so the
// on-the-wire int32 field is preserved even though the in-memory type uses
// an explicit RequestKind.
func (r JobRequest) wireHopCount() int32 {
	if r.Kind == Directed {
		return -2
	}
	return r.Hops
}

func requestKindFromHopCount(hopCount int32) (RequestKind, int32) {
	if hopCount == -2 {
		return Directed, 0
	}
	return Undirected, hopCount
}

// rlpJobRequest is the RLP shadow of JobRequest. RLP cannot natively encode
// negative integers or floating point values, so signed int32 fields are
// carried as their bit-identical uint32 representation and EmissionTime is
// carried as nanoseconds since the Unix epoch.
type rlpJobRequest struct {
	JobID          uint32
	Application    uint32
	RootRank       uint32
	RequestingRank uint32
	RequestedIndex uint32
	EmissionNanos  uint64
	BalancingEpoch uint32
	HopCount       uint32
	Revision       uint32
	PriorityBits   uint64 // math.Float64bits(Priority)
}

// EncodeRLP implements rlp.Encoder.
func (r JobRequest) EncodeRLP(w io.Writer) error {
	shadow := rlpJobRequest{
		JobID:          uint32(r.JobID),
		Application:    uint32(r.Application),
		RootRank:       uint32(r.RootRank),
		RequestingRank: uint32(r.RequestingRank),
		RequestedIndex: uint32(r.RequestedIndex),
		EmissionNanos:  uint64(r.EmissionTime.UnixNano()),
		BalancingEpoch: uint32(r.BalancingEpoch),
		HopCount:       uint32(r.wireHopCount()),
		Revision:       uint32(r.Revision),
		PriorityBits:   math.Float64bits(r.Priority),
	}
	return rlp.Encode(w, &shadow)
}

// DecodeRLP implements rlp.Decoder.
func (r *JobRequest) DecodeRLP(s *rlp.Stream) error {
	var shadow rlpJobRequest
	if err := s.Decode(&shadow); err != nil {
		return err
	}
	kind, hops := requestKindFromHopCount(int32(shadow.HopCount))
	*r = JobRequest{
		JobID:          int32(shadow.JobID),
		Application:    int32(shadow.Application),
		RootRank:       int32(shadow.RootRank),
		RequestingRank: int32(shadow.RequestingRank),
		RequestedIndex: int32(shadow.RequestedIndex),
		EmissionTime:   time.Unix(0, int64(shadow.EmissionNanos)).UTC(),
		BalancingEpoch: int32(shadow.BalancingEpoch),
		Kind:           kind,
		Hops:           hops,
		Revision:       int32(shadow.Revision),
		Priority:       math.Float64frombits(shadow.PriorityBits),
	}
	return nil
}

// EncodeJobRequest marshals a JobRequest to its RLP wire form.
func EncodeJobRequest(r JobRequest) ([]byte, error) {
	return rlp.EncodeToBytes(r)
}

// DecodeJobRequest unmarshals a JobRequest from its RLP wire form.
func DecodeJobRequest(data []byte) (JobRequest, error) {
	var r JobRequest
	err := rlp.DecodeBytes(data, &r)
	return r, err
}
