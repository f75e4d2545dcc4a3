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
	"github.com/ethereum/go-ethereum/rlp"
)

// JobDescription is the SEND_JOB_DESCRIPTION payload (spec.md §6): a
// revision's formula and assumptions, pushed from parent to a newly
// committed child along with the tree position it was granted.
type JobDescription struct {
	JobID       uint32
	Revision    uint32
	TreeIndex   uint32
	RootRank    uint32
	ParentRank  uint32
	Formula     []byte
	Assumptions []byte
	Checksum    uint64
	MaxDemand   uint32
}

// EncodeJobDescription/DecodeJobDescription mirror the JobRequest encoders:
// RLP, as pushsync encodes its chunk payloads.
func EncodeJobDescription(d JobDescription) ([]byte, error) { return rlp.EncodeToBytes(&d) }
func DecodeJobDescription(data []byte) (JobDescription, error) {
	var d JobDescription
	err := rlp.DecodeBytes(data, &d)
	return d, err
}

// GatherMessage is the GATHER_CLAUSES(epoch) payload: a child's merged or
// locally-collected clause buffer, already encoded to its wire bytes by
// the clausecomm package (so this message is agnostic to the bucket
// shape/checksum policy in force).
type GatherMessage struct {
	JobID  uint32
	Epoch  uint32
	Buffer []byte
}

func EncodeGatherMessage(m GatherMessage) ([]byte, error) { return rlp.EncodeToBytes(&m) }
func DecodeGatherMessage(data []byte) (GatherMessage, error) {
	var m GatherMessage
	err := rlp.DecodeBytes(data, &m)
	return m, err
}

// DistributeMessage is the DISTRIBUTE_CLAUSES(epoch) payload, the root's
// aggregate fanned back down the tree.
type DistributeMessage struct {
	JobID  uint32
	Epoch  uint32
	Buffer []byte
}

func EncodeDistributeMessage(m DistributeMessage) ([]byte, error) { return rlp.EncodeToBytes(&m) }
func DecodeDistributeMessage(data []byte) (DistributeMessage, error) {
	var m DistributeMessage
	err := rlp.DecodeBytes(data, &m)
	return m, err
}

// JobDone is the NOTIFY_JOB_DONE payload: the verdict, and for SAT the
// satisfying model as one byte per boolean (simplicity over bit-packing;
// models are tiny relative to the clause traffic this system optimizes
// for).
type JobDone struct {
	JobID    uint32
	Verdict  uint8
	Model    []byte
	Revision uint32
	Reason   uint8
}

func EncodeJobDone(m JobDone) ([]byte, error) { return rlp.EncodeToBytes(&m) }
func DecodeJobDone(data []byte) (JobDone, error) {
	var m JobDone
	err := rlp.DecodeBytes(data, &m)
	return m, err
}

// EncodeModel/DecodeModel convert between a []bool assignment and its
// one-byte-per-literal wire form.
func EncodeModel(model []bool) []byte {
	out := make([]byte, len(model))
	for i, v := range model {
		if v {
			out[i] = 1
		}
	}
	return out
}

func DecodeModel(data []byte) []bool {
	out := make([]bool, len(data))
	for i, b := range data {
		out[i] = b != 0
	}
	return out
}

// VolumeContribution is one job's demand/priority as reported by a single
// worker toward a balancing epoch (spec.md §4.6).
type VolumeContribution struct {
	JobID     uint32
	Demand    uint32
	Priority  uint64 // math.Float64bits(priority)
	Committed bool
}

// QueryVolumeMessage is the QUERY_VOLUME payload: one worker's local view,
// contributed toward the epoch's global aggregation.
type QueryVolumeMessage struct {
	FromRank      uint32
	Epoch         uint32
	Contributions []VolumeContribution
}

func EncodeQueryVolume(m QueryVolumeMessage) ([]byte, error) { return rlp.EncodeToBytes(&m) }
func DecodeQueryVolume(data []byte) (QueryVolumeMessage, error) {
	var m QueryVolumeMessage
	err := rlp.DecodeBytes(data, &m)
	return m, err
}

// VolumeAssignment is one job's computed volume for an epoch.
type VolumeAssignment struct {
	JobID  uint32
	Volume uint32
}

// NotifyVolumeUpdateMessage is the NOTIFY_VOLUME_UPDATE payload: the
// epoch's computed assignment, broadcast to every worker.
type NotifyVolumeUpdateMessage struct {
	Epoch       uint32
	Assignments []VolumeAssignment
}

func EncodeNotifyVolumeUpdate(m NotifyVolumeUpdateMessage) ([]byte, error) {
	return rlp.EncodeToBytes(&m)
}
func DecodeNotifyVolumeUpdate(data []byte) (NotifyVolumeUpdateMessage, error) {
	var m NotifyVolumeUpdateMessage
	err := rlp.DecodeBytes(data, &m)
	return m, err
}
