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

// Package transport names the contract the worker main loop sends and
// receives messages through. The concrete message-passing layer is out of
// scope (spec.md §1); this package only fixes the message kinds and the
// Router boundary a real transport would implement, shaped after
// go-ethereum/p2p's MsgReadWriter/Peer without depending on it.
package transport

import "context"

// MessageKind tags the payload of an Envelope, per spec.md §6.
type MessageKind int

const (
	RequestNode MessageKind = iota
	RequestNodeOneshot
	OfferAdoption
	RejectAdoption
	SendJobDescription
	GatherClauses
	DistributeClauses
	NotifyJobDone
	QueryVolume
	NotifyVolumeUpdate
)

func (k MessageKind) String() string {
	switch k {
	case RequestNode:
		return "REQUEST_NODE"
	case RequestNodeOneshot:
		return "REQUEST_NODE_ONESHOT"
	case OfferAdoption:
		return "OFFER_ADOPTION"
	case RejectAdoption:
		return "REJECT_ADOPTION"
	case SendJobDescription:
		return "SEND_JOB_DESCRIPTION"
	case GatherClauses:
		return "GATHER_CLAUSES"
	case DistributeClauses:
		return "DISTRIBUTE_CLAUSES"
	case NotifyJobDone:
		return "NOTIFY_JOB_DONE"
	case QueryVolume:
		return "QUERY_VOLUME"
	case NotifyVolumeUpdate:
		return "NOTIFY_VOLUME_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Envelope is one message on the wire: a kind tag, the sender's rank, and
// an opaque, already-encoded payload (encoded by the wire package).
type Envelope struct {
	Kind    MessageKind
	From    int
	Payload []byte
}

// Router is the minimal contract the worker main loop needs from the
// underlying transport: send an envelope to a specific rank, and receive
// the next one addressed to this rank. A production deployment would
// implement this over a real message-passing layer (MPI, a p2p overlay,
// …); tests implement it with an in-process fake.
type Router interface {
	Send(ctx context.Context, toRank int, env Envelope) error
	Recv(ctx context.Context) (Envelope, error)
	Rank() int
}
