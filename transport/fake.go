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

package transport

import (
	"context"
	"fmt"
)

// FakeNetwork is an in-process Router fabric connecting a fixed set of
// ranks via buffered channels, for deterministic tests of the scheduler,
// clause communicator, and worker main loop without a real transport.
type FakeNetwork struct {
	inboxes []chan Envelope
}

// NewFakeNetwork returns a network with n ranks, each with the given
// per-rank inbox depth.
func NewFakeNetwork(n, depth int) *FakeNetwork {
	net := &FakeNetwork{inboxes: make([]chan Envelope, n)}
	for i := range net.inboxes {
		net.inboxes[i] = make(chan Envelope, depth)
	}
	return net
}

// Router returns the Router view for the given rank.
func (net *FakeNetwork) Router(rank int) Router {
	return &fakeRouter{net: net, rank: rank}
}

type fakeRouter struct {
	net  *FakeNetwork
	rank int
}

func (r *fakeRouter) Rank() int { return r.rank }

func (r *fakeRouter) Send(ctx context.Context, toRank int, env Envelope) error {
	if toRank < 0 || toRank >= len(r.net.inboxes) {
		return fmt.Errorf("transport: rank %d out of range", toRank)
	}
	env.From = r.rank
	select {
	case r.net.inboxes[toRank] <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeRouter) Recv(ctx context.Context) (Envelope, error) {
	select {
	case env := <-r.net.inboxes[r.rank]:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
