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
	"testing"
	"time"
)

func TestFakeNetworkDeliversAndTagsSender(t *testing.T) {
	net := NewFakeNetwork(2, 4)
	r0 := net.Router(0)
	r1 := net.Router(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r0.Send(ctx, 1, Envelope{Kind: RequestNode, Payload: []byte("hi")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	env, err := r1.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.From != 0 || env.Kind != RequestNode || string(env.Payload) != "hi" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestFakeNetworkSendOutOfRangeFails(t *testing.T) {
	net := NewFakeNetwork(2, 4)
	r0 := net.Router(0)
	ctx := context.Background()
	if err := r0.Send(ctx, 5, Envelope{}); err == nil {
		t.Fatalf("expected out-of-range send to fail")
	}
}

func TestFakeNetworkRecvRespectsContextCancellation(t *testing.T) {
	net := NewFakeNetwork(1, 1)
	r0 := net.Router(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r0.Recv(ctx); err == nil {
		t.Fatalf("expected Recv to time out with an empty inbox")
	}
}
