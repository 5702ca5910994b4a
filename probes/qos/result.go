// Copyright 2024 The Qosprobe Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qos

import (
	"math"

	"github.com/multiplay/qosprobe/internal/wire"
)

const (
	// InvalidLatencyMs is the sentinel average latency for an endpoint with
	// zero responses received.
	InvalidLatencyMs uint32 = math.MaxUint32
	// InvalidPacketLoss is the sentinel packet loss fraction for an
	// endpoint whose send/receive counts are incoherent.
	InvalidPacketLoss float32 = math.MaxFloat32
)

// Result is one endpoint's outcome for a single probe run (§3 ProbeResult).
type Result struct {
	RequestsSent       uint32
	ResponsesReceived  uint32
	InvalidRequests    uint32
	InvalidResponses   uint32
	DuplicateResponses uint32 // reserved, always 0 — see spec.md §9 open question
	AggregateLatencyMs uint32

	FlowControl wire.FlowControl
}

// AverageLatencyMs computes the derived average latency per §3: the sum
// divided by responses received, or InvalidLatencyMs if none arrived.
func (r Result) AverageLatencyMs() uint32 {
	if r.ResponsesReceived == 0 {
		return InvalidLatencyMs
	}
	return r.AggregateLatencyMs / r.ResponsesReceived
}

// PacketLoss computes the derived packet loss fraction per §3: 1 -
// received/sent, or InvalidPacketLoss if nothing was sent or more was
// received than sent (which should never happen but is guarded against).
func (r Result) PacketLoss() float32 {
	if r.RequestsSent == 0 || r.ResponsesReceived > r.RequestsSent {
		return InvalidPacketLoss
	}
	return 1 - float32(r.ResponsesReceived)/float32(r.RequestsSent)
}

// Unreachable reports whether this result should trigger stats eviction
// (§4.E auto-eviction rule).
func (r Result) Unreachable() bool {
	return r.AverageLatencyMs() == InvalidLatencyMs || r.PacketLoss() == InvalidPacketLoss
}
