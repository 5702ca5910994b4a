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

// Package qos implements the single-pass UDP probe engine described in
// spec.md §4.C: one non-blocking send/receive pass across a list of
// endpoints, with pacing, a wall-clock deadline, duplicate-address
// coalescing and server flow-control tracking. It is grounded on
// cloudprober's probes/udplistener package: a single UDP socket, a
// mutex-guarded per-target result map and a ticker-paced send loop,
// generalized here into a single bounded run rather than an indefinite
// probe loop.
package qos

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/multiplay/qosprobe/internal/endpoint"
	"github.com/multiplay/qosprobe/internal/logging"
	"github.com/multiplay/qosprobe/internal/wire"
)

// maxDatagramSize accommodates the largest response this engine will parse.
const maxDatagramSize = wire.MaxPacketLen

// Engine runs single-pass QoS probe jobs. It holds no run-specific state
// between calls to Run; each run owns its own socket for its duration per
// §5's resource lifecycle ("scope-acquired at probe start, released on
// every exit path including error").
type Engine struct {
	l *logging.Logger
}

// NewEngine returns an Engine that logs through l. A nil l is replaced with
// a no-op logger.
func NewEngine(l *logging.Logger) *Engine {
	if l == nil {
		l = logging.Nop()
	}
	return &Engine{l: l}
}

// endpointState tracks the per-run bookkeeping the dispatch/matching phases
// need for one endpoint: its resolved address, the identifier issued for
// this run, and — for duplicates — which earlier index owns the real send.
type endpointState struct {
	addr       *net.UDPAddr
	key        endpoint.AddrKey
	hasKey     bool
	identifier uint16
	firstIdx   int // == own index unless this entry is a duplicate
}

// Run executes one probe pass against endpoints and returns one Result per
// endpoint, index-aligned with the input (§4.C "Operation contract").
func (e *Engine) Run(ctx context.Context, endpoints []endpoint.Endpoint, cfg Config) ([]Result, error) {
	results := make([]Result, len(endpoints))
	if err := cfg.Validate(); err != nil {
		return results, err
	}

	deadline := time.Now().Add(cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	conn, err := newSocket(e.l)
	if err != nil {
		return results, err
	}
	defer conn.Close()

	states := e.indexEndpoints(endpoints)

	outstanding := e.dispatch(ctx, conn, endpoints, states, results, cfg, deadline)
	e.drain(conn, states, results, cfg, deadline, outstanding)
	e.finalize(states, results)

	return results, nil
}

// indexEndpoints implements INDEX_ENDPOINTS (§4.C step 2): normalize each
// endpoint's address and mark later entries sharing an address as
// duplicates of the first, per §9's "arena+index" design.
func (e *Engine) indexEndpoints(endpoints []endpoint.Endpoint) []endpointState {
	states := make([]endpointState, len(endpoints))
	addressIndex := make(map[endpoint.AddrKey]int, len(endpoints))

	for i, ep := range endpoints {
		states[i].firstIdx = i

		key, err := ep.Key()
		if err != nil {
			e.l.Warningf("qos: endpoint %d has unparseable address %q, skipping: %v", i, ep.IPv4, err)
			continue
		}
		addr, err := ep.UDPAddr()
		if err != nil {
			continue
		}
		states[i].addr = addr
		states[i].key = key
		states[i].hasKey = true

		if first, ok := addressIndex[key]; ok {
			states[i].firstIdx = first
		} else {
			addressIndex[key] = i
		}
	}
	return states
}

// dispatch implements the DISPATCH step (§4.C step 3) and returns the
// number of successfully sent probes still awaiting a matching response.
func (e *Engine) dispatch(ctx context.Context, conn *net.UDPConn, endpoints []endpoint.Endpoint, states []endpointState, results []Result, cfg Config, deadline time.Time) int {
	outstanding := 0
	totalSent := uint32(0)
	now := time.Now()

	for i := range endpoints {
		select {
		case <-ctx.Done():
			e.l.Warningf("qos: context canceled, abandoning remaining sends")
			return outstanding
		default:
		}
		if now = time.Now(); now.After(deadline) {
			e.l.Warningf("qos: deadline exceeded, abandoning remaining sends")
			return outstanding
		}

		st := &states[i]
		if st.firstIdx != i {
			continue // duplicate: no packet sent, result copied at finalize
		}
		if !st.hasKey {
			continue // invalid address, leave a zero result
		}
		if endpoints[i].InBackoff(now) {
			continue // flow-control backoff still in effect
		}

		st.identifier = randomIdentifier()
		sent := e.sendBurst(conn, st, &results[i], cfg, deadline, &totalSent)
		outstanding += sent

		outstanding -= e.drainNonBlocking(conn, states, results, cfg)
	}
	return outstanding
}

// sendBurst emits cfg.RequestsPerEndpoint datagrams to one endpoint,
// pacing every cfg.RequestsBetweenPause total successful sends across the
// whole run. It returns the number of probes successfully sent.
func (e *Engine) sendBurst(conn *net.UDPConn, st *endpointState, res *Result, cfg Config, deadline time.Time, totalSent *uint32) int {
	sent := 0
	for seq := uint32(0); seq < cfg.RequestsPerEndpoint; seq++ {
		if time.Now().After(deadline) {
			return sent
		}

		req := wire.Request{
			Title:      cfg.Title,
			Sequence:   uint8(seq),
			Identifier: st.identifier,
			Timestamp:  time.Now().UnixMilli(),
		}
		buf, err := req.Encode()
		if err != nil {
			e.l.Errorf("qos: encode request: %v", err)
			return sent
		}

		cont, counted := e.writeWithRetry(conn, buf, st.addr, res, deadline)
		if counted {
			sent++
			*totalSent++

			if cfg.RequestsBetweenPause > 0 && *totalSent%cfg.RequestsBetweenPause == 0 {
				time.Sleep(cfg.RequestPause)
			}
		}
		if !cont {
			return sent
		}
	}
	return sent
}

// writeWithRetry writes one datagram, retrying transient errors under the
// deadline per §4.C step 3 / §7's TransientIo kind. It returns cont, whether
// the endpoint's send loop should continue (false on PermanentIo or deadline
// expiry), and counted, whether this datagram should be counted toward
// sent/outstanding: per §4.C a short write updates ProbeResult but skips
// counting, since no response will ever arrive to match it.
func (e *Engine) writeWithRetry(conn *net.UDPConn, buf []byte, addr *net.UDPAddr, res *Result, deadline time.Time) (cont, counted bool) {
	for {
		conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := conn.WriteToUDP(buf, addr)
		if err == nil {
			if n != len(buf) {
				res.InvalidRequests++
				return true, false
			}
			res.RequestsSent++
			return true, true
		}
		if isTransient(err) {
			if time.Now().After(deadline) {
				return false, false
			}
			continue
		}
		e.l.Errorf("qos: permanent send error to %v: %v", addr, err)
		return false, false
	}
}

// drainNonBlocking implements the per-endpoint non-blocking drain of §4.C
// step 3's last bullet: keep reading until the socket would block, so the
// kernel receive buffer doesn't overflow while we're still sending bursts
// to other endpoints. It returns the number of responses it matched.
func (e *Engine) drainNonBlocking(conn *net.UDPConn, states []endpointState, results []Result, cfg Config) int {
	matched := 0
	buf := make([]byte, maxDatagramSize)
	for {
		conn.SetReadDeadline(time.Now())
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return matched
		}
		if e.matchResponse(buf[:n], addr, states, results, cfg) {
			matched++
		}
	}
}

// drain implements the DRAIN step (§4.C step 4): switch to blocking reads
// with ReceiveWait timeouts until every outstanding probe is matched or the
// deadline (capped by MaxWait past "now") expires.
func (e *Engine) drain(conn *net.UDPConn, states []endpointState, results []Result, cfg Config, deadline time.Time, outstanding int) {
	drainDeadline := time.Now().Add(cfg.MaxWait)
	if deadline.Before(drainDeadline) {
		drainDeadline = deadline
	}

	buf := make([]byte, maxDatagramSize)
	for outstanding > 0 && time.Now().Before(drainDeadline) {
		conn.SetReadDeadline(time.Now().Add(cfg.ReceiveWait))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue // timeout: loop again until drainDeadline
		}
		if e.matchResponse(buf[:n], addr, states, results, cfg) {
			outstanding--
		}
	}
}

// matchResponse implements the MATCHING step (§4.C step 5). It returns true
// when the datagram was a valid, newly counted response (i.e. one unit of
// "outstanding" should be retired).
func (e *Engine) matchResponse(buf []byte, addr *net.UDPAddr, states []endpointState, results []Result, cfg Config) bool {
	now := time.Now()

	var key endpoint.AddrKey
	copy(key[0:4], addr.IP.To4())
	binary.BigEndian.PutUint16(key[4:6], uint16(addr.Port))

	idx := -1
	for i, st := range states {
		if st.hasKey && st.firstIdx == i && st.key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.l.Warningf("qos: unexpected response from %v, discarding", addr)
		return false
	}

	res := &results[idx]
	st := &states[idx]

	resp, err := wire.DecodeResponse(buf)
	if err != nil {
		res.InvalidResponses++
		return false
	}
	if resp.Identifier != st.identifier {
		res.InvalidResponses++
		return false
	}

	maxSeq := uint8(0)
	if cfg.RequestsPerEndpoint > 0 {
		maxSeq = uint8(cfg.RequestsPerEndpoint - 1)
	}
	if reason := wire.Verify(buf, maxSeq); reason != wire.FailNone {
		res.InvalidResponses++
		return false
	}

	res.ResponsesReceived++
	res.AggregateLatencyMs += uint32(now.UnixMilli() - resp.Timestamp)

	fc := wire.ParseFlowControl(resp.VerAndFlow & 0x0f)
	if res.FlowControl.MoreSevere(fc) {
		res.FlowControl = fc
	}
	return true
}

// finalize implements the FINALIZE step (§4.C step 6): duplicate endpoints
// inherit their owner's result verbatim, including flow control.
func (e *Engine) finalize(states []endpointState, results []Result) {
	for i, st := range states {
		if st.firstIdx != i {
			results[i] = results[st.firstIdx]
		}
	}
}

func randomIdentifier() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is catastrophic for the host, but a
		// predictable identifier is still safe here: worst case we
		// mismatch a stray in-flight packet from a prior run.
		return uint16(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint16(b[:])
}
