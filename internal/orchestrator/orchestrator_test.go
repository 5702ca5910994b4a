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

package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multiplay/qosprobe/internal/discovery"
	"github.com/multiplay/qosprobe/internal/logging"
	"github.com/multiplay/qosprobe/internal/stats"
	"github.com/multiplay/qosprobe/internal/wire"
	"github.com/multiplay/qosprobe/probes/qos"
)

// echoUDP is a minimal loopback responder, mirroring probes/qos's own test
// double but kept local since that one is unexported to its package.
func echoUDP(t *testing.T, flowNibble byte) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, wire.MaxPacketLen)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := buf[:n]
			titleLen := int(req[2]) - 1
			seq := req[3+titleLen]
			identOff := 4 + titleLen
			tsOff := identOff + 2

			resp := make([]byte, 13)
			resp[0] = wire.ResponseMagic
			resp[1] = flowNibble
			resp[2] = seq
			copy(resp[3:5], req[identOff:identOff+2])
			copy(resp[5:13], req[tsOff:tsOff+8])
			conn.WriteToUDP(resp, addr)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

func discoveryServer(t *testing.T, addr *net.UDPAddr) *httptest.Server {
	t.Helper()
	body := fmt.Sprintf(`{"servers":[{"locationid":1,"regionid":"us-east","ipv4":%q,"port":%d}]}`,
		addr.IP.String(), addr.Port)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOrchestrator(t *testing.T, udpAddr *net.UDPAddr) (*Orchestrator, discovery.Config) {
	t.Helper()
	srv := discoveryServer(t, udpAddr)

	discCfg := discovery.DefaultConfig()
	discCfg.FleetID = "fleet-1"
	discCfg.DiscoveryServiceURI = srv.URL + "/fleets/{fleet}/servers"

	discClient, err := discovery.New(discCfg, srv.Client(), nil)
	require.NoError(t, err)

	probeCfg := qos.DefaultConfig()
	probeCfg.Title = "orchestrator-test"
	probeCfg.RequestsPerEndpoint = 2
	probeCfg.Timeout = time.Second
	probeCfg.MaxWait = 200 * time.Millisecond
	probeCfg.ReceiveWait = 10 * time.Millisecond

	store, err := stats.NewStore(stats.DefaultConfig())
	require.NoError(t, err)

	orch, err := New(Config{CheckInterval: 50 * time.Millisecond}, discClient, qos.NewEngine(nil), probeCfg, store, nil)
	require.NoError(t, err)

	return orch, discCfg
}

func TestRunCycleFeedsStatsAndAppliesBackoff(t *testing.T) {
	udpAddr := echoUDP(t, 0b1010) // Ban, raw units=2 -> fc_units=3
	orch, _ := newTestOrchestrator(t, udpAddr)

	results := make(chan CycleResult, 1)
	orch.runCycle(context.Background(), results)

	cr := <-results
	require.NoError(t, cr.Err)
	require.NotEmpty(t, cr.RunID)
	require.Len(t, cr.Results, 1)
	assert.EqualValues(t, 2, cr.Results[0].ResponsesReceived)

	key := cr.Endpoints[0].StatsKey()
	avg, ok := orch.store.WeightedAverage(key)
	require.True(t, ok)
	assert.Less(t, avg.LatencyMs, uint32(1000))

	assert.True(t, cr.Endpoints[0].BackoffUntilUTC.After(time.Now()), "Ban response should set a future backoff")
	assert.True(t, cr.Endpoints[0].BackoffUntilUTC.Before(time.Now().Add(7*time.Minute)), "backoff for fc_units=3 should be ~6.5 minutes")
}

func TestRunCycleNoFlowControlLeavesBackoffZero(t *testing.T) {
	udpAddr := echoUDP(t, 0)
	orch, _ := newTestOrchestrator(t, udpAddr)

	results := make(chan CycleResult, 1)
	orch.runCycle(context.Background(), results)

	cr := <-results
	require.NoError(t, cr.Err)
	assert.True(t, cr.Endpoints[0].BackoffUntilUTC.IsZero())
}

// TestRunCycleBackoffSurvivesDiscoveryCacheExpiry covers the scenario where
// the discovery cache expires and is refetched (producing brand-new Endpoint
// values with a zeroed BackoffUntilUTC) before a server-dictated backoff
// window has elapsed: the orchestrator's own registry, not the discovery
// cache, must still carry the deadline forward.
func TestRunCycleBackoffSurvivesDiscoveryCacheExpiry(t *testing.T) {
	udpAddr := echoUDP(t, 0b1010) // Ban, fc_units=3 -> ~6.5 minute backoff
	orch, discCfg := newTestOrchestrator(t, udpAddr)
	_ = discCfg

	results := make(chan CycleResult, 1)
	orch.runCycle(context.Background(), results)
	first := <-results
	require.NoError(t, first.Err)
	require.True(t, first.Endpoints[0].BackoffUntilUTC.After(time.Now()))

	// Force the discovery client's cache to be considered expired and
	// refetched, as if SuccessCacheTime had elapsed mid-backoff.
	orch.discovery.Reset()

	orch.runCycle(context.Background(), results)
	second := <-results
	require.NoError(t, second.Err)
	assert.True(t, second.Endpoints[0].BackoffUntilUTC.After(time.Now()),
		"backoff deadline must survive a fresh discovery fetch, not just the cached endpoint list")
}

func TestCheckBudgetWarnsWhenOverCommitted(t *testing.T) {
	udpAddr := echoUDP(t, 0)
	orch, discCfg := newTestOrchestrator(t, udpAddr)
	orch.cfg.CheckInterval = time.Millisecond // force the warning path
	var logBuf bytes.Buffer
	orch.l = logging.New(&logBuf)
	orch.checkBudget(discCfg)
	assert.Contains(t, logBuf.String(), "exceeds qos_check_interval_ms")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{CheckInterval: 0}, nil, nil, qos.Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestBackoffDurationMatchesScenarioE4(t *testing.T) {
	// fc_units=3 -> 2*3 + 0.5 minutes = 6.5 minutes.
	assert.Equal(t, 6*time.Minute+30*time.Second, backoffDuration(3))
}
