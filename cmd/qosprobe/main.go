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

// Command qosprobe runs the Discovery -> Probe -> Stats cycle against a
// fleet id and prints each cycle's per-endpoint weighted averages.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multiplay/qosprobe/internal/discovery"
	"github.com/multiplay/qosprobe/internal/logging"
	"github.com/multiplay/qosprobe/internal/orchestrator"
	"github.com/multiplay/qosprobe/internal/stats"
	"github.com/multiplay/qosprobe/probes/qos"
)

func main() {
	fleetID := flag.String("fleet_id", "", "fleet id to query the discovery service for (required)")
	discoveryURI := flag.String("discovery_service_uri", discovery.DefaultDiscoveryServiceURI, "discovery service URL template, {fleet} is substituted")
	checkInterval := flag.Duration("qos_check_interval", 30*time.Second, "how often to run a full discovery+probe cycle")
	requestsPerEndpoint := flag.Uint("requests_per_endpoint", 5, "probe datagrams sent per endpoint per cycle")
	probeTimeout := flag.Duration("probe_timeout", 10*time.Second, "wall-clock budget for one probe run")
	title := flag.String("title", "qosprobe", "probe title stamped into every request packet")
	flag.Parse()

	if *fleetID == "" {
		fmt.Fprintln(os.Stderr, "qosprobe: -fleet_id is required")
		os.Exit(2)
	}

	l := logging.New(os.Stderr)

	discCfg := discovery.DefaultConfig()
	discCfg.FleetID = *fleetID
	discCfg.DiscoveryServiceURI = *discoveryURI

	discClient, err := discovery.New(discCfg, nil, l.With("component", "discovery"))
	if err != nil {
		l.Errorf("invalid discovery config: %v", err)
		os.Exit(1)
	}

	probeCfg := qos.DefaultConfig()
	probeCfg.Title = *title
	probeCfg.RequestsPerEndpoint = uint32(*requestsPerEndpoint)
	probeCfg.Timeout = *probeTimeout

	store, err := stats.NewStore(stats.DefaultConfig())
	if err != nil {
		l.Errorf("invalid stats config: %v", err)
		os.Exit(1)
	}

	engine := qos.NewEngine(l.With("component", "probe"))

	orch, err := orchestrator.New(
		orchestrator.Config{CheckInterval: *checkInterval},
		discClient,
		engine,
		probeCfg,
		store,
		l.With("component", "orchestrator"),
	)
	if err != nil {
		l.Errorf("invalid orchestrator config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make(chan orchestrator.CycleResult, 1)
	go orch.Start(ctx, discCfg, results)

	for {
		select {
		case <-ctx.Done():
			l.Infof("qosprobe: shutting down")
			return
		case cr := <-results:
			reportCycle(l, cr, store)
		}
	}
}

func reportCycle(l *logging.Logger, cr orchestrator.CycleResult, store *stats.Store) {
	if cr.Err != nil {
		l.Warningf("cycle %s: %v", cr.RunID, cr.Err)
		return
	}
	for _, ep := range cr.Endpoints {
		key := ep.StatsKey()
		avg, ok := store.WeightedAverage(key)
		if !ok {
			continue
		}
		l.Infof("cycle %s: %s (%s) avg_latency_ms=%d packet_loss=%.3f", cr.RunID, key, ep.RegionID, avg.LatencyMs, avg.PacketLoss)
	}
}
