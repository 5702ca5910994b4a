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

// Package orchestrator drives the periodic Discovery -> Probe -> Stats cycle
// described in spec.md §4.F. It is grounded on cloudprober's probe.Start(ctx,
// dataChan) convention (seen in udplistener.go and grpc.go): a single
// goroutine-friendly Start method that loops until ctx is canceled, reporting
// each cycle's outcome on a channel rather than returning a value.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multiplay/qosprobe/internal/discovery"
	"github.com/multiplay/qosprobe/internal/endpoint"
	"github.com/multiplay/qosprobe/internal/logging"
	"github.com/multiplay/qosprobe/internal/stats"
	"github.com/multiplay/qosprobe/internal/wire"
	"github.com/multiplay/qosprobe/probes/qos"
)

// ErrConfigInvalid is returned by New for an invalid Config.
var ErrConfigInvalid = errors.New("orchestrator: invalid config")

// Config holds the §4.F/§6 orchestrator tunables.
type Config struct {
	// CheckInterval is the period between the start of one cycle and the
	// next (qos_check_interval_ms).
	CheckInterval time.Duration
}

// Validate enforces CheckInterval is positive.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return errors.Join(ErrConfigInvalid, errors.New("qos_check_interval_ms must be positive"))
	}
	return nil
}

// CycleResult summarizes one orchestrator cycle, emitted on the channel
// passed to Start (SPEC_FULL.md §C's per-run correlation id lives here).
type CycleResult struct {
	RunID     string
	StartedAt time.Time
	Endpoints []endpoint.Endpoint
	Results   []qos.Result
	Err       error
}

// Orchestrator ties a discovery.Client, qos.Engine and stats.Store into the
// periodic loop §4.F describes. It owns no network resources itself — those
// are scope-owned by the discovery client and each probe run respectively,
// per §5's resource lifecycle.
type Orchestrator struct {
	cfg       Config
	discovery *discovery.Client
	engine    *qos.Engine
	probeCfg  qos.Config
	store     *stats.Store
	l         *logging.Logger

	backoffMu sync.Mutex
	// backoffs carries BackoffUntilUTC deadlines across discovery refreshes,
	// keyed by endpoint.StatsKey(). The discovery client's cache (and the
	// Endpoint values it hands back) can be evicted and refetched well
	// before a backoff window elapses — SuccessCacheTime defaults to 30s
	// while the shortest possible backoff is 2.5 minutes — so this registry,
	// not the cache, is the source of truth for an endpoint's backoff.
	backoffs map[string]time.Time
}

// New constructs an Orchestrator. l may be nil for a no-op logger.
func New(cfg Config, disc *discovery.Client, engine *qos.Engine, probeCfg qos.Config, store *stats.Store, l *logging.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logging.Nop()
	}
	return &Orchestrator{
		cfg:       cfg,
		discovery: disc,
		engine:    engine,
		probeCfg:  probeCfg,
		store:     store,
		l:         l,
		backoffs:  make(map[string]time.Time),
	}, nil
}

// applyBackoffs overwrites each endpoint's BackoffUntilUTC with the
// registry's deadline for its StatsKey, if any, discarding stale entries
// (those already in the past) along the way so the map doesn't grow without
// bound as endpoints come and go.
func (o *Orchestrator) applyBackoffs(endpoints []endpoint.Endpoint, now time.Time) {
	o.backoffMu.Lock()
	defer o.backoffMu.Unlock()

	for key, until := range o.backoffs {
		if !now.Before(until) {
			delete(o.backoffs, key)
		}
	}
	for i := range endpoints {
		if until, ok := o.backoffs[endpoints[i].StatsKey()]; ok {
			endpoints[i].BackoffUntilUTC = until
		}
	}
}

// setBackoff records key's backoff deadline in the registry, independent of
// the discovery cache's lifetime.
func (o *Orchestrator) setBackoff(key string, until time.Time) {
	o.backoffMu.Lock()
	defer o.backoffMu.Unlock()
	o.backoffs[key] = until
}

// discoveryWorstCase estimates the longest a single Discover call can take:
// one attempt's timeout times the number of attempts a full retry budget
// allows (original try plus request_retries retries).
func discoveryWorstCase(cfg discovery.Config) time.Duration {
	return cfg.RequestTimeout * time.Duration(cfg.RequestRetries+1)
}

// checkBudget warns if a single cycle can't plausibly finish inside the
// configured interval, per §4.F's "warns if probe_timeout +
// discovery_worst_case > interval".
func (o *Orchestrator) checkBudget(discCfg discovery.Config) {
	budget := o.probeCfg.Timeout + discoveryWorstCase(discCfg)
	if budget > o.cfg.CheckInterval {
		o.l.Warningf("orchestrator: probe_timeout+discovery_worst_case (%s) exceeds qos_check_interval_ms (%s); cycles may overlap", budget, o.cfg.CheckInterval)
	}
}

// Start runs the periodic loop until ctx is canceled, sending one
// CycleResult per iteration on results. It returns once ctx is done and the
// channel is safe to close by the caller after Start returns.
func (o *Orchestrator) Start(ctx context.Context, discCfg discovery.Config, results chan<- CycleResult) {
	o.checkBudget(discCfg)

	ticker := time.NewTicker(o.cfg.CheckInterval)
	defer ticker.Stop()

	o.runCycle(ctx, results)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runCycle(ctx, results)
		}
	}
}

// runCycle executes one Discovery -> Probe -> Stats pass and publishes its
// outcome. Discovery runs synchronously here (Start's single-in-flight
// invariant is the discovery.Client's own concern, not the orchestrator's);
// this keeps each cycle's ordering (discover, wait, probe, feed stats)
// exactly as §4.F specifies.
func (o *Orchestrator) runCycle(ctx context.Context, results chan<- CycleResult) {
	runID := uuid.NewString()
	startedAt := time.Now()

	endpoints, err := o.discovery.Discover(ctx)
	if err != nil {
		o.publish(results, CycleResult{RunID: runID, StartedAt: startedAt, Err: err})
		return
	}
	o.applyBackoffs(endpoints, startedAt)

	probeResults, err := o.engine.Run(ctx, endpoints, o.probeCfg)
	if err != nil {
		o.publish(results, CycleResult{RunID: runID, StartedAt: startedAt, Endpoints: endpoints, Err: err})
		return
	}

	now := time.Now()
	for i, ep := range endpoints {
		res := probeResults[i]
		o.store.Process(ep.StatsKey(), stats.Sample{
			LatencyMs:  res.AverageLatencyMs(),
			PacketLoss: res.PacketLoss(),
		}, qos.InvalidLatencyMs, qos.InvalidPacketLoss)

		if res.ResponsesReceived > 0 && res.FlowControl.Type != wire.FlowControlNone {
			until := now.Add(backoffDuration(res.FlowControl.Units))
			endpoints[i].BackoffUntilUTC = until
			o.setBackoff(ep.StatsKey(), until)
		}
	}

	o.publish(results, CycleResult{
		RunID:     runID,
		StartedAt: startedAt,
		Endpoints: endpoints,
		Results:   probeResults,
	})
}

// backoffDuration implements §6's server-dictated backoff encoding:
// backoff_duration = 2*fc_units minutes + 30 seconds.
func backoffDuration(units uint8) time.Duration {
	return 2*time.Duration(units)*time.Minute + 30*time.Second
}

func (o *Orchestrator) publish(results chan<- CycleResult, cr CycleResult) {
	select {
	case results <- cr:
	default:
		o.l.Warningf("orchestrator: results channel full, dropping cycle %s", cr.RunID)
	}
}
