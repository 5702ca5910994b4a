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

// Package stats implements the weighted rolling statistics store described
// in spec.md §4.E: a per-key bounded history with a weighted moving average
// (heaviest weight on the most recent sample) and invariant-driven
// auto-eviction of endpoints that stop responding. It generalizes the
// single-writer/multi-reader discipline cloudprober's udplistener.Probe
// uses around its probeRunResult map (sync.Mutex there; sync.RWMutex here,
// since §4.E explicitly calls for concurrent readers).
package stats

import (
	"errors"
	"math"
	"sort"
	"sync"
)

// Sample is one observation in an endpoint's history.
type Sample struct {
	LatencyMs  uint32
	PacketLoss float32
}

// ErrConfigInvalid is returned by NewStore for an out-of-range weight.
var ErrConfigInvalid = errors.New("stats: invalid config")

// Config holds the §6 stats tunables.
type Config struct {
	// MaxResults bounds how many samples are kept per key.
	MaxResults int
	// WeightOfCurrentResult is the newest sample's share of the weighted
	// average; the remaining (1-w) is split evenly across older samples.
	WeightOfCurrentResult float64
}

// DefaultConfig returns reasonable defaults; spec.md doesn't name numeric
// defaults for this component, only the valid range for the weight.
func DefaultConfig() Config {
	return Config{MaxResults: 20, WeightOfCurrentResult: 0.5}
}

// Validate checks the weight is within [0,1] and MaxResults is positive.
func (c Config) Validate() error {
	if c.WeightOfCurrentResult < 0 || c.WeightOfCurrentResult > 1 {
		return errors.Join(ErrConfigInvalid, errors.New("weight_of_current_result must be in [0,1]"))
	}
	if c.MaxResults <= 0 {
		return errors.Join(ErrConfigInvalid, errors.New("max_results must be positive"))
	}
	return nil
}

type history struct {
	samples []Sample // newest first
}

// Store is a thread-safe per-key bounded sample history with weighted
// moving average computation.
type Store struct {
	cfg Config
	mu  sync.RWMutex
	m   map[string]*history
}

// NewStore constructs a Store. It returns ErrConfigInvalid if cfg doesn't
// validate.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, m: make(map[string]*history)}, nil
}

// Process inserts sample for key, or evicts key's entire history if sample
// is unreachable (§4.E auto-eviction rule): an INVALID_LATENCY or
// INVALID_PACKET_LOSS sample means the endpoint shouldn't keep winning on
// stale good data.
func (s *Store) Process(key string, sample Sample, invalidLatencyMs uint32, invalidPacketLoss float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sample.LatencyMs == invalidLatencyMs || sample.PacketLoss == invalidPacketLoss {
		delete(s.m, key)
		return
	}

	h, ok := s.m[key]
	if !ok {
		h = &history{}
		s.m[key] = h
	}
	h.samples = append([]Sample{sample}, h.samples...)
	if len(h.samples) > s.cfg.MaxResults {
		h.samples = h.samples[:s.cfg.MaxResults]
	}
}

// AllSamples returns a copy of key's history, newest first, or (nil, false)
// if key has no history.
func (s *Store) AllSamples(key string) ([]Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.m[key]
	if !ok {
		return nil, false
	}
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out, true
}

// WeightedAverage computes key's weighted moving average per §4.E: with n
// samples newest-first, the newest contributes weight w and each of the
// other n-1 contributes (1-w)/(n-1); n==1 returns the sole sample
// untouched. Returns (Sample{}, false) if key has no history.
func (s *Store) WeightedAverage(key string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.m[key]
	if !ok || len(h.samples) == 0 {
		return Sample{}, false
	}

	if len(h.samples) == 1 {
		return h.samples[0], true
	}

	w := s.cfg.WeightOfCurrentResult
	rest := (1 - w) / float64(len(h.samples)-1)

	var latency, loss float64
	for i, sample := range h.samples {
		weight := rest
		if i == 0 {
			weight = w
		}
		latency += weight * float64(sample.LatencyMs)
		loss += weight * float64(sample.PacketLoss)
	}

	return Sample{
		LatencyMs:  uint32(math.Round(latency)),
		PacketLoss: float32(clamp01(loss)),
	}, true
}

// Snapshot returns the weighted average for every key currently tracked
// (added per SPEC_FULL.md §C, for a caller that wants a full fleet ranking
// in one call rather than one key at a time).
func (s *Store) Snapshot() map[string]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Sample, len(s.m))
	for key := range s.m {
		// Re-derive rather than call WeightedAverage to avoid recursive
		// read-locking; RWMutex in the standard library isn't reentrant.
		out[key] = weightedAverageLocked(s.cfg, s.m[key])
	}
	return out
}

// Keys returns all keys currently tracked, sorted for deterministic output.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func weightedAverageLocked(cfg Config, h *history) Sample {
	if h == nil || len(h.samples) == 0 {
		return Sample{}
	}
	if len(h.samples) == 1 {
		return h.samples[0]
	}

	w := cfg.WeightOfCurrentResult
	rest := (1 - w) / float64(len(h.samples)-1)

	var latency, loss float64
	for i, sample := range h.samples {
		weight := rest
		if i == 0 {
			weight = w
		}
		latency += weight * float64(sample.LatencyMs)
		loss += weight * float64(sample.PacketLoss)
	}

	return Sample{
		LatencyMs:  uint32(math.Round(latency)),
		PacketLoss: float32(clamp01(loss)),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
