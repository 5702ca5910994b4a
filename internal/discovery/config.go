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

// Package discovery implements the HTTP endpoint-list retrieval pipeline
// described in spec.md §4.D: conditional GETs with ETag/If-None-Match,
// Cache-Control max-age honoring, bounded retries, gzip handling and
// cancellation-safe in-flight replacement. It is grounded on cloudprober's
// internal/rds/client package, which has the same shape (a cache guarded by
// a mutex, a conditional refresh keyed off a server-provided validator,
// filtering of records that fail basic invariants) adapted from RDS's
// IfModifiedSince/last-modified protocol to HTTP's ETag/Cache-Control.
package discovery

import (
	"errors"
	"time"
)

// Config holds the tunables listed in spec.md §6.
type Config struct {
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration
	// RequestRetries is how many times a network error or 5xx is retried.
	RequestRetries int
	// FailureCacheTime is how long an exhausted-retries failure is cached
	// so back-to-back calls coalesce.
	FailureCacheTime time.Duration
	// SuccessCacheTime is the fallback cache lifetime when the server
	// doesn't send a Cache-Control max-age.
	SuccessCacheTime time.Duration
	// DiscoveryServiceURI is the URL template; "{fleet}" is replaced with
	// the URL-escaped fleet id.
	DiscoveryServiceURI string
	// FleetID identifies which fleet's server list to fetch.
	FleetID string
	// UseGzip controls whether Accept-Encoding: gzip is sent.
	UseGzip bool
}

// DefaultDiscoveryServiceURI is the spec's default URL template.
const DefaultDiscoveryServiceURI = "https://qos.multiplay.com/v1/fleets/{fleet}/servers"

// DefaultConfig returns the spec's §4.D defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:      10 * time.Second,
		RequestRetries:      2,
		FailureCacheTime:    time.Second,
		SuccessCacheTime:    30 * time.Second,
		DiscoveryServiceURI: DefaultDiscoveryServiceURI,
		UseGzip:             true,
	}
}

// ErrConfigInvalid is the sentinel wrapped by Validate's returned errors.
var ErrConfigInvalid = errors.New("discovery: invalid config")

// Validate enforces the basic shape a Client needs to operate.
func (c Config) Validate() error {
	if c.FleetID == "" {
		return errors.Join(ErrConfigInvalid, errors.New("fleet_id must not be empty"))
	}
	if c.DiscoveryServiceURI == "" {
		return errors.Join(ErrConfigInvalid, errors.New("discovery_service_uri must not be empty"))
	}
	if c.RequestTimeout <= 0 {
		return errors.Join(ErrConfigInvalid, errors.New("request_timeout_sec must be positive"))
	}
	return nil
}
