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

// Package endpoint defines the QoS server records returned by discovery and
// consumed by the probe engine, plus the IPv4 address utilities used to
// coalesce duplicates (§3, §9 "Duplicate coalescing via arena+index").
package endpoint

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Endpoint is a single regional QoS server as described in §3. Clients only
// ever mutate BackoffUntilUTC; every other field is authored by discovery.
type Endpoint struct {
	IPv4            string
	Port            uint16
	RegionID        string
	LocationID      int64
	IPv6            string // display-only; never used on the probe path, see §9
	BackoffUntilUTC time.Time
}

// Validate checks the §3 invariants: ipv4 parses, port is in range, regionid
// is non-empty. Discovery drops any server failing this check.
func (e Endpoint) Validate() error {
	ip := net.ParseIP(e.IPv4)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("endpoint: invalid ipv4 %q", e.IPv4)
	}
	if e.Port < 1 {
		return fmt.Errorf("endpoint: port out of range: %d", e.Port)
	}
	if e.RegionID == "" {
		return fmt.Errorf("endpoint: empty regionid")
	}
	return nil
}

// AddrKey is the normalized binary IPv4+port key used to index endpoints for
// duplicate coalescing and response matching. Two endpoints that resolve to
// the same AddrKey are the same wire destination.
type AddrKey [6]byte

// Key computes e's AddrKey. It assumes e.Validate() has already succeeded;
// the caller is responsible for filtering invalid endpoints first.
func (e Endpoint) Key() (AddrKey, error) {
	ip := net.ParseIP(e.IPv4)
	if ip == nil || ip.To4() == nil {
		return AddrKey{}, fmt.Errorf("endpoint: invalid ipv4 %q", e.IPv4)
	}
	var k AddrKey
	copy(k[0:4], ip.To4())
	binary.BigEndian.PutUint16(k[4:6], e.Port)
	return k, nil
}

// UDPAddr returns the net.UDPAddr to send probes to.
func (e Endpoint) UDPAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(e.IPv4)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("endpoint: invalid ipv4 %q", e.IPv4)
	}
	return &net.UDPAddr{IP: ip.To4(), Port: int(e.Port)}, nil
}

// StatsKey is the orchestrator's convention for keying the stats store: IPv6
// host:port when available, else IPv4 host:port (§4.E "Contract").
func (e Endpoint) StatsKey() string {
	if e.IPv6 != "" {
		return net.JoinHostPort(e.IPv6, fmt.Sprint(e.Port))
	}
	return net.JoinHostPort(e.IPv4, fmt.Sprint(e.Port))
}

// InBackoff reports whether now is before e's BackoffUntilUTC.
func (e Endpoint) InBackoff(now time.Time) bool {
	return now.Before(e.BackoffUntilUTC)
}
