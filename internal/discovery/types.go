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

package discovery

import "github.com/multiplay/qosprobe/internal/endpoint"

// serverDTO is the wire shape of one entry in the discovery response's
// "servers" array (§6).
type serverDTO struct {
	LocationID int64  `json:"locationid"`
	RegionID   string `json:"regionid"`
	IPv4       string `json:"ipv4"`
	IPv6       string `json:"ipv6"`
	Port       uint16 `json:"port"`
}

// responseBody is the top-level discovery JSON document.
type responseBody struct {
	Servers []serverDTO `json:"servers"`
}

func (d serverDTO) toEndpoint() endpoint.Endpoint {
	return endpoint.Endpoint{
		IPv4:       d.IPv4,
		IPv6:       d.IPv6,
		Port:       d.Port,
		RegionID:   d.RegionID,
		LocationID: d.LocationID,
	}
}

// filterValid drops servers failing the §3 Endpoint invariants, matching
// the discovery contract's "strip servers failing the Endpoint invariants".
func filterValid(dtos []serverDTO, l logWarner) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(dtos))
	for _, d := range dtos {
		ep := d.toEndpoint()
		if err := ep.Validate(); err != nil {
			l.Warningf("discovery: dropping invalid server (region=%q ip=%q port=%d): %v", d.RegionID, d.IPv4, d.Port, err)
			continue
		}
		out = append(out, ep)
	}
	return out
}

// logWarner is the narrow logging surface types.go needs, so this file
// doesn't have to import the logging package's concrete type just to call
// Warningf in a test double.
type logWarner interface {
	Warningf(format string, args ...any)
}
