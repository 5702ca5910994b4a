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

package endpoint

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ep      Endpoint
		wantErr bool
	}{
		{"valid", Endpoint{IPv4: "1.2.3.4", Port: 7777, RegionID: "us-east"}, false},
		{"bad ipv4", Endpoint{IPv4: "not-an-ip", Port: 7777, RegionID: "us-east"}, true},
		{"ipv6 in ipv4 field", Endpoint{IPv4: "::1", Port: 7777, RegionID: "us-east"}, true},
		{"zero port", Endpoint{IPv4: "1.2.3.4", Port: 0, RegionID: "us-east"}, true},
		{"empty region", Endpoint{IPv4: "1.2.3.4", Port: 7777, RegionID: ""}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ep.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyCoalescesDuplicates(t *testing.T) {
	a := Endpoint{IPv4: "1.2.3.4", Port: 7777, RegionID: "us-east"}
	b := Endpoint{IPv4: "1.2.3.4", Port: 7777, RegionID: "us-east-replica"}
	c := Endpoint{IPv4: "1.2.3.5", Port: 7777, RegionID: "us-east"}

	ka, err := a.Key()
	if err != nil {
		t.Fatalf("a.Key(): %v", err)
	}
	kb, err := b.Key()
	if err != nil {
		t.Fatalf("b.Key(): %v", err)
	}
	kc, err := c.Key()
	if err != nil {
		t.Fatalf("c.Key(): %v", err)
	}

	if ka != kb {
		t.Errorf("same ipv4:port should produce equal keys: %v != %v", ka, kb)
	}
	if ka == kc {
		t.Errorf("different ipv4 should produce different keys: %v == %v", ka, kc)
	}
}

func TestStatsKeyPrefersIPv6(t *testing.T) {
	e := Endpoint{IPv4: "1.2.3.4", IPv6: "::1", Port: 7777, RegionID: "us-east"}
	if got, want := e.StatsKey(), "[::1]:7777"; got != want {
		t.Errorf("StatsKey() = %q, want %q", got, want)
	}

	e.IPv6 = ""
	if got, want := e.StatsKey(), "1.2.3.4:7777"; got != want {
		t.Errorf("StatsKey() = %q, want %q", got, want)
	}
}
