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

import "testing"

func TestParseETag(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`W/"abc"`, "abc"},
		{`"abc"`, "abc"},
		{`abc`, ""},          // unwrapped: not accepted
		{`W/abc`, ""},        // weak but not quoted: not accepted
		{``, ""},
	}
	for _, tt := range tests {
		if got := parseETag(tt.raw); got != tt.want {
			t.Errorf("parseETag(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		header    string
		wantSecs  int
		wantFound bool
	}{
		{"max-age=60", 60, true},
		{"no-cache, max-age=120", 120, true},
		{"no-store", 0, false},
		{"", 0, false},
		{"max-age=-5", 0, false},
	}
	for _, tt := range tests {
		secs, ok := parseMaxAge(tt.header)
		if ok != tt.wantFound || secs != tt.wantSecs {
			t.Errorf("parseMaxAge(%q) = (%d, %v), want (%d, %v)", tt.header, secs, ok, tt.wantSecs, tt.wantFound)
		}
	}
}
