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

package wire

import "testing"

func TestParseFlowControlNone(t *testing.T) {
	fc := ParseFlowControl(0)
	if fc.Type != FlowControlNone || fc.Units != 0 {
		t.Errorf("ParseFlowControl(0) = %+v, want None/0", fc)
	}
}

func TestParseFlowControlThrottleRange(t *testing.T) {
	for raw := byte(1); raw <= 7; raw++ {
		fc := ParseFlowControl(raw)
		if fc.Type != FlowControlThrottle {
			t.Errorf("nibble %d: Type = %v, want Throttle", raw, fc.Type)
		}
		if fc.Units != raw {
			t.Errorf("nibble %d: Units = %d, want %d", raw, fc.Units, raw)
		}
	}
}

func TestParseFlowControlBanRange(t *testing.T) {
	for raw := byte(0); raw <= 7; raw++ {
		nibble := 0x08 | raw
		fc := ParseFlowControl(nibble)
		if fc.Type != FlowControlBan {
			t.Errorf("nibble %#x: Type = %v, want Ban", nibble, fc.Type)
		}
		if fc.Units != raw+1 {
			t.Errorf("nibble %#x: Units = %d, want %d", nibble, fc.Units, raw+1)
		}
	}
}

// TestFlowControlRoundTrip covers spec.md §8 property 8: parse(encode(t, u))
// == (t, u) over the valid domain.
func TestFlowControlRoundTrip(t *testing.T) {
	cases := []FlowControl{
		{Type: FlowControlNone, Units: 0},
	}
	for u := uint8(1); u <= 7; u++ {
		cases = append(cases, FlowControl{Type: FlowControlThrottle, Units: u})
	}
	for u := uint8(1); u <= 8; u++ {
		cases = append(cases, FlowControl{Type: FlowControlBan, Units: u})
	}

	for _, fc := range cases {
		got := ParseFlowControl(fc.Encode())
		if got != fc {
			t.Errorf("round trip %+v -> %+v", fc, got)
		}
	}
}

func TestFlowControlMoreSevereTieBreak(t *testing.T) {
	throttle5 := FlowControl{Type: FlowControlThrottle, Units: 5}
	ban5 := FlowControl{Type: FlowControlBan, Units: 5}
	ban3 := FlowControl{Type: FlowControlBan, Units: 3}

	if throttle5.MoreSevere(ban5) {
		t.Error("equal units: Ban should not be more severe than equal-unit Throttle")
	}
	if !throttle5.MoreSevere(FlowControl{Type: FlowControlThrottle, Units: 6}) {
		t.Error("higher units should be more severe regardless of type")
	}
	if ban5.MoreSevere(ban3) {
		t.Error("lower units should not be more severe")
	}
}
