// Copyright 2026 The Ringlet Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package machine

import (
	"testing"

	"ringlet.dev/ringlet/pkg/ring0"
)

func TestAckPriority(t *testing.T) {
	p := NewPIC()
	p.Raise(IRQKeyboard)
	p.Raise(IRQTimer)
	v, ok := p.Ack()
	if !ok || v != ring0.Timer {
		t.Fatalf("got vector %v (ok=%v), want %v", v, ok, ring0.Timer)
	}
	if !p.InService(IRQTimer) {
		t.Errorf("timer not in service after ack")
	}
}

func TestInServiceBlocksEqualAndLower(t *testing.T) {
	p := NewPIC()
	p.Raise(IRQTimer)
	if _, ok := p.Ack(); !ok {
		t.Fatalf("first ack failed")
	}

	// While IRQ0 is in service nothing of equal or lower priority is
	// deliverable.
	p.Raise(IRQTimer)
	p.Raise(IRQKeyboard)
	if v, ok := p.Ack(); ok {
		t.Fatalf("ack while in service returned vector %v", v)
	}
	if p.Pending() {
		t.Errorf("Pending true while all requests are withheld")
	}

	p.EOI(ring0.Timer)
	v, ok := p.Ack()
	if !ok || v != ring0.Timer {
		t.Fatalf("after EOI got vector %v (ok=%v), want latched timer", v, ok)
	}
}

func TestEdgeLatchedDuringService(t *testing.T) {
	p := NewPIC()
	p.Raise(IRQKeyboard)
	if _, ok := p.Ack(); !ok {
		t.Fatalf("ack failed")
	}
	// A second edge on the same line during service must not be lost.
	p.Raise(IRQKeyboard)
	p.EOI(ring0.Keyboard)
	v, ok := p.Ack()
	if !ok || v != ring0.Keyboard {
		t.Fatalf("latched edge lost: got %v (ok=%v)", v, ok)
	}
}

func TestMaskBlocksDelivery(t *testing.T) {
	p := NewPIC()
	p.SetMask(IRQKeyboard, true)
	p.Raise(IRQKeyboard)
	if p.Pending() {
		t.Errorf("masked request reported pending")
	}
	if v, ok := p.Ack(); ok {
		t.Fatalf("masked request delivered as vector %v", v)
	}

	// The request stays latched behind the mask.
	p.SetMask(IRQKeyboard, false)
	v, ok := p.Ack()
	if !ok || v != ring0.Keyboard {
		t.Fatalf("unmasked request not delivered: got %v (ok=%v)", v, ok)
	}
}

func TestEOIUnknownVectorIgnored(t *testing.T) {
	p := NewPIC()
	p.EOI(ring0.PageFault) // not a device vector
	p.Raise(IRQTimer)
	if _, ok := p.Ack(); !ok {
		t.Fatalf("PIC state corrupted by stray EOI")
	}
}
