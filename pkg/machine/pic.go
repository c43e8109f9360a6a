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
	"ringlet.dev/ringlet/pkg/ring0"
)

// Well-known IRQ lines.
const (
	IRQTimer    = 0
	IRQKeyboard = 1

	numIRQs = 16
)

// PIC models a cascaded 8259 pair remapped to vector base 32.
//
// Semantics the transition core depends on: raising an IRQ sets its request
// bit; Ack moves the highest-priority unmasked request to in-service and
// returns its vector; while an IRQ is in service, it and all lower-priority
// requests are withheld until EOI. An edge that arrives while its line is in
// service stays latched, so an event is never lost as long as the handler
// acknowledges before re-enabling delivery — and re-entered if it does not.
type PIC struct {
	// irr is the interrupt request register, one bit per line.
	irr uint16

	// isr is the in-service register.
	isr uint16

	// imr is the interrupt mask register; set bits are masked lines.
	imr uint16
}

// NewPIC returns a PIC with all lines unmasked.
func NewPIC() *PIC {
	return &PIC{}
}

// Raise latches an interrupt request on the given line.
func (p *PIC) Raise(irq int) {
	p.irr |= 1 << irq
}

// SetMask masks or unmasks a line.
func (p *PIC) SetMask(irq int, masked bool) {
	if masked {
		p.imr |= 1 << irq
	} else {
		p.imr &^= 1 << irq
	}
}

// Ack returns the vector of the highest-priority deliverable request, moving
// it to in-service. ok is false if nothing is deliverable.
func (p *PIC) Ack() (vector ring0.Vector, ok bool) {
	for irq := 0; irq < numIRQs; irq++ {
		bit := uint16(1) << irq
		if p.isr&(bit|(bit-1)) != 0 {
			// An equal or higher priority line is in service;
			// everything from here down is withheld.
			return 0, false
		}
		if p.irr&bit != 0 && p.imr&bit == 0 {
			p.irr &^= bit
			p.isr |= bit
			return ring0.FirstDevice + ring0.Vector(irq), true
		}
	}
	return 0, false
}

// EOI signals end-of-interrupt for the given vector.
func (p *PIC) EOI(vector ring0.Vector) {
	irq := int(vector - ring0.FirstDevice)
	if irq < 0 || irq >= numIRQs {
		return
	}
	p.isr &^= 1 << irq
}

// InService returns true if the given line is awaiting EOI.
func (p *PIC) InService(irq int) bool {
	return p.isr&(1<<irq) != 0
}

// Pending returns true if any deliverable request is latched.
func (p *PIC) Pending() bool {
	for irq := 0; irq < numIRQs; irq++ {
		bit := uint16(1) << irq
		if p.isr&(bit|(bit-1)) != 0 {
			return false
		}
		if p.irr&bit != 0 && p.imr&bit == 0 {
			return true
		}
	}
	return false
}
