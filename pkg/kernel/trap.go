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

package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ringlet.dev/ringlet/pkg/ring0"
)

// Trap is the interrupt dispatcher, entered by the platform with a complete
// frame for every interrupt and exception. It runs with interrupts disabled
// throughout; nested interrupts are not taken. The returned frame is the
// context to resume, nil to halt until the next interrupt.
//
// Device vectors are acknowledged to the interrupt controller before this
// returns, so an edge latched during handling is redelivered rather than
// lost.
func (k *Kernel) Trap(frame *ring0.TrapFrame) *ring0.TrapFrame {
	v := ring0.Vector(frame.Vector)
	switch {
	case v == ring0.Timer:
		var cur *ring0.TrapFrame
		if frame.UserMode() {
			cur = frame
		}
		// A kernel-mode tick interrupted the idle loop; there is no
		// context to charge.
		r := k.sched.Tick(cur)
		k.intc.EOI(v)
		return k.resume(r)

	case v >= ring0.FirstDevice:
		if h := k.handlers[v]; h != nil {
			h(k, v)
		} else {
			k.log.WithField("vector", v.String()).Warn("spurious device interrupt")
		}
		k.intc.EOI(v)
		if !frame.UserMode() {
			// The idle loop was interrupted; any task a handler woke
			// is picked up on the next tick.
			return nil
		}
		return frame

	default:
		// Faults and reserved vectors. A user-mode fault kills only the
		// faulting task; a kernel-mode fault is a kernel bug.
		if !frame.UserMode() {
			panic(fmt.Sprintf("kernel fault: %v (cr2=%#x)", frame, k.regs.ReadCR2()))
		}
		return k.userFault(v, frame)
	}
}

// userFault kills the faulting task and schedules the next one. The task's
// exit status records the vector, negated, so it is distinguishable from any
// voluntary exit.
func (k *Kernel) userFault(v ring0.Vector, frame *ring0.TrapFrame) *ring0.TrapFrame {
	t := k.sched.Current()
	if t == nil {
		panic(fmt.Sprintf("user fault with no current task: %v", frame))
	}
	fields := logrus.Fields{
		"task":   t.String(),
		"vector": v.String(),
		"rip":    fmt.Sprintf("%#x", frame.Rip),
		"err":    fmt.Sprintf("%#x", frame.ErrorCode),
	}
	if v == ring0.PageFault {
		fields["cr2"] = fmt.Sprintf("%#x", k.regs.ReadCR2())
	}
	k.log.WithFields(fields).Warn("user fault, killing task")
	return k.resume(k.sched.ExitCurrent(-int64(v)))
}
