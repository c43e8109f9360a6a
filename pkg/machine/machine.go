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

// Package machine simulates the hardware side of the privilege-transition
// contract: physical memory, the interrupt controller, the timer, and the
// CPU's resume loop.
//
// The machine stands where the entry stubs and the silicon would stand. It
// builds TrapFrames and SyscallFrames exactly as the stub/hardware pair
// does, delivers them across the OS boundary, and consumes the returned
// frame exactly as the stub epilogue would, including resuming a task
// other than the one that was interrupted.
package machine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"ringlet.dev/ringlet/pkg/ring0"
)

// OS is the kernel side of the platform boundary.
//
// Calls are synchronous: the machine never delivers another event while one
// is being handled, which models interrupts being disabled for the duration
// of the entry paths.
type OS interface {
	// Trap delivers a complete interrupt/exception frame. The returned
	// frame is resumed next; nil means halt until the next interrupt.
	Trap(frame *ring0.TrapFrame) *ring0.TrapFrame

	// Syscall delivers a fast-call frame. If the returned frame is
	// non-nil (or halt is set), the call does not return to its caller
	// and the machine resumes the returned context via the interrupt
	// return path instead of sysret.
	Syscall(frame *ring0.SyscallFrame) (result uint64, switched *ring0.TrapFrame, halt bool)

	// IdleFrame returns the kernel's halted context, used as the
	// interrupted frame when an interrupt arrives during idle.
	IdleFrame() *ring0.TrapFrame
}

// OpKind discriminates simulated user instructions.
type OpKind int

// Simulated instruction kinds.
const (
	OpNop OpKind = iota
	OpTouch
	OpSyscall
)

// Op is one simulated user instruction. Every op occupies opSize bytes of
// the task's code page, so the instruction pointer advances realistically.
type Op struct {
	Kind  OpKind
	Addr  uintptr // OpTouch: address accessed.
	Write bool    // OpTouch: access is a write.
	Num   uint64  // OpSyscall: call number.
	Args  [6]uint64
}

// Nop returns an op that only advances the instruction pointer.
func Nop() Op { return Op{Kind: OpNop} }

// Touch returns an op that reads the given address.
func Touch(addr uintptr) Op { return Op{Kind: OpTouch, Addr: addr} }

// Poke returns an op that writes the given address.
func Poke(addr uintptr) Op { return Op{Kind: OpTouch, Addr: addr, Write: true} }

// Invoke returns an op that executes the fast system-call instruction.
func Invoke(num uint64, args ...uint64) Op {
	op := Op{Kind: OpSyscall, Num: num}
	copy(op.Args[:], args)
	return op
}

// Program is a task's scripted instruction stream.
type Program []Op

// opSize is the encoded size of one simulated instruction.
const opSize = 4

// progState tracks execution progress of one program.
type progState struct {
	ops Program
	pc  int
}

// Config configures a Machine.
type Config struct {
	// MemorySize is the size of physical memory.
	MemorySize uintptr

	// MemoryMap optionally restricts usable physical ranges.
	MemoryMap []MemoryRegion

	// TimerPeriod is the number of executed instructions between timer
	// interrupts.
	TimerPeriod int
}

// Machine is the simulated hardware.
type Machine struct {
	mem *PhysMem
	pic *PIC
	log *logrus.Entry

	// cr3 is the live page-table root; cr2 the last fault address.
	cr3 uint64
	cr2 uintptr

	// frame is the context being executed; nil while halted.
	frame *ring0.TrapFrame

	timerPeriod int
	cycles      uint64

	// programs maps a page-table root to the program running in that
	// address space, which is how the machine identifies "code".
	programs map[uint64]*progState
}

// New creates a machine.
func New(cfg Config, log *logrus.Entry) (*Machine, error) {
	if cfg.TimerPeriod <= 0 {
		return nil, fmt.Errorf("timer period must be positive, got %d", cfg.TimerPeriod)
	}
	var (
		mem *PhysMem
		err error
	)
	if len(cfg.MemoryMap) > 0 {
		mem, err = NewPhysMemWithMap(cfg.MemorySize, cfg.MemoryMap)
	} else {
		mem, err = NewPhysMem(cfg.MemorySize)
	}
	if err != nil {
		return nil, err
	}
	return &Machine{
		mem:         mem,
		pic:         NewPIC(),
		log:         log,
		timerPeriod: cfg.TimerPeriod,
		programs:    make(map[uint64]*progState),
	}, nil
}

// Mem returns the machine's physical memory.
func (m *Machine) Mem() *PhysMem { return m.mem }

// PIC returns the machine's interrupt controller.
func (m *Machine) PIC() *PIC { return m.pic }

// WriteCR3 loads a new page-table root. Called by the kernel when it
// activates an address space.
func (m *Machine) WriteCR3(v uint64) { m.cr3 = v }

// ReadCR3 returns the live page-table root.
func (m *Machine) ReadCR3() uint64 { return m.cr3 }

// ReadCR2 returns the last faulting address.
func (m *Machine) ReadCR2() uintptr { return m.cr2 }

// LoadProgram binds a program to the address space rooted at cr3.
func (m *Machine) LoadProgram(cr3 uint64, prog Program) {
	m.programs[cr3] = &progState{ops: prog}
}

// SetResume installs the context the machine resumes next; nil halts.
func (m *Machine) SetResume(frame *ring0.TrapFrame) {
	m.frame = frame
}

// Resume returns the context the machine is executing; nil while halted.
func (m *Machine) Resume() *ring0.TrapFrame { return m.frame }

// Halted returns true if the machine is idle.
func (m *Machine) Halted() bool { return m.frame == nil }

// Run executes up to steps simulated cycles. A cycle is one instruction, one
// halted tick, or one interrupt delivery.
func (m *Machine) Run(os OS, steps int) {
	for i := 0; i < steps; i++ {
		m.step(os)
	}
}

// step advances the machine by one cycle.
func (m *Machine) step(os OS) {
	// Interrupt delivery happens at instruction boundaries, and only if
	// the executing context has interrupts enabled. The halted kernel
	// idles with interrupts enabled by construction.
	if m.frame == nil || m.frame.InterruptsEnabled() {
		if vector, ok := m.pic.Ack(); ok {
			m.deliver(os, vector, 0, 0)
			return
		}
	}

	// Time passes even while halted.
	m.cycles++
	if m.cycles%uint64(m.timerPeriod) == 0 {
		m.pic.Raise(IRQTimer)
	}

	if m.frame == nil {
		return
	}

	// Fetch: the instruction pointer must translate with user execute
	// access, or the fetch itself faults.
	if !ring0.IsCanonical(m.frame.Rip) {
		m.deliver(os, ring0.GeneralProtectionFault, 0, 0)
		return
	}
	if _, errCode, ok := m.translate(m.cr3, uintptr(m.frame.Rip), access{exec: true, user: m.frame.UserMode()}); !ok {
		m.cr2 = uintptr(m.frame.Rip)
		m.deliver(os, ring0.PageFault, errCode, m.cr2)
		return
	}

	prog := m.programs[m.cr3]
	scripted := prog != nil && prog.pc < len(prog.ops)
	op := Nop() // off the end of the script, spin
	if scripted {
		op = prog.ops[prog.pc]
	}

	switch op.Kind {
	case OpNop:
		if scripted {
			prog.pc++
		}
		m.frame.Rip += opSize

	case OpTouch:
		if !ring0.IsCanonical(uint64(op.Addr)) {
			m.deliver(os, ring0.GeneralProtectionFault, 0, 0)
			return
		}
		if _, errCode, ok := m.translate(m.cr3, op.Addr, access{write: op.Write, user: m.frame.UserMode()}); !ok {
			// Instruction did not complete; Rip stays put.
			m.cr2 = op.Addr
			m.deliver(os, ring0.PageFault, errCode, m.cr2)
			return
		}
		prog.pc++
		m.frame.Rip += opSize

	case OpSyscall:
		prog.pc++
		// The syscall instruction saves the next RIP in RCX and RFLAGS
		// in R11; no stack switch happens.
		sf := &ring0.SyscallFrame{
			Rax:    op.Num,
			Rdi:    op.Args[0],
			Rsi:    op.Args[1],
			Rdx:    op.Args[2],
			R10:    op.Args[3],
			R8:     op.Args[4],
			R9:     op.Args[5],
			Rbx:    m.frame.Rbx,
			Rbp:    m.frame.Rbp,
			R12:    m.frame.R12,
			R13:    m.frame.R13,
			R14:    m.frame.R14,
			R15:    m.frame.R15,
			Rcx:    m.frame.Rip + opSize,
			R11:    m.frame.Eflags,
			UserSP: m.frame.Rsp,
		}
		result, switched, halt := os.Syscall(sf)
		if halt {
			m.frame = nil
			return
		}
		if switched != nil {
			m.frame = switched
			return
		}
		// sysret: resume at the saved RCX with the saved flags.
		m.frame.Rax = result
		m.frame.Rip = sf.Rcx
		m.frame.Eflags = sf.R11
	}
}

// deliver builds the frame the interrupt entry stub would and crosses the
// boundary. The returned context replaces the current one.
func (m *Machine) deliver(os OS, vector ring0.Vector, errCode uint64, faultAddr uintptr) {
	interrupted := m.frame
	if interrupted == nil {
		interrupted = os.IdleFrame()
	}
	f := ring0.FrameFromTrap(vector, errCode, *interrupted,
		interrupted.Rip, interrupted.Cs, interrupted.Eflags, interrupted.Rsp, interrupted.Ss)
	if vector == ring0.PageFault && m.log != nil {
		m.log.WithFields(logrus.Fields{
			"rip": fmt.Sprintf("%#x", f.Rip),
			"cr2": fmt.Sprintf("%#x", faultAddr),
			"err": fmt.Sprintf("%#x", errCode),
		}).Debug("page fault")
	}
	m.frame = os.Trap(f)
}

// Close releases machine resources.
func (m *Machine) Close() error {
	return m.mem.Close()
}
