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

package ring0

import (
	"fmt"
)

// TrapFrame is the complete register snapshot built by the interrupt entry
// stub, in memory order from lowest address.
//
// The layout is load-bearing: the stub pushes SS..RIP via the hardware, then
// the error code (or a zero placeholder) and vector, then the general
// purpose registers from RAX down to R15. The epilogue pops in exactly the
// reverse order and executes iretq against the final five fields. Any
// change here must be matched in the stubs; see TestTrapFrameLayout.
type TrapFrame struct {
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	R11 uint64
	R10 uint64
	R9  uint64
	R8  uint64
	Rbp uint64
	Rdi uint64
	Rsi uint64
	Rdx uint64
	Rcx uint64
	Rbx uint64
	Rax uint64

	// Vector is pushed by the entry stub; ErrorCode is pushed by the
	// hardware for the vectors that have one and by the stub (as zero)
	// otherwise, so the layout is uniform.
	Vector    uint64
	ErrorCode uint64

	// The five values below are pushed by the hardware on any ring
	// transition and popped by iretq.
	Rip    uint64
	Cs     uint64
	Eflags uint64
	Rsp    uint64
	Ss     uint64
}

// FrameFromTrap assembles a TrapFrame the way the entry stub does: from the
// hardware-pushed tail, the vector/error pair, and the saved general
// purpose registers.
func FrameFromTrap(vector Vector, errorCode uint64, regs TrapFrame, rip, cs, eflags, rsp, ss uint64) *TrapFrame {
	f := regs
	f.Vector = uint64(vector)
	f.ErrorCode = errorCode
	f.Rip = rip
	f.Cs = cs
	f.Eflags = eflags
	f.Rsp = rsp
	f.Ss = ss
	return &f
}

// FrameForNewTask constructs the synthetic first-run frame for a task that
// has never executed: entry point and fresh user stack, ring-3 selectors,
// interrupts enabled, and all general purpose registers zero. The stub
// epilogue consumes it exactly as if it had been saved by a real interrupt.
func FrameForNewTask(entry, userStackTop uintptr) *TrapFrame {
	return &TrapFrame{
		Rip:    uint64(entry),
		Cs:     uint64(Ucode64),
		Eflags: UserFlagsSet,
		Rsp:    uint64(userStackTop),
		Ss:     uint64(Udata),
	}
}

// UserMode returns true if the frame was captured in ring 3.
//
//go:nosplit
func (f *TrapFrame) UserMode() bool {
	return f.Cs&3 == 3
}

// InterruptsEnabled returns true if the frame's RFLAGS has IF set.
//
//go:nosplit
func (f *TrapFrame) InterruptsEnabled() bool {
	return f.Eflags&_RFLAGS_IF != 0
}

// String implements fmt.Stringer.String.
func (f *TrapFrame) String() string {
	return fmt.Sprintf("%s(err=%#x) rip=%#x cs=%#x rflags=%#x rsp=%#x ss=%#x",
		Vector(f.Vector), f.ErrorCode, f.Rip, f.Cs, f.Eflags, f.Rsp, f.Ss)
}

// SyscallFrame is the register set saved by the fast-syscall entry stub.
//
// The syscall instruction saves the user RIP into RCX and RFLAGS into R11;
// no stack switch happens automatically. The stub stashes the user stack
// pointer into the per-CPU slot, loads the kernel stack and pushes this
// frame. It is deliberately smaller than a TrapFrame: a call that returns
// normally goes back out via sysret, which only restores RCX/R11 and the
// registers the C ABI requires the kernel to preserve.
type SyscallFrame struct {
	// Rax carries the call number on entry and the result on exit.
	Rax uint64

	// Arguments, in the fixed syscall argument registers.
	Rdi uint64
	Rsi uint64
	Rdx uint64
	R10 uint64
	R8  uint64
	R9  uint64

	// Callee-saved registers.
	Rbx uint64
	Rbp uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Rcx is the user RIP and R11 the user RFLAGS, as saved by the
	// syscall instruction itself.
	Rcx uint64
	R11 uint64

	// UserSP is the stashed user stack pointer, copied out of the per-CPU
	// slot so the frame is self-contained.
	UserSP uint64
}

// Args returns the six syscall argument registers in ABI order.
func (f *SyscallFrame) Args() [6]uint64 {
	return [6]uint64{f.Rdi, f.Rsi, f.Rdx, f.R10, f.R8, f.R9}
}

// TrapFrameFromSyscall converts a syscall frame into an equivalent trap
// frame that resumes at the instruction following the syscall. This is the
// bridge used when a call does not return to its caller (exit): the
// scheduler is entered with a frame that can be consumed by the interrupt
// return path like any other.
func TrapFrameFromSyscall(f *SyscallFrame) *TrapFrame {
	return &TrapFrame{
		R15:    f.R15,
		R14:    f.R14,
		R13:    f.R13,
		R12:    f.R12,
		R11:    f.R11,
		R10:    f.R10,
		R9:     f.R9,
		R8:     f.R8,
		Rbp:    f.Rbp,
		Rdi:    f.Rdi,
		Rsi:    f.Rsi,
		Rdx:    f.Rdx,
		Rcx:    f.Rcx,
		Rbx:    f.Rbx,
		Rax:    f.Rax,
		Rip:    f.Rcx,
		Cs:     uint64(Ucode64),
		Eflags: f.R11&^uint64(UserFlagsClear) | UserFlagsSet,
		Rsp:    f.UserSP,
		Ss:     uint64(Udata),
	}
}
