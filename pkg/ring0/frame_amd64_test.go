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
	"testing"
	"unsafe"
)

// TestTrapFrameLayout pins the frame layout the entry stubs depend on. A
// failure here means the stub push/pop sequences no longer agree with the
// Go view of the frame.
func TestTrapFrameLayout(t *testing.T) {
	var f TrapFrame
	if got, want := unsafe.Sizeof(f), uintptr(22*8); got != want {
		t.Errorf("TrapFrame size = %d, want %d", got, want)
	}
	offsets := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"R15", unsafe.Offsetof(f.R15), 0x00},
		{"R14", unsafe.Offsetof(f.R14), 0x08},
		{"R13", unsafe.Offsetof(f.R13), 0x10},
		{"R12", unsafe.Offsetof(f.R12), 0x18},
		{"R11", unsafe.Offsetof(f.R11), 0x20},
		{"R10", unsafe.Offsetof(f.R10), 0x28},
		{"R9", unsafe.Offsetof(f.R9), 0x30},
		{"R8", unsafe.Offsetof(f.R8), 0x38},
		{"Rbp", unsafe.Offsetof(f.Rbp), 0x40},
		{"Rdi", unsafe.Offsetof(f.Rdi), 0x48},
		{"Rsi", unsafe.Offsetof(f.Rsi), 0x50},
		{"Rdx", unsafe.Offsetof(f.Rdx), 0x58},
		{"Rcx", unsafe.Offsetof(f.Rcx), 0x60},
		{"Rbx", unsafe.Offsetof(f.Rbx), 0x68},
		{"Rax", unsafe.Offsetof(f.Rax), 0x70},
		{"Vector", unsafe.Offsetof(f.Vector), 0x78},
		{"ErrorCode", unsafe.Offsetof(f.ErrorCode), 0x80},
		{"Rip", unsafe.Offsetof(f.Rip), 0x88},
		{"Cs", unsafe.Offsetof(f.Cs), 0x90},
		{"Eflags", unsafe.Offsetof(f.Eflags), 0x98},
		{"Rsp", unsafe.Offsetof(f.Rsp), 0xa0},
		{"Ss", unsafe.Offsetof(f.Ss), 0xa8},
	}
	for _, o := range offsets {
		if o.got != o.want {
			t.Errorf("offsetof(%s) = %#x, want %#x", o.name, o.got, o.want)
		}
	}
}

func TestSyscallFrameLayout(t *testing.T) {
	var f SyscallFrame
	if got, want := unsafe.Sizeof(f), uintptr(16*8); got != want {
		t.Errorf("SyscallFrame size = %d, want %d", got, want)
	}
	if got, want := unsafe.Offsetof(f.Rcx), uintptr(13*8); got != want {
		t.Errorf("offsetof(Rcx) = %#x, want %#x", got, want)
	}
	if got, want := unsafe.Offsetof(f.UserSP), uintptr(15*8); got != want {
		t.Errorf("offsetof(UserSP) = %#x, want %#x", got, want)
	}
}

func TestFrameForNewTask(t *testing.T) {
	f := FrameForNewTask(0x400000, 0x7ffffffff000)
	if !f.UserMode() {
		t.Errorf("first-run frame is not ring 3: cs=%#x", f.Cs)
	}
	if f.Cs != uint64(Ucode64) || f.Ss != uint64(Udata) {
		t.Errorf("selectors = (%#x, %#x), want (%#x, %#x)", f.Cs, f.Ss, Ucode64, Udata)
	}
	if f.Eflags&_RFLAGS_IF == 0 {
		t.Errorf("interrupts not enabled in first-run frame: rflags=%#x", f.Eflags)
	}
	if f.Rip != 0x400000 || f.Rsp != 0x7ffffffff000 {
		t.Errorf("entry/stack = (%#x, %#x)", f.Rip, f.Rsp)
	}
	// All GPRs must be zero.
	regs := []uint64{f.Rax, f.Rbx, f.Rcx, f.Rdx, f.Rsi, f.Rdi, f.Rbp, f.R8, f.R9, f.R10, f.R11, f.R12, f.R13, f.R14, f.R15}
	for i, r := range regs {
		if r != 0 {
			t.Errorf("gpr %d = %#x, want 0", i, r)
		}
	}
}

func TestTrapFrameFromSyscall(t *testing.T) {
	sf := &SyscallFrame{
		Rax:    60,
		Rdi:    7,
		Rcx:    0x401234, // User RIP.
		R11:    UserFlagsSet | _RFLAGS_DF,
		UserSP: 0x7fffffffe000,
	}
	f := TrapFrameFromSyscall(sf)
	if f.Rip != 0x401234 || f.Rsp != 0x7fffffffe000 {
		t.Errorf("resume point = (%#x, %#x)", f.Rip, f.Rsp)
	}
	if !f.UserMode() {
		t.Errorf("converted frame is not ring 3")
	}
	if f.Eflags&_RFLAGS_IF == 0 {
		t.Errorf("IF lost in conversion: rflags=%#x", f.Eflags)
	}
	if f.Rdi != 7 || f.Rax != 60 {
		t.Errorf("arguments lost in conversion: rdi=%d rax=%d", f.Rdi, f.Rax)
	}
}

func TestHasErrorCode(t *testing.T) {
	with := []Vector{DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault, GeneralProtectionFault, PageFault, AlignmentCheck}
	for _, v := range with {
		if !v.HasErrorCode() {
			t.Errorf("%v should have an error code", v)
		}
	}
	without := []Vector{DivideByZero, Debug, NMI, Breakpoint, InvalidOpcode, MachineCheck, Timer, Keyboard}
	for _, v := range without {
		if v.HasErrorCode() {
			t.Errorf("%v should not have an error code", v)
		}
	}
}
