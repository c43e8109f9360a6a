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
	"unsafe"
)

const (
	// KernelFlagsSet should always be set in the kernel.
	KernelFlagsSet = _RFLAGS_RESERVED

	// UserFlagsSet are always set in userspace.
	UserFlagsSet = _RFLAGS_RESERVED | _RFLAGS_IF

	// KernelFlagsClear should always be clear in the kernel.
	KernelFlagsClear = _RFLAGS_IF | _RFLAGS_NT | _RFLAGS_IOPL

	// UserFlagsClear are always cleared in userspace.
	UserFlagsClear = _RFLAGS_NT | _RFLAGS_IOPL

	// TrapStubSize is the spacing of the interrupt entry stubs pointed at
	// by the IDT.
	TrapStubSize = 16

	// kernelStackSize is the size of the per-CPU boot stack. Task kernel
	// stacks are allocated separately by the scheduler.
	kernelStackSize = 16 << 10
)

// KernelArchState contains architecture-specific kernel state.
type KernelArchState struct {
	// globalIDT is our set of interrupt gates.
	globalIDT idt64

	// trapEntry and syscallEntry mirror KernelOpts.
	trapEntry    uintptr
	syscallEntry uintptr
}

// CPUArchState contains CPU-specific arch state.
type CPUArchState struct {
	// stack is the boot stack for this CPU, used until the scheduler
	// installs the first task's kernel stack.
	stack [kernelStackSize]byte

	// gdt is the CPU's descriptor table.
	gdt [segLast]SegmentDescriptor

	// tss is the CPU's task state.
	tss TSS64

	// kernelStack is the stack pointer loaded on a ring-3 transition. It
	// mirrors tss.rsp0 and is read directly by the syscall stub, which
	// gets no automatic stack switch from the hardware.
	kernelStack uintptr

	// userStack is the scratch slot the syscall stub stashes the
	// interrupted user stack pointer into before loading kernelStack.
	userStack uintptr
}

// init initializes architecture-specific state.
func (k *Kernel) init(opts KernelOpts) {
	// Save the root page tables.
	k.PageTables = opts.PageTables
	k.trapEntry = opts.TrapEntry
	k.syscallEntry = opts.SyscallEntry

	// Setup the IDT, which is uniform.
	for v := 0; v < VectorCount; v++ {
		// Note that all traps use the interrupt stack, this is defined
		// when setting up the TSS. An interrupt gate leaves IF clear
		// until the handler chooses otherwise, so frame construction
		// cannot itself be interrupted.
		k.globalIDT[v].setInterrupt(Kcode, uint64(opts.TrapEntry)+uint64(v)*TrapStubSize, 0 /* dpl */, 1 /* ist */)
	}

	// Breakpoint and overflow may be raised from ring 3.
	k.globalIDT[Breakpoint].setInterrupt(Kcode, uint64(opts.TrapEntry)+uint64(Breakpoint)*TrapStubSize, 3, 1)
	k.globalIDT[Overflow].setInterrupt(Kcode, uint64(opts.TrapEntry)+uint64(Overflow)*TrapStubSize, 3, 1)
}

// init initializes architecture-specific state.
func (c *CPU) init() {
	// Null segment.
	c.gdt[segNull].setNull()

	// Kernel & user segments.
	c.gdt[segKcode] = KernelCodeSegment
	c.gdt[segKdata] = KernelDataSegment
	c.gdt[segUcode32] = UserCodeSegment32
	c.gdt[segUdata] = UserDataSegment
	c.gdt[segUcode64] = UserCodeSegment64

	// The task segment, this spans two entries.
	tssBase, tssLimit, _ := c.TSS()
	c.gdt[segTss].set(
		uint32(tssBase),
		uint32(tssLimit),
		0, // Privilege level zero.
		SegmentDescriptorPresent|
			SegmentDescriptorAccess|
			SegmentDescriptorWrite|
			SegmentDescriptorExecute)
	c.gdt[segTssHi].setHi(uint32(tssBase >> 32))

	// Set the kernel stack pointer in the TSS (virtual address).
	c.SetKernelStack(c.StackTop())
}

// StackTop returns the top of the CPU's boot stack.
//
//go:nosplit
func (c *CPU) StackTop() uintptr {
	return uintptr(unsafe.Pointer(&c.stack[0])) + uintptr(len(c.stack))
}

// SetKernelStack installs the given stack top as the kernel stack loaded on
// the next ring-3 transition: both the interrupt path (via tss.rsp0/ist1)
// and the syscall path (via the per-CPU slot) observe it.
//
// The scheduler must call this when switching to a task that may run in ring
// 3, so that a future interrupt from that task lands on the task's own
// kernel stack.
//
//go:nosplit
func (c *CPU) SetKernelStack(top uintptr) {
	c.kernelStack = top
	c.tss.rsp0Lo = uint32(top)
	c.tss.rsp0Hi = uint32(uint64(top) >> 32)
	c.tss.ist1Lo = uint32(top)
	c.tss.ist1Hi = uint32(uint64(top) >> 32)
}

// KernelStack returns the currently installed kernel stack top.
//
//go:nosplit
func (c *CPU) KernelStack() uintptr {
	return c.kernelStack
}

// SetUserStack stashes the interrupted user stack pointer. This slot is
// written by the syscall entry stub and consumed by the exit path.
//
//go:nosplit
func (c *CPU) SetUserStack(sp uintptr) {
	c.userStack = sp
}

// UserStack returns the stashed user stack pointer.
//
//go:nosplit
func (c *CPU) UserStack() uintptr {
	return c.userStack
}

// IDT returns the CPU's IDT base and limit.
//
//go:nosplit
func (c *CPU) IDT() (uint64, uint16) {
	return uint64(uintptr(unsafe.Pointer(&c.kernel.globalIDT[0]))), uint16(unsafe.Sizeof(c.kernel.globalIDT) - 1)
}

// GDT returns the CPU's GDT base and limit.
//
//go:nosplit
func (c *CPU) GDT() (uint64, uint16) {
	return uint64(uintptr(unsafe.Pointer(&c.gdt[0]))), uint16(8*segLast - 1)
}

// TSS returns the CPU's TSS base, limit and value.
//
//go:nosplit
func (c *CPU) TSS() (uint64, uint16, *SegmentDescriptor) {
	return uint64(uintptr(unsafe.Pointer(&c.tss))), uint16(unsafe.Sizeof(c.tss) - 1), &c.gdt[segTss]
}

// Gate returns the IDT gate for the given vector.
func (k *Kernel) Gate(v Vector) *Gate64 {
	return &k.globalIDT[v]
}

// CR0 returns the CPU's CR0 value.
//
//go:nosplit
func (c *CPU) CR0() uint64 {
	return _CR0_PE | _CR0_PG | _CR0_ET
}

// CR4 returns the CPU's CR4 value.
//
//go:nosplit
func (c *CPU) CR4() uint64 {
	return _CR4_PAE | _CR4_PSE | _CR4_PGE | _CR4_OSFXSR | _CR4_OSXMMEXCPT
}

// EFER returns the CPU's EFER value.
//
//go:nosplit
func (c *CPU) EFER() uint64 {
	return _EFER_LME | _EFER_SCE | _EFER_NX
}

// MSR is one model-specific register write performed at CPU start.
type MSR struct {
	Reg   uint32
	Value uint64
}

// SyscallMSRs returns the MSR image that configures the fast system-call
// gate for this CPU:
//
//   - LSTAR points at the syscall entry stub.
//   - STAR carries the kernel and user selector bases; the sysret-mandated
//     segment ordering in the GDT makes both transitions load the segments
//     set up by init.
//   - SYSCALL_MASK clears IF (among others) on entry, so the stub cannot be
//     interrupted before it has switched onto the kernel stack.
//   - KERNEL_GS_BASE points at this CPU, giving the stub its per-CPU state
//     after a single swapgs.
func (c *CPU) SyscallMSRs() []MSR {
	return []MSR{
		{_MSR_LSTAR, uint64(c.kernel.syscallEntry)},
		{_MSR_CSTAR, uint64(c.kernel.syscallEntry)},
		{_MSR_STAR, uint64(Kcode)<<32 | uint64(Ucode32)<<48},
		{_MSR_SYSCALL_MASK, _RFLAGS_STEP | _RFLAGS_IF | _RFLAGS_DF | _RFLAGS_IOPL | _RFLAGS_AC | _RFLAGS_NT},
		{_MSR_KERNEL_GS_BASE, uint64(uintptr(unsafe.Pointer(c.self)))},
	}
}

// IsCanonical indicates whether addr is canonical per the amd64 spec.
//
//go:nosplit
func IsCanonical(addr uint64) bool {
	return addr <= 0x00007fffffffffff || addr >= 0xffff800000000000
}
