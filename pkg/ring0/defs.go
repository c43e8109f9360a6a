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

// Package ring0 provides the privilege-transition tables and frame layouts
// of the kernel: the GDT/TSS/IDT images the hardware consults on a ring
// transition, the fast-syscall MSR programming, and the fixed-layout context
// descriptors produced by the interrupt and syscall entry paths.
//
// Everything here is pure data and encoding. The entry stubs themselves live
// behind the platform boundary; they produce and consume the frame layouts
// defined in this package.
package ring0

import (
	"ringlet.dev/ringlet/pkg/ring0/pagetables"
)

// Kernel is the global kernel state: the tables shared by every CPU.
type Kernel struct {
	// PageTables are the kernel pagetables; these must be the canonical
	// upper-shared tables that every address space is derived from.
	PageTables *pagetables.PageTables

	KernelArchState
}

// KernelOpts has initialization options for the kernel.
type KernelOpts struct {
	// PageTables are the kernel pagetables.
	PageTables *pagetables.PageTables

	// TrapEntry is the address of the first interrupt entry stub. Stub n
	// is expected at TrapEntry + n*TrapStubSize; the IDT is pointed at
	// these addresses.
	TrapEntry uintptr

	// SyscallEntry is the address of the fast-syscall entry stub, loaded
	// into the LSTAR register.
	SyscallEntry uintptr
}

// New creates a new kernel.
//
// N.B. that constraints on KernelOpts must be satisfied.
func New(opts KernelOpts) *Kernel {
	k := new(Kernel)
	k.init(opts)
	return k
}

// NewCPU creates a new CPU associated with this Kernel.
//
// Initialization is not completed by this method alone; the platform must
// still install the tables and MSRs it describes.
func (k *Kernel) NewCPU() *CPU {
	c := new(CPU)
	c.Init(k)
	return c
}

// CPU is the per-core transition state.
type CPU struct {
	// self is a self-reference, stashed in the kernel GS base so the
	// syscall stub can find this structure with nothing but a swapgs.
	self *CPU

	// kernel is the kernel that this CPU runs under.
	kernel *Kernel

	CPUArchState
}

// Init initializes the CPU for the given kernel.
//
// Init allows embedding in other objects.
func (c *CPU) Init(k *Kernel) {
	c.self = c   // Set self reference.
	c.kernel = k // Set kernel reference.
	c.init()     // Perform architectural init.
}

// Kernel returns the kernel for this CPU.
func (c *CPU) Kernel() *Kernel {
	return c.kernel
}
