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
	"ringlet.dev/ringlet/pkg/hostarch"
)

// Virtual memory layout. The lower half belongs to the running task; the
// upper half is identical in every address space.
const (
	// UserCodeBase is where task code is mapped.
	UserCodeBase = hostarch.Addr(0x0000000000400000)

	// UserDataBase is where optional task data is mapped.
	UserDataBase = hostarch.Addr(0x0000000000600000)

	// UserStackTop is the initial user stack pointer; the stack grows down
	// from here.
	UserStackTop = hostarch.Addr(0x00007ffffffff000)

	// KernelBase is the start of the kernel's direct map of physical
	// memory. physical p is visible at KernelBase+p.
	KernelBase = hostarch.Addr(0xffff800000000000)

	// KernelTextBase is where the kernel's entry points live.
	KernelTextBase = hostarch.Addr(0xffffffff80000000)
)

// Kernel text internal layout. These are synthetic load addresses for the
// entry code; what matters is that they are upper-half, mapped executable,
// and distinct.
const (
	// trapEntryOffset is the offset of the interrupt stub array in kernel
	// text. The stubs occupy 256 slots of ring0.TrapStubSize bytes.
	trapEntryOffset = 0x0000

	// syscallEntryOffset is the offset of the fast-syscall entry point.
	syscallEntryOffset = 0x1000

	// idleOffset is the offset of the halt loop the kernel parks in when
	// no task is runnable.
	idleOffset = 0x2000

	// kernelTextPages is the number of pages of kernel text mapped at
	// KernelTextBase.
	kernelTextPages = 3
)

// kernelStackPages is the size of each task's dedicated kernel stack.
const kernelStackPages = 1
