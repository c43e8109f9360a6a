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

	"ringlet.dev/ringlet/pkg/ring0/pagetables"
)

func newTestKernel() *Kernel {
	pt := pagetables.New(pagetables.NewRuntimeAllocator())
	pt.MarkUpperShared()
	return New(KernelOpts{
		PageTables:   pt,
		TrapEntry:    0xffffffff80100000,
		SyscallEntry: 0xffffffff80200000,
	})
}

func TestIDTGates(t *testing.T) {
	k := newTestKernel()
	for v := Vector(0); v < VectorCount; v++ {
		g := k.Gate(v)
		if !g.Present() {
			t.Fatalf("vector %d: gate not present", v)
		}
		if got, want := g.Target(), uint64(0xffffffff80100000)+uint64(v)*TrapStubSize; got != want {
			t.Errorf("vector %d: target = %#x, want %#x", v, got, want)
		}
		if got := g.IST(); got != 1 {
			t.Errorf("vector %d: ist = %d, want 1", v, got)
		}
		wantDPL := 0
		if v == Breakpoint || v == Overflow {
			wantDPL = 3
		}
		if got := g.DPL(); got != wantDPL {
			t.Errorf("vector %d: dpl = %d, want %d", v, got, wantDPL)
		}
	}
}

func TestGDTSegments(t *testing.T) {
	k := newTestKernel()
	c := k.NewCPU()

	for _, tc := range []struct {
		name    string
		index   int
		dpl     int
		execute bool
		long    bool
	}{
		{"kernel code", segKcode, 0, true, true},
		{"kernel data", segKdata, 0, false, false},
		{"user code32", segUcode32, 3, true, false},
		{"user data", segUdata, 3, false, false},
		{"user code64", segUcode64, 3, true, true},
	} {
		d := &c.gdt[tc.index]
		if got := d.DPL(); got != tc.dpl {
			t.Errorf("%s: dpl = %d, want %d", tc.name, got, tc.dpl)
		}
		if got := d.Flags()&SegmentDescriptorExecute != 0; got != tc.execute {
			t.Errorf("%s: execute = %v, want %v", tc.name, got, tc.execute)
		}
		if got := d.Flags()&SegmentDescriptorLong != 0; got != tc.long {
			t.Errorf("%s: long = %v, want %v", tc.name, got, tc.long)
		}
		if d.Flags()&SegmentDescriptorPresent == 0 {
			t.Errorf("%s: not present", tc.name)
		}
	}
}

// The sysret instruction derives the user selectors from STAR[63:48]; the
// GDT ordering must match or sysret would load the wrong segments.
func TestSysretSegmentOrdering(t *testing.T) {
	if Udata != Ucode32+8 {
		t.Errorf("user data selector must follow user code32: %#x vs %#x", Udata, Ucode32)
	}
	if Ucode64 != Ucode32+16 {
		t.Errorf("user code64 selector must be user code32 + 16: %#x vs %#x", Ucode64, Ucode32)
	}
}

func TestSyscallMSRs(t *testing.T) {
	k := newTestKernel()
	c := k.NewCPU()
	msrs := c.SyscallMSRs()

	byReg := make(map[uint32]uint64)
	for _, m := range msrs {
		byReg[m.Reg] = m.Value
	}
	if got, want := byReg[_MSR_LSTAR], uint64(0xffffffff80200000); got != want {
		t.Errorf("LSTAR = %#x, want %#x", got, want)
	}
	if got, want := byReg[_MSR_STAR], uint64(Kcode)<<32|uint64(Ucode32)<<48; got != want {
		t.Errorf("STAR = %#x, want %#x", got, want)
	}
	// The syscall entry stub runs on the user stack until it has loaded
	// the kernel stack; the mask must clear IF so it cannot be
	// interrupted in that window.
	if byReg[_MSR_SYSCALL_MASK]&_RFLAGS_IF == 0 {
		t.Errorf("SYSCALL_MASK does not clear IF: %#x", byReg[_MSR_SYSCALL_MASK])
	}
	if byReg[_MSR_KERNEL_GS_BASE] == 0 {
		t.Errorf("KERNEL_GS_BASE not programmed")
	}
}

func TestSetKernelStack(t *testing.T) {
	k := newTestKernel()
	c := k.NewCPU()

	const top = uintptr(0xffffffff80345000)
	c.SetKernelStack(top)
	if got := c.KernelStack(); got != top {
		t.Errorf("KernelStack() = %#x, want %#x", got, top)
	}
	if got := uintptr(c.tss.rsp0Lo) | uintptr(c.tss.rsp0Hi)<<32; got != top {
		t.Errorf("tss.rsp0 = %#x, want %#x", got, top)
	}
	if got := uintptr(c.tss.ist1Lo) | uintptr(c.tss.ist1Hi)<<32; got != top {
		t.Errorf("tss.ist1 = %#x, want %#x", got, top)
	}
}

func TestIsCanonical(t *testing.T) {
	for _, addr := range []uint64{0, 0x400000, 0x00007fffffffffff, 0xffff800000000000, ^uint64(0)} {
		if !IsCanonical(addr) {
			t.Errorf("IsCanonical(%#x) = false, want true", addr)
		}
	}
	for _, addr := range []uint64{0x0000800000000000, 0x1234567812345678, 0xffff7fffffffffff} {
		if IsCanonical(addr) {
			t.Errorf("IsCanonical(%#x) = true, want false", addr)
		}
	}
}
