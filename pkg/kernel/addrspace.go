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

	"ringlet.dev/ringlet/pkg/hostarch"
	"ringlet.dev/ringlet/pkg/ring0/pagetables"
)

// AddressSpace is one task's view of memory: a private lower half plus the
// shared kernel upper half. The upper 256 root entries are aliases of the
// kernel table's entries, so kernel mappings added after creation are visible
// here without further work.
type AddressSpace struct {
	k  *Kernel
	pt *pagetables.PageTables

	// cr3 is the table root in CR3 encoding, cached at creation.
	cr3 uint64

	// frames are the user data frames owned by this address space, freed
	// on release.
	frames []uintptr

	released bool
}

// NewAddressSpace creates an empty address space sharing the kernel upper
// half.
func (k *Kernel) NewAddressSpace() *AddressSpace {
	pt := k.kernelPT.NewDerived()
	return &AddressSpace{
		k:   k,
		pt:  pt,
		cr3: pt.CR3(),
	}
}

// CR3 returns the address space's table root in CR3 encoding.
func (as *AddressSpace) CR3() uint64 { return as.cr3 }

// Tables returns the underlying page tables.
func (as *AddressSpace) Tables() *pagetables.PageTables { return as.pt }

// mapUser allocates pages frames and maps them at addr with the given
// access. The frames become owned by the address space. Returns the physical
// address of the first frame.
func (as *AddressSpace) mapUser(addr hostarch.Addr, pages int, at hostarch.AccessType) (uintptr, error) {
	var first uintptr
	for i := 0; i < pages; i++ {
		phys, err := as.k.mem.AllocFrame()
		if err != nil {
			return 0, fmt.Errorf("mapping %d pages at %#x: %w", pages, addr, err)
		}
		if i == 0 {
			first = phys
		}
		as.frames = append(as.frames, phys)
		as.pt.Map(addr+hostarch.Addr(i)*hostarch.PageSize, hostarch.PageSize,
			pagetables.MapOpts{AccessType: at, User: true}, phys)
	}
	return first, nil
}

// copyIn copies data into the address space at addr, which must already be
// mapped. Used only at spawn, before the task first runs.
func (as *AddressSpace) copyIn(addr hostarch.Addr, data []byte) error {
	for len(data) > 0 {
		phys, opts := as.pt.Lookup(addr)
		if !opts.AccessType.Any() {
			return fmt.Errorf("copyIn at unmapped address %#x", addr)
		}
		n := int(hostarch.PageSize - addr.PageOffset())
		if n > len(data) {
			n = len(data)
		}
		dst, err := as.k.mem.Slice(phys, uintptr(n))
		if err != nil {
			return err
		}
		copy(dst, data[:n])
		data = data[n:]
		addr += hostarch.Addr(n)
	}
	return nil
}

// Activate makes this address space current. A no-op if it already is.
func (as *AddressSpace) Activate() {
	if as.released {
		panic("activating released address space")
	}
	if as.k.regs.ReadCR3() != as.cr3 {
		as.k.regs.WriteCR3(as.cr3)
	}
}

// active returns true if this address space is loaded in CR3.
func (as *AddressSpace) active() bool {
	return as.k.regs.ReadCR3() == as.cr3
}

// Release tears down the lower half and returns all owned frames. The
// address space must not be active and must not be released twice.
func (as *AddressSpace) Release() {
	if as.released {
		panic("address space released twice")
	}
	if as.active() {
		panic("releasing active address space")
	}
	as.released = true
	as.pt.Release()
	as.pt.Free()
	for _, phys := range as.frames {
		as.k.mem.FreeFrame(phys)
	}
	as.frames = nil
}
