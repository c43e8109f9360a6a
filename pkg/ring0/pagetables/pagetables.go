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

// Package pagetables provides a generic implementation of x86_64 pagetables.
//
// The core API is constrained to be free of allocation outside of the
// Allocator, so that it may be used by the transition core while switching
// address spaces.
package pagetables

import (
	"ringlet.dev/ringlet/pkg/hostarch"
)

// PageTables is a set of page tables.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the translated address of the root.
	//
	// This is filled in at creation time.
	rootPhysical uintptr

	// upperShared indicates that the upper half of this set of tables is
	// aliased into every derived set of tables. Entries above lowerTop
	// are then never freed by the walker.
	upperShared bool
}

// New returns new PageTables.
func New(a Allocator) *PageTables {
	p := new(PageTables)
	p.Init(a)
	return p
}

// Init initializes a set of PageTables.
func (p *PageTables) Init(allocator Allocator) {
	p.Allocator = allocator
	p.root = p.Allocator.NewPTEs()
	p.rootPhysical = p.Allocator.PhysicalFor(p.root)
}

// MarkUpperShared marks these tables as the canonical kernel tables. All
// tables derived via NewDerived alias this set's upper-half entries.
//
// Every upper-half root entry is populated with an intermediate table here,
// so a derived root aliases all of them: kernel mappings installed after a
// derivation land in a shared intermediate table and are visible through
// every derived set.
//
// Precondition: must be called before any derived tables exist.
func (p *PageTables) MarkUpperShared() {
	p.upperShared = true
	for i := upperBottomPGD; i < entriesPerPage; i++ {
		if !p.root[i].Valid() {
			p.root[i].setPageTable(p, p.Allocator.NewPTEs())
		}
	}
}

// NewDerived returns a new set of PageTables sharing this set's kernel
// (upper-half) mappings.
//
// The derived root copies the upper 256 root entries of p, so both roots
// point at the same kernel intermediate tables. The lower half starts empty.
//
// Precondition: MarkUpperShared must have been called on p.
func (p *PageTables) NewDerived() *PageTables {
	if !p.upperShared {
		panic("pagetables.NewDerived: source tables are not marked upper-shared")
	}
	np := &PageTables{
		Allocator:   p.Allocator,
		upperShared: true,
	}
	np.root = np.Allocator.NewPTEs()
	np.rootPhysical = np.Allocator.PhysicalFor(np.root)
	for i := upperBottomPGD; i < entriesPerPage; i++ {
		np.root[i] = p.root[i]
	}
	return np
}

// Map installs a mapping with the given physical address.
//
// True is returned iff there was a previous mapping in the range.
//
// Precondition: addr & length must be page-aligned, their sum must not
// overflow, and the range must not span the non-canonical hole.
func (p *PageTables) Map(addr hostarch.Addr, length uintptr, opts MapOpts, physical uintptr) bool {
	if !opts.AccessType.Any() {
		return p.Unmap(addr, length)
	}
	end, ok := addr.AddLength(uint64(length))
	if !ok {
		panic("pagetables.Map: overflow")
	}
	prev := false
	p.iterateRange(uintptr(addr), uintptr(end), true, func(s, e uintptr, pte *PTE) {
		phys := physical + (s - uintptr(addr))
		prev = prev || (pte.Valid() && (phys != pte.Address() || opts != pte.Opts()))
		pte.Set(phys, opts)
	})
	return prev
}

// Unmap unmaps the given range.
//
// True is returned iff there was a previous mapping in the range.
func (p *PageTables) Unmap(addr hostarch.Addr, length uintptr) bool {
	count := 0
	p.iterateRange(uintptr(addr), uintptr(addr)+length, false, func(s, e uintptr, pte *PTE) {
		pte.Clear()
		count++
	})
	return count > 0
}

// Lookup returns the physical address for the given virtual address, along
// with the options of the installed mapping.
//
// A zero MapOpts indicates that no mapping exists.
func (p *PageTables) Lookup(addr hostarch.Addr) (physical uintptr, opts MapOpts) {
	mask := uintptr(hostarch.PageMask)
	off := uintptr(addr) & mask
	addr = addr &^ hostarch.Addr(mask)
	p.iterateRange(uintptr(addr), uintptr(addr)+hostarch.PageSize, false, func(s, e uintptr, pte *PTE) {
		if !pte.Valid() {
			return
		}
		physical = pte.Address() + off
		opts = pte.Opts()
	})
	return
}

// IsEmpty reports whether the lower half contains no valid mappings.
func (p *PageTables) IsEmpty() bool {
	empty := true
	p.iterateRange(0, lowerTop+1, false, func(s, e uintptr, pte *PTE) {
		if pte.Valid() {
			empty = false
		}
	})
	return empty
}

// Release releases the lower half of this address space and returns the
// intermediate tables to the allocator.
//
// The shared upper half is left untouched; it is owned by the kernel tables
// these were derived from.
func (p *PageTables) Release() {
	p.Unmap(0, lowerTop+1)
}

// Free returns the root table page to the allocator. Only valid after
// Release, and only for derived tables: the shared upper-half intermediates
// are owned by the tables these were derived from and are left alone.
func (p *PageTables) Free() {
	p.Allocator.FreePTEs(p.root)
	p.root = nil
}

// CR3 returns the CR3 value for these tables.
//
// This may be called in interrupt contexts.
//
//go:nosplit
func (p *PageTables) CR3() uint64 {
	return uint64(p.rootPhysical)
}

// RootEntry returns the raw root entry at the given index. It exists so
// invariant checks can compare the kernel halves of two address spaces.
func (p *PageTables) RootEntry(index int) uint64 {
	return uint64(p.root[index])
}
