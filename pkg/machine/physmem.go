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

package machine

import (
	"fmt"
	"unsafe"

	"ringlet.dev/ringlet/pkg/hostarch"
	"ringlet.dev/ringlet/pkg/memutil"
	"ringlet.dev/ringlet/pkg/ring0/pagetables"
)

// MemoryRegion is one usable range in the boot memory map.
type MemoryRegion struct {
	Base   uintptr
	Length uintptr
}

// PhysMem models the machine's physical memory: a single anonymous mapping
// carved into page frames. Physical addresses are offsets from zero, as a
// flat memory map would present them.
//
// PhysMem implements pagetables.Allocator, so page tables are built inside
// simulated physical memory exactly as they would be on hardware.
type PhysMem struct {
	backing []byte

	// regions is the usable memory map, consumed frame by frame.
	regions []MemoryRegion

	// nextRegion/nextOff track the bump position; freed frames go to the
	// free list and are reused first.
	nextRegion int
	nextOff    uintptr
	free       []uintptr

	// ptes tracks the PTE view of allocated table frames by physical
	// address, for pagetables.Allocator lookups.
	ptes map[uintptr]*pagetables.PTEs
}

// NewPhysMem creates physical memory of the given size with a trivial
// single-region memory map.
func NewPhysMem(size uintptr) (*PhysMem, error) {
	return NewPhysMemWithMap(size, []MemoryRegion{{Base: 0, Length: size}})
}

// NewPhysMemWithMap creates physical memory of the given size, allocating
// frames only from the given usable regions.
func NewPhysMemWithMap(size uintptr, regions []MemoryRegion) (*PhysMem, error) {
	if size == 0 || size&hostarch.PageMask != 0 {
		return nil, fmt.Errorf("physical memory size %#x is not page-aligned", size)
	}
	backing, err := memutil.AnonSlice(size)
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		if r.Base&hostarch.PageMask != 0 || r.Length&hostarch.PageMask != 0 {
			return nil, fmt.Errorf("memory region %+v is not page-aligned", r)
		}
		if r.Base+r.Length > size {
			return nil, fmt.Errorf("memory region %+v exceeds physical memory", r)
		}
	}
	return &PhysMem{
		backing: backing,
		regions: regions,
		ptes:    make(map[uintptr]*pagetables.PTEs),
	}, nil
}

// Size returns the total size of physical memory.
func (p *PhysMem) Size() uintptr {
	return uintptr(len(p.backing))
}

// Close releases the backing mapping.
func (p *PhysMem) Close() error {
	return memutil.UnmapSlice(p.backing)
}

// AllocFrame returns the physical address of a zeroed page frame.
func (p *PhysMem) AllocFrame() (uintptr, error) {
	if n := len(p.free); n > 0 {
		phys := p.free[n-1]
		p.free = p.free[:n-1]
		clear(p.backing[phys : phys+hostarch.PageSize])
		return phys, nil
	}
	for p.nextRegion < len(p.regions) {
		r := p.regions[p.nextRegion]
		if p.nextOff < r.Length {
			phys := r.Base + p.nextOff
			p.nextOff += hostarch.PageSize
			return phys, nil
		}
		p.nextRegion++
		p.nextOff = 0
	}
	return 0, fmt.Errorf("out of physical memory (%d bytes)", len(p.backing))
}

// FreeFrame returns a frame to the allocator.
func (p *PhysMem) FreeFrame(phys uintptr) {
	p.free = append(p.free, phys)
}

// Slice returns the bytes of physical memory at [phys, phys+length).
func (p *PhysMem) Slice(phys, length uintptr) ([]byte, error) {
	if phys+length > uintptr(len(p.backing)) || phys+length < phys {
		return nil, fmt.Errorf("physical range [%#x, %#x) out of bounds", phys, phys+length)
	}
	return p.backing[phys : phys+length : phys+length], nil
}

// ReadWord reads a 64-bit little-endian word of physical memory.
func (p *PhysMem) ReadWord(phys uintptr) (uint64, error) {
	s, err := p.Slice(phys, 8)
	if err != nil {
		return 0, err
	}
	return *(*uint64)(unsafe.Pointer(&s[0])), nil
}

// NewPTEs implements pagetables.Allocator.NewPTEs.
func (p *PhysMem) NewPTEs() *pagetables.PTEs {
	phys, err := p.AllocFrame()
	if err != nil {
		// The transition core cannot recover from table exhaustion.
		panic(err)
	}
	ptes := (*pagetables.PTEs)(unsafe.Pointer(&p.backing[phys]))
	p.ptes[phys] = ptes
	return ptes
}

// PhysicalFor implements pagetables.Allocator.PhysicalFor.
func (p *PhysMem) PhysicalFor(ptes *pagetables.PTEs) uintptr {
	return uintptr(unsafe.Pointer(ptes)) - uintptr(unsafe.Pointer(&p.backing[0]))
}

// LookupPTEs implements pagetables.Allocator.LookupPTEs.
func (p *PhysMem) LookupPTEs(physical uintptr) *pagetables.PTEs {
	return p.ptes[physical]
}

// FreePTEs implements pagetables.Allocator.FreePTEs.
func (p *PhysMem) FreePTEs(ptes *pagetables.PTEs) {
	phys := p.PhysicalFor(ptes)
	delete(p.ptes, phys)
	p.FreeFrame(phys)
}

// Recycle implements pagetables.Allocator.Recycle.
func (p *PhysMem) Recycle() {}
