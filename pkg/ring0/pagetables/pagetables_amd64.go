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

package pagetables

import (
	"fmt"
)

// Address constraints.
//
// The lowerTop and upperBottom apply to four-level pagetables.
const (
	lowerTop    = 0x00007fffffffffff
	upperBottom = 0xffff800000000000

	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	pteMask = 0x1ff << pteShift
	pmdMask = 0x1ff << pmdShift
	pudMask = 0x1ff << pudShift
	pgdMask = 0x1ff << pgdShift

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift
	pgdSize = 1 << pgdShift

	entriesPerPage = 512

	// upperBottomPGD is the root index of the first upper-half entry.
	upperBottomPGD = entriesPerPage / 2
)

// PTEs is a collection of entries.
type PTEs [entriesPerPage]PTE

// next returns the next address quantized by the given size.
func next(start, size uintptr) uintptr {
	start &= ^(size - 1)
	start += size
	return start
}

// iterateRange iterates over all appropriate levels of page tables for the
// given range, invoking fn on each 4K leaf entry.
//
// If alloc is set, intermediate tables are created on demand and Set must be
// called on every PTE given to fn. If alloc is not set, the iteration will
// likely be full of gaps; invalid intermediate entries are skipped.
//
// Intermediate tables that become empty are returned to the allocator, with
// the exception of upper-half tables when the upper half is shared: those
// belong to the kernel tables and must survive the teardown of any derived
// address space.
//
// Precondition: startAddr and endAddr must be page-aligned and must not span
// the non-canonical hole if alloc is set.
func (p *PageTables) iterateRange(startAddr, endAddr uintptr, alloc bool, fn func(s, e uintptr, pte *PTE)) {
	start := startAddr
	end := endAddr
	if start%pteSize != 0 {
		panic(fmt.Sprintf("unaligned start: %v", start))
	}
	if end < start {
		panic(fmt.Sprintf("start > end (%v > %v))", start, end))
	}

	// Deal with cases where we traverse the "gap".
	//
	// These are all explicitly disallowed if alloc is set, and we must
	// traverse an entry for each address explicitly.
	switch {
	case start < lowerTop && end > lowerTop && end < upperBottom:
		if alloc {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		p.iterateRange(start, lowerTop, false, fn)
		return
	case start < lowerTop && end > lowerTop:
		if alloc {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		p.iterateRange(start, lowerTop, false, fn)
		p.iterateRange(upperBottom, end, false, fn)
		return
	case start > lowerTop && end < upperBottom:
		if alloc {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		return
	case start > lowerTop && start < upperBottom && end > upperBottom:
		if alloc {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		p.iterateRange(upperBottom, end, false, fn)
		return
	}

	for pgdIndex := uint16((start & pgdMask) >> pgdShift); start < end && pgdIndex < entriesPerPage; pgdIndex++ {
		var (
			pgdEntry   = &p.root[pgdIndex]
			pudEntries *PTEs
		)
		if !pgdEntry.Valid() {
			if !alloc {
				// Skip over this entry.
				start = next(start, pgdSize)
				continue
			}

			// Allocate a new pgd.
			pudEntries = p.Allocator.NewPTEs()
			pgdEntry.setPageTable(p, pudEntries)
		} else {
			pudEntries = p.Allocator.LookupPTEs(pgdEntry.Address())
		}

		// Map the next level.
		clearPUDEntries := uint16(0)

		for pudIndex := uint16((start & pudMask) >> pudShift); start < end && pudIndex < entriesPerPage; pudIndex++ {
			var (
				pudEntry   = &pudEntries[pudIndex]
				pmdEntries *PTEs
			)
			if !pudEntry.Valid() {
				if !alloc {
					// Skip over this entry.
					clearPUDEntries++
					start = next(start, pudSize)
					continue
				}

				// Allocate a new pud.
				pmdEntries = p.Allocator.NewPTEs()
				pudEntry.setPageTable(p, pmdEntries)
			} else {
				pmdEntries = p.Allocator.LookupPTEs(pudEntry.Address())
			}

			// Map the next level.
			clearPMDEntries := uint16(0)

			for pmdIndex := uint16((start & pmdMask) >> pmdShift); start < end && pmdIndex < entriesPerPage; pmdIndex++ {
				var (
					pmdEntry   = &pmdEntries[pmdIndex]
					pteEntries *PTEs
				)
				if !pmdEntry.Valid() {
					if !alloc {
						// Skip over this entry.
						clearPMDEntries++
						start = next(start, pmdSize)
						continue
					}

					// Allocate a new pmd.
					pteEntries = p.Allocator.NewPTEs()
					pmdEntry.setPageTable(p, pteEntries)
				} else {
					pteEntries = p.Allocator.LookupPTEs(pmdEntry.Address())
				}

				// Map the final level.
				clearPTEEntries := uint16(0)

				for pteIndex := uint16((start & pteMask) >> pteShift); start < end && pteIndex < entriesPerPage; pteIndex++ {
					pteEntry := &pteEntries[pteIndex]
					if !pteEntry.Valid() && !alloc {
						clearPTEEntries++
						start += pteSize
						continue
					}

					// At this point, we are guaranteed that
					// start%pteSize == 0.
					fn(start, start+pteSize, pteEntry)
					if !pteEntry.Valid() {
						if alloc {
							panic("PTE not set after iteration with alloc=true!")
						}
						clearPTEEntries++
					}

					start += pteSize
				}

				// Check if we no longer need this page.
				if clearPTEEntries == entriesPerPage && p.canFree(pgdIndex) {
					pmdEntry.Clear()
					p.Allocator.FreePTEs(pteEntries)
					clearPMDEntries++
				}
			}

			// Check if we no longer need this page.
			if clearPMDEntries == entriesPerPage && p.canFree(pgdIndex) {
				pudEntry.Clear()
				p.Allocator.FreePTEs(pmdEntries)
				clearPUDEntries++
			}
		}

		// Check if we no longer need this page.
		if clearPUDEntries == entriesPerPage && p.canFree(pgdIndex) {
			pgdEntry.Clear()
			p.Allocator.FreePTEs(pudEntries)
		}
	}
}

// canFree reports whether an intermediate table reached via the given root
// index may be returned to the allocator. Shared upper-half tables are owned
// by the kernel tables and are never freed through a derived set.
func (p *PageTables) canFree(pgdIndex uint16) bool {
	return !(p.upperShared && pgdIndex >= upperBottomPGD)
}
