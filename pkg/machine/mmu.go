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
	"ringlet.dev/ringlet/pkg/ring0"
)

// Page fault error code bits, as pushed by the hardware.
const (
	pfPresent     = 1 << 0 // Fault was a protection violation, not a missing page.
	pfWrite       = 1 << 1 // Fault was on a write.
	pfUser        = 1 << 2 // Fault came from ring 3.
	pfInstruction = 1 << 4 // Fault was an instruction fetch.
)

// Page table entry bits the walker interprets. These mirror the encoding in
// ring0/pagetables; the machine deliberately re-decodes raw memory rather
// than sharing that code, so a table-encoding bug shows up as a fault in
// simulation instead of silently passing.
const (
	mmuPresent  = 1 << 0
	mmuWritable = 1 << 1
	mmuUser     = 1 << 2
	mmuNX       = 1 << 63

	mmuAddrMask = ^uint64(mmuNX | 0xfff)
)

// access describes one memory access for translation purposes.
type access struct {
	write bool
	exec  bool
	user  bool
}

// translate walks the 4-level tables rooted at cr3 for vaddr. On failure it
// returns the page-fault error code the hardware would push.
func (m *Machine) translate(cr3 uint64, vaddr uintptr, at access) (phys uintptr, errCode uint64, ok bool) {
	errCode = 0
	if at.user {
		errCode |= pfUser
	}
	if at.write {
		errCode |= pfWrite
	}
	if at.exec {
		errCode |= pfInstruction
	}
	if !ring0.IsCanonical(uint64(vaddr)) {
		// A non-canonical access raises #GP, not #PF, but the walker
		// never sees one: callers check canonical form first.
		return 0, errCode, false
	}

	table := uintptr(cr3 &^ 0xfff)
	for level := 3; level >= 0; level-- {
		shift := 12 + 9*level
		index := (uintptr(vaddr) >> shift) & 0x1ff
		entry, err := m.mem.ReadWord(table + index*8)
		if err != nil {
			return 0, errCode, false
		}
		if entry&mmuPresent == 0 {
			return 0, errCode, false
		}
		// Permission bits apply at every level; a violation reports the
		// page as present.
		if at.user && entry&mmuUser == 0 {
			return 0, errCode | pfPresent, false
		}
		if at.write && entry&mmuWritable == 0 {
			return 0, errCode | pfPresent, false
		}
		if at.exec && entry&mmuNX != 0 {
			return 0, errCode | pfPresent, false
		}
		table = uintptr(entry & mmuAddrMask)
	}
	return table + vaddr&0xfff, 0, true
}
