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
	"testing"

	"ringlet.dev/ringlet/pkg/hostarch"
	"ringlet.dev/ringlet/pkg/ring0/pagetables"
)

// newTestMMU builds page tables inside simulated physical memory and returns
// a machine wired to them. The walker must agree with the table encoder even
// though the two share no code.
func newTestMMU(t *testing.T) (*Machine, *pagetables.PageTables) {
	t.Helper()
	m, err := New(Config{MemorySize: 64 * hostarch.PageSize, TimerPeriod: 1000}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	pt := pagetables.New(m.Mem())
	return m, pt
}

func TestTranslate(t *testing.T) {
	m, pt := newTestMMU(t)

	rw, err := m.Mem().AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}
	ro, err := m.Mem().AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}
	code, err := m.Mem().AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}
	sup, err := m.Mem().AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}

	pt.Map(0x400000, hostarch.PageSize, pagetables.MapOpts{AccessType: hostarch.ReadExecute, User: true}, code)
	pt.Map(0x401000, hostarch.PageSize, pagetables.MapOpts{AccessType: hostarch.ReadWrite, User: true}, rw)
	pt.Map(0x402000, hostarch.PageSize, pagetables.MapOpts{AccessType: hostarch.Read, User: true}, ro)
	pt.Map(0x403000, hostarch.PageSize, pagetables.MapOpts{AccessType: hostarch.ReadWrite}, sup)

	cr3 := pt.CR3()

	for _, tc := range []struct {
		name    string
		vaddr   uintptr
		at      access
		phys    uintptr
		errCode uint64
		ok      bool
	}{
		{"fetch code", 0x400000, access{exec: true, user: true}, code, 0, true},
		{"read rw", 0x401010, access{user: true}, rw + 0x10, 0, true},
		{"write rw", 0x401ff8, access{write: true, user: true}, rw + 0xff8, 0, true},
		{"read ro", 0x402000, access{user: true}, ro, 0, true},
		{"write ro", 0x402000, access{write: true, user: true}, 0, pfPresent | pfWrite | pfUser, false},
		{"exec data", 0x401000, access{exec: true, user: true}, 0, pfPresent | pfInstruction | pfUser, false},
		{"user hits supervisor", 0x403000, access{user: true}, 0, pfPresent | pfUser, false},
		{"kernel hits supervisor", 0x403008, access{write: true}, sup + 8, 0, true},
		{"unmapped", 0x500000, access{user: true}, 0, pfUser, false},
		{"unmapped write", 0x500000, access{write: true, user: true}, 0, pfWrite | pfUser, false},
		{"null", 0, access{user: true}, 0, pfUser, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			phys, errCode, ok := m.translate(cr3, tc.vaddr, tc.at)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v (err=%#x)", ok, tc.ok, errCode)
			}
			if ok && phys != tc.phys {
				t.Errorf("phys = %#x, want %#x", phys, tc.phys)
			}
			if !ok && errCode != tc.errCode {
				t.Errorf("errCode = %#x, want %#x", errCode, tc.errCode)
			}
		})
	}
}

func TestTranslateSeparateRoots(t *testing.T) {
	m, pt := newTestMMU(t)
	other := pagetables.New(m.Mem())

	frame, err := m.Mem().AllocFrame()
	if err != nil {
		t.Fatalf("AllocFrame: %v", err)
	}
	pt.Map(0x400000, hostarch.PageSize, pagetables.MapOpts{AccessType: hostarch.ReadWrite, User: true}, frame)

	if _, _, ok := m.translate(pt.CR3(), 0x400000, access{user: true}); !ok {
		t.Fatalf("mapping not visible through its own root")
	}
	if _, _, ok := m.translate(other.CR3(), 0x400000, access{user: true}); ok {
		t.Fatalf("mapping visible through an unrelated root")
	}
}
