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

// Useful bits.
const (
	_CR0_PE = 1 << 0
	_CR0_ET = 1 << 4
	_CR0_PG = 1 << 31

	_CR4_PSE        = 1 << 4
	_CR4_PAE        = 1 << 5
	_CR4_PGE        = 1 << 7
	_CR4_OSFXSR     = 1 << 9
	_CR4_OSXMMEXCPT = 1 << 10

	_RFLAGS_STEP     = 1 << 8
	_RFLAGS_IF       = 1 << 9
	_RFLAGS_DF       = 1 << 10
	_RFLAGS_IOPL     = 3 << 12
	_RFLAGS_NT       = 1 << 14
	_RFLAGS_AC       = 1 << 18
	_RFLAGS_RESERVED = 1 << 1

	_EFER_SCE = 0x001
	_EFER_LME = 0x100
	_EFER_NX  = 0x800
)

// Model specific registers.
const (
	_MSR_EFER           = 0xc0000080
	_MSR_STAR           = 0xc0000081
	_MSR_LSTAR          = 0xc0000082
	_MSR_CSTAR          = 0xc0000083
	_MSR_SYSCALL_MASK   = 0xc0000084
	_MSR_GS_BASE        = 0xc0000101
	_MSR_KERNEL_GS_BASE = 0xc0000102
)

// Vector is an exception vector.
type Vector uintptr

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	_
	X87FloatingPointException
	AlignmentCheck
	MachineCheck
	SIMDFloatingPointException
	_lastFault = SIMDFloatingPointException
)

// Interrupt vectors delivered through the interrupt controller.
//
// Vector 32 is reserved for the periodic timer and 33 for the keyboard;
// everything from FirstDevice up to VectorCount is available to device
// drivers.
const (
	Timer    Vector = 32
	Keyboard Vector = 33

	// FirstDevice is the first vector available for registration.
	FirstDevice Vector = 32

	// VectorCount is the number of interrupt vectors.
	VectorCount = 256
)

// IsFault returns true if the vector is an architectural fault or trap.
func (v Vector) IsFault() bool {
	return v < FirstDevice
}

// HasErrorCode returns true if the hardware pushes an error code for this
// vector.
func (v Vector) HasErrorCode() bool {
	switch v {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GeneralProtectionFault, PageFault, AlignmentCheck:
		return true
	}
	return false
}

// String implements fmt.Stringer.String.
func (v Vector) String() string {
	switch v {
	case DivideByZero:
		return "#DE"
	case Debug:
		return "#DB"
	case NMI:
		return "#NMI"
	case Breakpoint:
		return "#BP"
	case Overflow:
		return "#OF"
	case BoundRangeExceeded:
		return "#BR"
	case InvalidOpcode:
		return "#UD"
	case DeviceNotAvailable:
		return "#NM"
	case DoubleFault:
		return "#DF"
	case CoprocessorSegmentOverrun:
		return "#MF(9)"
	case InvalidTSS:
		return "#TS"
	case SegmentNotPresent:
		return "#NP"
	case StackSegmentFault:
		return "#SS"
	case GeneralProtectionFault:
		return "#GP"
	case PageFault:
		return "#PF"
	case X87FloatingPointException:
		return "#MF"
	case AlignmentCheck:
		return "#AC"
	case MachineCheck:
		return "#MC"
	case SIMDFloatingPointException:
		return "#XM"
	case Timer:
		return "Timer"
	case Keyboard:
		return "Keyboard"
	default:
		return "Unknown"
	}
}

// Selector is a segment selector.
type Selector uint16

// SegmentDescriptorFlags are typed segment descriptor flags.
type SegmentDescriptorFlags uint32

// SegmentDescriptorFlag declarations.
const (
	SegmentDescriptorAccess     SegmentDescriptorFlags = 1 << 8  // Access bit (always set).
	SegmentDescriptorWrite      SegmentDescriptorFlags = 1 << 9  // Write permission.
	SegmentDescriptorExpandDown SegmentDescriptorFlags = 1 << 10 // Grows down, not used.
	SegmentDescriptorExecute    SegmentDescriptorFlags = 1 << 11 // Execute permission.
	SegmentDescriptorSystem     SegmentDescriptorFlags = 1 << 12 // Zero => system, 1 => user code/data.
	SegmentDescriptorPresent    SegmentDescriptorFlags = 1 << 15 // Present.
	SegmentDescriptorAVL        SegmentDescriptorFlags = 1 << 20 // Available.
	SegmentDescriptorLong       SegmentDescriptorFlags = 1 << 21 // Long mode.
	SegmentDescriptorDB         SegmentDescriptorFlags = 1 << 22 // 16 or 32-bit.
	SegmentDescriptorG          SegmentDescriptorFlags = 1 << 23 // Granularity => page.
)

// SegmentDescriptor is a segment descriptor.
type SegmentDescriptor struct {
	bits [2]uint32
}

// Base returns the descriptor's base linear address.
func (d *SegmentDescriptor) Base() uint32 {
	return d.bits[1]&0xFF000000 | (d.bits[1]&0x000000FF)<<16 | d.bits[0]>>16
}

// Limit returns the descriptor size.
func (d *SegmentDescriptor) Limit() uint32 {
	l := d.bits[0]&0xFFFF | d.bits[1]&0xF0000
	if d.bits[1]&uint32(SegmentDescriptorG) != 0 {
		l <<= 12
		l |= 0xFFF
	}
	return l
}

// Flags returns descriptor flags.
func (d *SegmentDescriptor) Flags() SegmentDescriptorFlags {
	return SegmentDescriptorFlags(d.bits[1] & 0x00F09F00)
}

// DPL returns the descriptor privilege level.
func (d *SegmentDescriptor) DPL() int {
	return int((d.bits[1] >> 13) & 3)
}

func (d *SegmentDescriptor) setNull() {
	d.bits[0] = 0
	d.bits[1] = 0
}

func (d *SegmentDescriptor) set(base, limit uint32, dpl int, flags SegmentDescriptorFlags) {
	flags |= SegmentDescriptorPresent
	if limit>>12 != 0 {
		limit >>= 12
		flags |= SegmentDescriptorG
	}
	d.bits[0] = base<<16 | limit&0xFFFF
	d.bits[1] = base&0xFF000000 | (base>>16)&0xFF | limit&0x000F0000 | uint32(flags) | uint32(dpl)<<13
}

func (d *SegmentDescriptor) setCode32(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorDB|
			SegmentDescriptorExecute|
			SegmentDescriptorSystem)
}

func (d *SegmentDescriptor) setCode64(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorG|
			SegmentDescriptorLong|
			SegmentDescriptorExecute|
			SegmentDescriptorSystem)
}

func (d *SegmentDescriptor) setData(base, limit uint32, dpl int) {
	d.set(base, limit, dpl,
		SegmentDescriptorWrite|
			SegmentDescriptorSystem)
}

// setHi is only used for the TSS segment, which is magically 64-bits.
func (d *SegmentDescriptor) setHi(base uint32) {
	d.bits[0] = base
	d.bits[1] = 0
}

// Gate64 is a 64-bit task, trap, or interrupt gate.
type Gate64 struct {
	bits [4]uint32
}

// setInterrupt sets an interrupt gate. The interrupt-enable flag is cleared
// by the hardware on entry through an interrupt gate.
func (g *Gate64) setInterrupt(cs Selector, rip uint64, dpl int, ist int) {
	g.bits[0] = uint32(cs)<<16 | uint32(rip)&0xFFFF
	g.bits[1] = uint32(rip)&0xFFFF0000 | uint32(SegmentDescriptorPresent) | uint32(dpl)<<13 | 14<<8 | uint32(ist)&0x7
	g.bits[2] = uint32(rip >> 32)
	g.bits[3] = 0 // Reserved.
}

// setTrap sets a trap gate; interrupts stay enabled on entry.
func (g *Gate64) setTrap(cs Selector, rip uint64, dpl int, ist int) {
	g.setInterrupt(cs, rip, dpl, ist)
	g.bits[1] |= 1 << 8 // Gate type 15: IF is left untouched on entry.
}

// Target returns the gate's entry address.
func (g *Gate64) Target() uint64 {
	return uint64(g.bits[2])<<32 | uint64(g.bits[1]&0xFFFF0000) | uint64(g.bits[0]&0xFFFF)
}

// DPL returns the gate's privilege level.
func (g *Gate64) DPL() int {
	return int((g.bits[1] >> 13) & 3)
}

// IST returns the gate's interrupt stack table index.
func (g *Gate64) IST() int {
	return int(g.bits[1] & 0x7)
}

// Present returns true if the gate is present.
func (g *Gate64) Present() bool {
	return g.bits[1]&uint32(SegmentDescriptorPresent) != 0
}

// idt64 is a 64-bit interrupt descriptor table.
type idt64 [VectorCount]Gate64

// TSS64 is a 64-bit task state structure.
type TSS64 struct {
	_ uint32 // Reserved.

	// rsp0..rsp2 are the stacks loaded on a ring transition to the
	// corresponding privilege level when no IST entry applies.
	rsp0Lo, rsp0Hi uint32
	rsp1Lo, rsp1Hi uint32
	rsp2Lo, rsp2Hi uint32

	_ [2]uint32 // Reserved.

	// ist1..ist7 are the interrupt stack table entries.
	ist1Lo, ist1Hi uint32
	ist2Lo, ist2Hi uint32
	ist3Lo, ist3Hi uint32
	ist4Lo, ist4Hi uint32
	ist5Lo, ist5Hi uint32
	ist6Lo, ist6Hi uint32
	ist7Lo, ist7Hi uint32

	_ [2]uint32 // Reserved.
	_ uint16    // Reserved.

	// ioPerm is the offset of the I/O permission bitmap.
	ioPerm uint16
}

// Segment indexes in the GDT.
//
// The ordering of the user segments is forced by the sysret instruction: it
// loads CS from STAR[63:48]+16 and SS from STAR[63:48]+8, so the 64-bit user
// code segment must immediately follow the 32-bit one with the user data
// segment in between.
const (
	segNull = iota
	segKcode
	segKdata
	segUcode32
	segUdata
	segUcode64
	segTss
	segTssHi
	segLast
)

// Selectors.
const (
	Kcode   Selector = segKcode << 3
	Kdata   Selector = segKdata << 3
	Ucode32 Selector = (segUcode32 << 3) | 3
	Udata   Selector = (segUdata << 3) | 3
	Ucode64 Selector = (segUcode64 << 3) | 3
	Tss     Selector = segTss << 3
)

// Standard segments.
var (
	UserCodeSegment32 SegmentDescriptor
	UserCodeSegment64 SegmentDescriptor
	UserDataSegment   SegmentDescriptor
	KernelCodeSegment SegmentDescriptor
	KernelDataSegment SegmentDescriptor
)

func init() {
	KernelCodeSegment.setCode64(0, 0, 0)
	KernelDataSegment.setData(0, 0xffffffff, 0)
	UserCodeSegment32.setCode32(0, 0, 3)
	UserCodeSegment64.setCode64(0, 0, 3)
	UserDataSegment.setData(0, 0xffffffff, 3)
}
