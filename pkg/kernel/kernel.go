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

// Package kernel implements the transition core above ring0: tasks, the
// round-robin scheduler, the interrupt dispatcher, the syscall surface and
// per-task address spaces.
//
// The kernel is single-core and runs with interrupts disabled for the whole
// of every handler; the platform delivers events one at a time.
package kernel

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"ringlet.dev/ringlet/pkg/hostarch"
	"ringlet.dev/ringlet/pkg/ring0"
	"ringlet.dev/ringlet/pkg/ring0/pagetables"
)

// Memory is the physical memory the platform boots the kernel with. Page
// table frames come from the embedded allocator; user and kernel-stack
// frames from AllocFrame.
type Memory interface {
	pagetables.Allocator

	// AllocFrame returns a zeroed page frame.
	AllocFrame() (uintptr, error)

	// FreeFrame returns a frame for reuse.
	FreeFrame(phys uintptr)

	// Slice gives byte access to a physical range.
	Slice(phys, length uintptr) ([]byte, error)

	// Size is the total physical memory size.
	Size() uintptr
}

// ControlRegs is the CPU control register port.
type ControlRegs interface {
	// WriteCR3 loads a page-table root.
	WriteCR3(v uint64)

	// ReadCR3 returns the live page-table root.
	ReadCR3() uint64

	// ReadCR2 returns the last page-fault address.
	ReadCR2() uintptr
}

// InterruptController acknowledges device interrupts.
type InterruptController interface {
	// EOI signals that the handler for the given vector has finished.
	EOI(vector ring0.Vector)
}

// DeviceHandler handles one device interrupt. It runs with interrupts
// disabled and must not block.
type DeviceHandler func(k *Kernel, vector ring0.Vector)

// Options configures a Kernel.
type Options struct {
	Memory     Memory
	Regs       ControlRegs
	Interrupts InterruptController

	// Console is the sink for the write syscall.
	Console io.Writer

	// Log receives kernel lifecycle and fault logging.
	Log *logrus.Entry

	// Quantum is the number of timer ticks a task runs before preemption.
	Quantum int
}

// CoreContext is the per-core kernel state: the ring0 CPU and the identity
// of the active address space. Single core, so there is exactly one.
type CoreContext struct {
	cpu       *ring0.CPU
	regs      ControlRegs
	kernelCR3 uint64
}

// CPU returns the core's ring0 CPU.
func (c *CoreContext) CPU() *ring0.CPU { return c.cpu }

// ActivateKernel switches to the kernel's own tables. A no-op if they are
// already active.
func (c *CoreContext) ActivateKernel() {
	if c.regs.ReadCR3() != c.kernelCR3 {
		c.regs.WriteCR3(c.kernelCR3)
	}
}

// SetKernelStack installs a task's kernel stack for the next ring-3 entry.
func (c *CoreContext) SetKernelStack(top uintptr) {
	c.cpu.SetKernelStack(top)
}

// Kernel is the booted transition core.
type Kernel struct {
	mem     Memory
	regs    ControlRegs
	intc    InterruptController
	console io.Writer
	log     *logrus.Entry

	// kernelPT are the canonical upper-shared tables every address space
	// derives from.
	kernelPT *pagetables.PageTables

	ring  *ring0.Kernel
	core  *CoreContext
	sched *Scheduler

	// handlers are the registered device interrupt handlers, by vector.
	handlers [ring0.VectorCount]DeviceHandler

	// idle is the halted kernel context handed to the platform as the
	// interrupted frame when an interrupt arrives during idle.
	idle ring0.TrapFrame

	tasks  []*Task
	nextID uint64
}

// New boots a kernel on the given platform: builds the kernel page tables
// (direct map plus kernel text), the ring0 tables and the per-core state,
// and loads the kernel tables into CR3.
func New(opts Options) (*Kernel, error) {
	if opts.Memory == nil || opts.Regs == nil || opts.Interrupts == nil {
		return nil, fmt.Errorf("kernel: memory, control registers and interrupt controller are required")
	}
	if opts.Quantum <= 0 {
		return nil, fmt.Errorf("kernel: quantum must be positive, got %d", opts.Quantum)
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	k := &Kernel{
		mem:     opts.Memory,
		regs:    opts.Regs,
		intc:    opts.Interrupts,
		console: opts.Console,
		log:     opts.Log,
	}

	k.kernelPT = pagetables.New(k.mem)
	k.kernelPT.MarkUpperShared()

	// Direct map: all of physical memory, supervisor-only, global.
	k.kernelPT.Map(KernelBase, k.mem.Size(),
		pagetables.MapOpts{AccessType: hostarch.ReadWrite, Global: true}, 0)

	// Kernel text: the entry stubs and the idle loop. The backing frames
	// hold no real instructions; the platform never fetches from ring 0.
	for i := 0; i < kernelTextPages; i++ {
		phys, err := k.mem.AllocFrame()
		if err != nil {
			return nil, fmt.Errorf("kernel: mapping text: %w", err)
		}
		k.kernelPT.Map(KernelTextBase+hostarch.Addr(i)*hostarch.PageSize, hostarch.PageSize,
			pagetables.MapOpts{AccessType: hostarch.ReadExecute, Global: true}, phys)
	}

	k.ring = ring0.New(ring0.KernelOpts{
		PageTables:   k.kernelPT,
		TrapEntry:    uintptr(KernelTextBase) + trapEntryOffset,
		SyscallEntry: uintptr(KernelTextBase) + syscallEntryOffset,
	})
	cpu := k.ring.NewCPU()
	k.core = &CoreContext{
		cpu:       cpu,
		regs:      k.regs,
		kernelCR3: k.kernelPT.CR3(),
	}
	k.sched = newScheduler(k, opts.Quantum, k.log)

	k.idle = ring0.TrapFrame{
		Rip:    uint64(KernelTextBase) + idleOffset,
		Cs:     uint64(ring0.Kcode),
		Eflags: ring0.UserFlagsSet, // halted with IF set
		Rsp:    uint64(cpu.StackTop()),
		Ss:     uint64(ring0.Kdata),
	}

	k.regs.WriteCR3(k.kernelPT.CR3())
	k.log.WithFields(logrus.Fields{
		"memory":  fmt.Sprintf("%#x", k.mem.Size()),
		"cr3":     fmt.Sprintf("%#x", k.kernelPT.CR3()),
		"quantum": opts.Quantum,
	}).Info("kernel booted")
	return k, nil
}

// Core returns the per-core context.
func (k *Kernel) Core() *CoreContext { return k.core }

// Scheduler returns the kernel's scheduler.
func (k *Kernel) Scheduler() *Scheduler { return k.sched }

// KernelTables returns the canonical kernel page tables.
func (k *Kernel) KernelTables() *pagetables.PageTables { return k.kernelPT }

// SyscallMSRs returns the fast-syscall MSR image for the core.
func (k *Kernel) SyscallMSRs() []ring0.MSR {
	return k.core.cpu.SyscallMSRs()
}

// IdleFrame returns the halted kernel context. Exposed to the platform; the
// frame's RIP sits in the kernel's halt loop with interrupts enabled.
func (k *Kernel) IdleFrame() *ring0.TrapFrame {
	return &k.idle
}

// RegisterHandler installs a device interrupt handler. Only device vectors
// may have handlers; faults and the timer are dispatched by the kernel.
func (k *Kernel) RegisterHandler(vector ring0.Vector, h DeviceHandler) error {
	if vector < ring0.FirstDevice || int(vector) >= ring0.VectorCount {
		return fmt.Errorf("kernel: vector %d is not a device vector", vector)
	}
	if vector == ring0.Timer {
		return fmt.Errorf("kernel: the timer vector is dispatched internally")
	}
	k.handlers[vector] = h
	return nil
}

// Wake moves a blocked task to the ready queue. Safe to call from device
// handlers; the task is dispatched on a later tick.
func (k *Kernel) Wake(t *Task) bool {
	return k.sched.Wake(t)
}

// Tasks returns all tasks ever spawned, in creation order.
func (k *Kernel) Tasks() []*Task { return k.tasks }

// LiveTasks returns the number of tasks that have not exited.
func (k *Kernel) LiveTasks() int {
	n := 0
	for _, t := range k.tasks {
		if t.state != TaskExited {
			n++
		}
	}
	return n
}

// TaskConfig configures a spawned task.
type TaskConfig struct {
	// CodePages is the number of executable pages mapped at UserCodeBase.
	// Defaults to 1.
	CodePages int

	// StackPages is the number of stack pages mapped below UserStackTop.
	// Defaults to 1.
	StackPages int

	// Data, if non-empty, is copied into read-only pages at UserDataBase.
	Data []byte
}

// Spawn creates a task: a fresh address space with code, stack and optional
// data mappings, a dedicated kernel stack, and a first-run frame. The task
// is enqueued ready.
func (k *Kernel) Spawn(name string, cfg TaskConfig) (*Task, error) {
	if cfg.CodePages <= 0 {
		cfg.CodePages = 1
	}
	if cfg.StackPages <= 0 {
		cfg.StackPages = 1
	}

	as := k.NewAddressSpace()
	if _, err := as.mapUser(UserCodeBase, cfg.CodePages, hostarch.ReadExecute); err != nil {
		return nil, fmt.Errorf("spawn %q: %w", name, err)
	}
	stackBase := UserStackTop - hostarch.Addr(cfg.StackPages)*hostarch.PageSize
	if _, err := as.mapUser(stackBase, cfg.StackPages, hostarch.ReadWrite); err != nil {
		return nil, fmt.Errorf("spawn %q: %w", name, err)
	}
	if len(cfg.Data) > 0 {
		pages := (len(cfg.Data) + hostarch.PageSize - 1) / hostarch.PageSize
		if _, err := as.mapUser(UserDataBase, pages, hostarch.Read); err != nil {
			return nil, fmt.Errorf("spawn %q: %w", name, err)
		}
		if err := as.copyIn(UserDataBase, cfg.Data); err != nil {
			return nil, fmt.Errorf("spawn %q: %w", name, err)
		}
	}

	kstack, err := k.mem.AllocFrame()
	if err != nil {
		return nil, fmt.Errorf("spawn %q: kernel stack: %w", name, err)
	}

	k.nextID++
	t := &Task{
		id:             k.nextID,
		name:           name,
		frame:          ring0.FrameForNewTask(uintptr(UserCodeBase), uintptr(UserStackTop)),
		as:             as,
		state:          TaskReady,
		kernelStackTop: uintptr(KernelBase) + kstack + kernelStackPages*hostarch.PageSize,
		kstackPhys:     kstack,
	}
	k.tasks = append(k.tasks, t)
	k.sched.enqueue(t)
	k.log.WithFields(logrus.Fields{
		"task": t.String(),
		"cr3":  fmt.Sprintf("%#x", as.CR3()),
	}).Info("spawned")
	return t, nil
}

// resume converts a scheduler decision into the platform's resume form.
func (k *Kernel) resume(r Resume) *ring0.TrapFrame {
	if r.Idle {
		return nil
	}
	return r.Frame
}
