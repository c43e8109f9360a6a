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

	"ringlet.dev/ringlet/pkg/ring0"
)

// TaskState is the lifecycle state of a Task.
type TaskState int

// Task states.
const (
	// TaskReady means the task is runnable and queued.
	TaskReady TaskState = iota

	// TaskRunning means the task is the current task.
	TaskRunning

	// TaskBlocked means the task is waiting for a wakeup.
	TaskBlocked

	// TaskExited means the task has terminated and will never run again.
	TaskExited
)

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskExited:
		return "exited"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Task is one schedulable user context.
//
// All fields are owned by the kernel's single core; there is no locking
// because nothing else may touch them.
type Task struct {
	// id is assigned at spawn, in creation order.
	id uint64

	// name is for logs only.
	name string

	// frame is the saved context while the task is not running. While the
	// task runs, the authoritative frame lives with the hardware and this
	// is stale.
	frame *ring0.TrapFrame

	// as is the task's address space. Every task owns exactly one.
	as *AddressSpace

	// state is the lifecycle state.
	state TaskState

	// quantum is the number of remaining timer ticks before preemption.
	quantum int

	// kernelStackTop is the top of the task's dedicated kernel stack, in
	// the kernel's direct map. Entered into the TSS on each switch.
	kernelStackTop uintptr

	// kstackPhys is the physical frame backing the kernel stack, freed
	// when the task is reaped.
	kstackPhys uintptr

	// exitStatus is valid once state is TaskExited. Kills by fault record
	// the negated vector.
	exitStatus int64
}

// ID returns the task's ID.
func (t *Task) ID() uint64 { return t.id }

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// State returns the task's lifecycle state.
func (t *Task) State() TaskState { return t.state }

// AddressSpace returns the task's address space.
func (t *Task) AddressSpace() *AddressSpace { return t.as }

// ExitStatus returns the task's exit status; valid only once exited.
func (t *Task) ExitStatus() int64 { return t.exitStatus }

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.id, t.name)
}
