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
	"github.com/sirupsen/logrus"

	"ringlet.dev/ringlet/pkg/ring0"
)

// Resume is the scheduler's decision about what runs next.
type Resume struct {
	// Frame is the context to resume. nil when Idle.
	Frame *ring0.TrapFrame

	// Idle means no task is runnable: halt until the next interrupt.
	Idle bool
}

// Scheduler is a round-robin scheduler over a single core.
//
// The ready queue is FIFO; ties between tasks made runnable at the same
// time fall back to creation order because spawn enqueues in creation order.
type Scheduler struct {
	k   *Kernel
	log *logrus.Entry

	// queue holds Ready tasks in dispatch order.
	queue []*Task

	// current is the Running task; nil while idle.
	current *Task

	// quantum is the tick budget given to a task on each dispatch.
	quantum int
}

func newScheduler(k *Kernel, quantum int, log *logrus.Entry) *Scheduler {
	return &Scheduler{k: k, log: log, quantum: quantum}
}

// Current returns the running task, or nil while idle.
func (s *Scheduler) Current() *Task { return s.current }

// enqueue appends a Ready task to the queue.
func (s *Scheduler) enqueue(t *Task) {
	s.queue = append(s.queue, t)
}

// Tick handles one timer tick: charge the current task's quantum and switch
// when it is exhausted. frame is the interrupted context of the current
// task, or nil if the tick arrived while idle.
func (s *Scheduler) Tick(frame *ring0.TrapFrame) Resume {
	t := s.current
	if t == nil {
		return s.next(nil)
	}
	t.frame = frame
	t.quantum--
	if t.quantum > 0 {
		return Resume{Frame: frame}
	}
	t.state = TaskReady
	s.enqueue(t)
	s.current = nil
	return s.next(nil)
}

// BlockCurrent parks the current task until Wake. frame is the context it
// resumes with.
func (s *Scheduler) BlockCurrent(frame *ring0.TrapFrame) Resume {
	t := s.current
	t.state = TaskBlocked
	t.frame = frame
	s.current = nil
	s.log.WithField("task", t.String()).Debug("blocked")
	return s.next(nil)
}

// ExitCurrent terminates the current task. It never runs again; its
// resources are reclaimed once the core has switched off its address space.
func (s *Scheduler) ExitCurrent(status int64) Resume {
	t := s.current
	t.state = TaskExited
	t.exitStatus = status
	t.frame = nil
	s.current = nil
	s.log.WithFields(logrus.Fields{
		"task":   t.String(),
		"status": status,
	}).Info("exited")
	return s.next(t)
}

// Wake moves a Blocked task to Ready. It is scheduled on a later tick, not
// immediately. Returns false if the task was not blocked.
func (s *Scheduler) Wake(t *Task) bool {
	if t.state != TaskBlocked {
		return false
	}
	t.state = TaskReady
	s.enqueue(t)
	s.log.WithField("task", t.String()).Debug("woken")
	return true
}

// next dispatches the head of the ready queue, or idles. dead, if non-nil,
// is an exited task to reap once its address space is no longer active.
func (s *Scheduler) next(dead *Task) Resume {
	var t *Task
	for len(s.queue) > 0 {
		head := s.queue[0]
		s.queue = s.queue[1:]
		if head.state == TaskReady {
			t = head
			break
		}
	}
	if t == nil {
		s.k.core.ActivateKernel()
		s.reap(dead)
		s.log.Debug("idle")
		return Resume{Idle: true}
	}
	t.state = TaskRunning
	t.quantum = s.quantum
	s.current = t
	t.as.Activate()
	s.k.core.SetKernelStack(t.kernelStackTop)
	s.reap(dead)
	return Resume{Frame: t.frame}
}

// reap reclaims an exited task's memory. The caller must have switched CR3
// away from the task's tables first.
func (s *Scheduler) reap(dead *Task) {
	if dead == nil || dead.state != TaskExited {
		return
	}
	dead.as.Release()
	s.k.mem.FreeFrame(dead.kstackPhys)
}
