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
	"golang.org/x/sys/unix"

	"ringlet.dev/ringlet/pkg/hostarch"
	"ringlet.dev/ringlet/pkg/ring0"
)

// errnoResult encodes an errno as the negative RAX result of a syscall.
func errnoResult(e unix.Errno) uint64 {
	return uint64(-int64(e))
}

// Syscall is the fast-call dispatcher, entered by the platform with the
// frame the syscall stub builds. Numbers follow the Linux amd64 table.
//
// A call that returns to its caller yields (result, nil, false) and goes
// back out via sysret. A call that does not (exit, pause) yields the next
// context, which the platform resumes via the interrupt return path; the
// caller's own continuation was converted to a trap frame first.
func (k *Kernel) Syscall(sf *ring0.SyscallFrame) (uint64, *ring0.TrapFrame, bool) {
	t := k.sched.Current()
	if t == nil {
		panic("syscall with no current task")
	}
	// The stub stashes the interrupted user stack pointer per-CPU before
	// loading the kernel stack.
	k.core.cpu.SetUserStack(uintptr(sf.UserSP))

	args := sf.Args()
	switch sf.Rax {
	case unix.SYS_WRITE:
		return k.sysWrite(t, args[0], args[1], args[2]), nil, false

	case unix.SYS_PAUSE:
		// The task resumes, after a wakeup and a tick, at the
		// instruction after the syscall, observing -EINTR.
		frame := ring0.TrapFrameFromSyscall(sf)
		frame.Rax = errnoResult(unix.EINTR)
		return k.handoff(k.sched.BlockCurrent(frame))

	case unix.SYS_EXIT:
		return k.handoff(k.sched.ExitCurrent(int64(args[0])))

	default:
		k.log.WithFields(logrus.Fields{
			"task": t.String(),
			"nr":   sf.Rax,
		}).Debug("unimplemented syscall")
		return errnoResult(unix.ENOSYS), nil, false
	}
}

// handoff converts a scheduler decision into the non-returning syscall
// result form.
func (k *Kernel) handoff(r Resume) (uint64, *ring0.TrapFrame, bool) {
	if r.Idle {
		return 0, nil, true
	}
	return 0, r.Frame, false
}

// sysWrite implements write(fd, buf, count) to the console sink.
//
// The buffer must be canonical and user-readable for every page it spans;
// any violation fails with EFAULT before a single byte is written.
func (k *Kernel) sysWrite(t *Task, fd, buf, count uint64) uint64 {
	if fd != 1 && fd != 2 {
		return errnoResult(unix.EBADF)
	}
	if count == 0 {
		return 0
	}

	addr := hostarch.Addr(buf)
	end, ok := addr.AddLength(count)
	if !ok || !ring0.IsCanonical(buf) || !ring0.IsCanonical(uint64(end-1)) {
		return errnoResult(unix.EFAULT)
	}

	// Gather first, so a fault in a later page writes nothing. count is
	// untrusted and must not size an allocation; the buffer grows only
	// with pages that have been validated.
	var data []byte
	for a := addr; a < end; {
		phys, opts := t.as.Tables().Lookup(a)
		if !opts.AccessType.Read || !opts.User {
			return errnoResult(unix.EFAULT)
		}
		n := hostarch.PageSize - a.PageOffset()
		if rem := uintptr(end - a); n > rem {
			n = rem
		}
		src, err := k.mem.Slice(phys, n)
		if err != nil {
			return errnoResult(unix.EFAULT)
		}
		data = append(data, src...)
		a += hostarch.Addr(n)
	}

	if _, err := k.console.Write(data); err != nil {
		k.log.WithError(err).Warn("console write failed")
		return errnoResult(unix.EIO)
	}
	return count
}
