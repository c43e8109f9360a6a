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

// Package memutil provides utilities for working with anonymous memory
// mappings.
package memutil

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapFile returns a memory mapping configured by the given options as per
// mmap(2).
func MapFile(addr, size, prot, flags, fd, offset uintptr) (uintptr, error) {
	m, _, e := unix.RawSyscall6(unix.SYS_MMAP, addr, size, prot, flags, fd, offset)
	if e != 0 {
		return 0, e
	}
	return m, nil
}

// MapSlice is like MapFile, but returns a slice instead of a uintptr.
func MapSlice(addr, size, prot, flags, fd, offset uintptr) ([]byte, error) {
	addr, err := MapFile(addr, size, prot, flags, fd, offset)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

// AnonSlice returns a page-aligned anonymous private mapping of the given
// size as a slice.
func AnonSlice(size uintptr) ([]byte, error) {
	s, err := MapSlice(0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, ^uintptr(0), 0)
	if err != nil {
		return nil, fmt.Errorf("anonymous mmap of %d bytes: %w", size, err)
	}
	return s, nil
}

// UnmapSlice unmaps a mapping returned by MapSlice or AnonSlice.
func UnmapSlice(slice []byte) error {
	ptr := unsafe.SliceData(slice)
	_, _, e := unix.RawSyscall6(unix.SYS_MUNMAP, uintptr(unsafe.Pointer(ptr)), uintptr(cap(slice)), 0, 0, 0, 0)
	if e != 0 {
		return e
	}
	return nil
}
