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

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[machine]
memory-pages = 2048
timer-period = 8

[kernel]
quantum = 2

[[task]]
name = "hello"
message = "hi\n"
writes = 3

[[task]]
name = "crash"
fault = true
`)
	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	want := Config{
		Machine: MachineConfig{MemoryPages: 2048, TimerPeriod: 8},
		Kernel:  KernelConfig{Quantum: 2},
		Tasks: []TaskSpec{
			{Name: "hello", Message: "hi\n", Writes: 3},
			{Name: "crash", Fault: true},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
[[task]]
name = "solo"
message = "x"
writes = 1
`)
	got, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	def := defaultConfig()
	if got.Machine != def.Machine || got.Kernel != def.Kernel {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{"unknown key", "[machine]\nmemory = 4096\n"},
		{"zero quantum", "[kernel]\nquantum = 0\n"},
		{"zero period", "[machine]\ntimer-period = 0\n"},
		{"nameless task", "[[task]]\nwrites = 1\n"},
		{"negative writes", "[[task]]\nname = \"t\"\nwrites = -1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tc.contents)); err == nil {
				t.Errorf("config accepted")
			}
		})
	}
}
