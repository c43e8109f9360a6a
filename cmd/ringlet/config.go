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
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the boot configuration consumed by `ringlet run`.
type Config struct {
	Machine MachineConfig `toml:"machine"`
	Kernel  KernelConfig  `toml:"kernel"`
	Tasks   []TaskSpec    `toml:"task"`
}

// MachineConfig sizes the simulated hardware.
type MachineConfig struct {
	// MemoryPages is the size of physical memory in 4 KiB pages.
	MemoryPages int `toml:"memory-pages"`

	// TimerPeriod is the number of executed cycles per timer interrupt.
	TimerPeriod int `toml:"timer-period"`
}

// KernelConfig configures the kernel.
type KernelConfig struct {
	// Quantum is the number of timer ticks per scheduler dispatch.
	Quantum int `toml:"quantum"`
}

// TaskSpec describes one demo task.
type TaskSpec struct {
	Name string `toml:"name"`

	// Message is written to the console Writes times.
	Message string `toml:"message"`
	Writes  int    `toml:"writes"`

	// Fault makes the task dereference a null pointer instead of writing.
	Fault bool `toml:"fault"`

	// Status is the exit status passed to the exit syscall.
	Status int64 `toml:"status"`
}

// defaultConfig returns the boot configuration used when fields are absent.
func defaultConfig() Config {
	return Config{
		Machine: MachineConfig{
			MemoryPages: 1024,
			TimerPeriod: 16,
		},
		Kernel: KernelConfig{
			Quantum: 4,
		},
	}
}

// loadConfig reads and validates a boot configuration file.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if un := meta.Undecoded(); len(un) > 0 {
		return Config{}, fmt.Errorf("reading %s: unknown key %q", path, un[0].String())
	}
	if cfg.Machine.MemoryPages <= 0 {
		return Config{}, fmt.Errorf("machine.memory-pages must be positive, got %d", cfg.Machine.MemoryPages)
	}
	if cfg.Machine.TimerPeriod <= 0 {
		return Config{}, fmt.Errorf("machine.timer-period must be positive, got %d", cfg.Machine.TimerPeriod)
	}
	if cfg.Kernel.Quantum <= 0 {
		return Config{}, fmt.Errorf("kernel.quantum must be positive, got %d", cfg.Kernel.Quantum)
	}
	for i, task := range cfg.Tasks {
		if task.Name == "" {
			return Config{}, fmt.Errorf("task %d has no name", i)
		}
		if task.Writes < 0 {
			return Config{}, fmt.Errorf("task %q: writes must not be negative", task.Name)
		}
	}
	return cfg, nil
}
