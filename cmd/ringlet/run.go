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
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ringlet.dev/ringlet/pkg/hostarch"
	"ringlet.dev/ringlet/pkg/kernel"
	"ringlet.dev/ringlet/pkg/machine"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	configPath string
	maxCycles  int
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a machine from a TOML configuration and run its tasks to completion"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return "run -config <boot.toml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configPath, "config", "", "path to the boot configuration file")
	f.IntVar(&r.maxCycles, "max-cycles", 1_000_000, "cycle budget before giving up")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if r.configPath == "" {
		log.Error("run requires -config")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig(r.configPath)
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		return subcommands.ExitFailure
	}
	if err := boot(cfg, r.maxCycles); err != nil {
		log.WithError(err).Error("run failed")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// taskProgram translates a task spec into the machine's instruction script.
func taskProgram(spec TaskSpec) machine.Program {
	if spec.Fault {
		return machine.Program{machine.Nop(), machine.Touch(0)}
	}
	var p machine.Program
	for i := 0; i < spec.Writes; i++ {
		p = append(p, machine.Invoke(unix.SYS_WRITE, 1, uint64(kernel.UserDataBase), uint64(len(spec.Message))))
	}
	return append(p, machine.Invoke(unix.SYS_EXIT, uint64(spec.Status)))
}

// boot brings up a machine and kernel per cfg, spawns its tasks and runs
// until every task has exited or the cycle budget is spent.
func boot(cfg Config, maxCycles int) error {
	m, err := machine.New(machine.Config{
		MemorySize:  uintptr(cfg.Machine.MemoryPages) * hostarch.PageSize,
		TimerPeriod: cfg.Machine.TimerPeriod,
	}, log)
	if err != nil {
		return err
	}
	defer m.Close()

	k, err := kernel.New(kernel.Options{
		Memory:     m.Mem(),
		Regs:       m,
		Interrupts: m.PIC(),
		Console:    os.Stdout,
		Log:        log,
		Quantum:    cfg.Kernel.Quantum,
	})
	if err != nil {
		return err
	}

	for _, spec := range cfg.Tasks {
		task, err := k.Spawn(spec.Name, kernel.TaskConfig{Data: []byte(spec.Message)})
		if err != nil {
			return err
		}
		m.LoadProgram(task.AddressSpace().CR3(), taskProgram(spec))
	}

	for _, msr := range k.SyscallMSRs() {
		log.WithFields(logrus.Fields{
			"reg":   msr.Reg,
			"value": msr.Value,
		}).Debug("syscall msr")
	}

	const chunk = 256
	for cycles := 0; cycles < maxCycles; cycles += chunk {
		m.Run(k, chunk)
		if k.LiveTasks() == 0 && m.Halted() {
			break
		}
	}

	for _, t := range k.Tasks() {
		log.WithFields(logrus.Fields{
			"task":   t.String(),
			"state":  t.State().String(),
			"status": t.ExitStatus(),
		}).Info("final state")
	}
	if live := k.LiveTasks(); live > 0 {
		log.Warnf("%d tasks still live after %d cycles", live, maxCycles)
	}
	return nil
}
