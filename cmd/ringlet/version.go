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
	"fmt"

	"github.com/google/subcommands"
)

// version is set during linking.
var version = "VERSION_MISSING"

// Version implements subcommands.Command for the "version" command.
type Version struct{}

// Name implements subcommands.Command.Name.
func (*Version) Name() string {
	return "version"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Version) Synopsis() string {
	return "show version"
}

// Usage implements subcommands.Command.Usage.
func (*Version) Usage() string {
	return "version\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Version) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Version) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Println("ringlet version", version)
	return subcommands.ExitSuccess
}
