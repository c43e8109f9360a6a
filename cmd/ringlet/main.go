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

// Binary ringlet boots the simulated machine and runs tasks on the
// transition core.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// log is the process-wide logger. Kernel output goes to stdout; logging to
// stderr.
var log = logrus.NewEntry(logrus.StandardLogger())

var debug = flag.Bool("debug", false, "enable debug logging")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(Version), "")

	flag.Parse()

	logrus.SetOutput(os.Stderr)
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
