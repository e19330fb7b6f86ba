// Copyright 2025 Tom Barlow
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

// Command conductor-worker-example is a runnable demonstration of the
// worker runtime: it registers a couple of example handlers (see the
// examplehandlers subpackage) and launches a Supervisor against a
// Conductor server, with metrics and tracing wired in behind flags.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/tombee/conductor-worker/cmd/conductor-worker-example/examplehandlers"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "conductor-worker-example",
		Short:         "Run the example Conductor worker process",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("conductor-worker-example %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
