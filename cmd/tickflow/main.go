// Package main provides the tickflow CLI entrypoint.
//
// Usage:
//
//	tickflow <command> [options]
//
// Exit codes for `run`:
//   - 0: completed
//   - 1: graph error (stream or commands rejected)
//   - 2: runtime fault (delivery fault, source failure)
//   - 3: queue overflow with --strict-overflow
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tickflow/cli/cmd"
	"github.com/pithecene-io/tickflow/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:           "tickflow",
		Usage:          "Flow-based programming runtime for microcontroller graphs",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.CompileCommand(),
			cmd.InspectCommand(),
			cmd.ComponentsCommand(),
			cmd.ReportCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already exited for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes from cli.Exit so `run` outcomes reach
// the shell.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	msg, code := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the message to print and the process exit code for err.
// cli.Exit("", N) prints nothing.
func exitStatus(err error) (string, int) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return msg, code
	}
	return fmt.Sprintf("Error: %v", err), 1
}
