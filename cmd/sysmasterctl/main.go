// Package main provides the sysmasterctl control-client entrypoint.
//
// Usage:
//
//	sysmasterctl <verb> [unit] [options]
//
// sysmasterctl dials the control socket sysmaster listens on and exits
// non-zero on any error response, preserving the daemon's message on
// stderr.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/sysmaster-go/sysmaster/cli/cmd"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "sysmasterctl",
		Usage:          "Control client for the sysmaster service manager",
		Version:        cmd.Version,
		ExitErrHandler: exitErrHandler,
		Commands:       commands(),
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func commands() []*cli.Command {
	cmds := []*cli.Command{
		cmd.StartCommand(),
		cmd.StopCommand(),
		cmd.RestartCommand(),
		cmd.ReloadCommand(),
		cmd.StatusCommand(),
		cmd.ListUnitsCommand(),
		cmd.EnableCommand(),
		cmd.DisableCommand(),
		cmd.MaskCommand(),
		cmd.UnmaskCommand(),
		cmd.DaemonReloadCommand(),
		cmd.DaemonReexecCommand(),
		cmd.VersionCommand(commit),
	}
	return append(cmds, cmd.SystemCommands()...)
}

// exitErrHandler preserves exit codes set via cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
