// Package cmd provides CLI commands for the sysmasterctl binary.
package cmd

import "github.com/urfave/cli/v2"

// SocketFlag selects the control socket sysmasterctl dials.
var SocketFlag = &cli.StringFlag{
	Name:    "socket",
	Aliases: []string{"s"},
	Usage:   "Control socket path",
	Value:   "/run/sysmaster/control.sock",
	EnvVars: []string{"SYSMASTER_SOCKET"},
}

// TUIFlag enables Bubble Tea interactive mode. Only valid for list-units.
var TUIFlag = &cli.BoolFlag{
	Name:  "tui",
	Usage: "Enable interactive TUI mode (list-units only)",
}

// CommonFlags returns the flags shared by every verb command.
func CommonFlags() []cli.Flag {
	return []cli.Flag{SocketFlag}
}
