package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Version is the sysmaster project version. Components share a single
// lockstep version.
const Version = "0.1.0"

// VersionCommand returns the version command. Must not contact the daemon.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("sysmasterctl %s (commit: %s)\n", Version, commit)
			return nil
		},
	}
}
