package cmd

import (
	"github.com/urfave/cli/v2"
)

// systemVerbs are the power-state verbs, each a no-argument command
// against the control socket's matching system target.
var systemVerbs = []string{"suspend", "hibernate", "halt", "poweroff", "shutdown", "reboot"}

// SystemCommands returns one command per power-state verb.
func SystemCommands() []*cli.Command {
	cmds := make([]*cli.Command, 0, len(systemVerbs))
	for _, verb := range systemVerbs {
		verb := verb
		cmds = append(cmds, &cli.Command{
			Name:  verb,
			Usage: "Isolate the " + verb + ".target unit",
			Flags: CommonFlags(),
			Action: func(c *cli.Context) error {
				return respond(client(c).System(verb))
			},
		})
	}
	return cmds
}

// DaemonReloadCommand returns the daemon-reload command.
func DaemonReloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon-reload",
		Usage: "Reload manager configuration",
		Flags: CommonFlags(),
		Action: func(c *cli.Context) error {
			return respond(client(c).DaemonReload())
		},
	}
}

// DaemonReexecCommand returns the daemon-reexec command.
func DaemonReexecCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon-reexec",
		Usage: "Re-execute the manager process",
		Flags: CommonFlags(),
		Action: func(c *cli.Context) error {
			return respond(client(c).DaemonReexec())
		},
	}
}
