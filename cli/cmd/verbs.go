package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/sysmaster-go/sysmaster/ipcclient"
	"github.com/sysmaster-go/sysmaster/ipcserver"
)

// client builds the ipcclient.Client for the socket named by --socket.
func client(c *cli.Context) *ipcclient.Client {
	return ipcclient.New("unix", c.String("socket"))
}

// respond prints resp.Message and maps resp.Status to a process exit
// code; errors are surfaced verbatim from the IPC response.
func respond(resp *ipcserver.Response, err error) error {
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if resp.Status != ipcserver.StatusOK {
		return cli.Exit(resp.Message, 1)
	}
	fmt.Println(resp.Message)
	return nil
}

func unitArg(c *cli.Context) (string, error) {
	unit := c.Args().First()
	if unit == "" {
		return "", cli.Exit("a unit name is required", 1)
	}
	return unit, nil
}

// unitCommand builds a verb command that takes a single unit-name argument
// and calls method against the control socket.
func unitCommand(name, usage string, method func(*ipcclient.Client, string) (*ipcserver.Response, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<unit>",
		Flags:     CommonFlags(),
		Action: func(c *cli.Context) error {
			unit, err := unitArg(c)
			if err != nil {
				return err
			}
			return respond(method(client(c), unit))
		},
	}
}

// StartCommand returns the start command. --isolate admits the job with
// Isolate mode instead of the default Replace, stopping every other
// loaded unit not reachable from the named unit.
func StartCommand() *cli.Command {
	flags := append(CommonFlags(), &cli.BoolFlag{
		Name:  "isolate",
		Usage: "Stop every other loaded unit not required by this one",
	})
	return &cli.Command{
		Name:      "start",
		Usage:     "Start a unit",
		ArgsUsage: "<unit>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			unit, err := unitArg(c)
			if err != nil {
				return err
			}
			cl := client(c)
			if c.Bool("isolate") {
				return respond(cl.StartIsolate(unit))
			}
			return respond(cl.Start(unit))
		},
	}
}

func StopCommand() *cli.Command {
	return unitCommand("stop", "Stop a unit", (*ipcclient.Client).Stop)
}

func RestartCommand() *cli.Command {
	return unitCommand("restart", "Restart a unit", (*ipcclient.Client).Restart)
}

func ReloadCommand() *cli.Command {
	return unitCommand("reload", "Reload a unit", (*ipcclient.Client).Reload)
}

func StatusCommand() *cli.Command {
	return unitCommand("status", "Show unit status", (*ipcclient.Client).Status)
}

func EnableCommand() *cli.Command {
	return unitCommand("enable", "Enable a unit (install .wants/.requires symlinks)", (*ipcclient.Client).Enable)
}

func DisableCommand() *cli.Command {
	return unitCommand("disable", "Disable a unit (remove reverse-dependency symlinks)", (*ipcclient.Client).Disable)
}

func MaskCommand() *cli.Command {
	return unitCommand("mask", "Mask a unit (symlink to /dev/null)", (*ipcclient.Client).Mask)
}

func UnmaskCommand() *cli.Command {
	return unitCommand("unmask", "Unmask a unit", (*ipcclient.Client).Unmask)
}
