package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sysmaster-go/sysmaster/cli/tui"
	"github.com/sysmaster-go/sysmaster/ipcserver"
)

// ListUnitsCommand returns the list-units command. Supports --tui for an
// interactive scrollable view of the same lines the plain-text path prints.
func ListUnitsCommand() *cli.Command {
	return &cli.Command{
		Name:   "list-units",
		Usage:  "List all loaded units and their status",
		Flags:  append(CommonFlags(), TUIFlag),
		Action: listUnitsAction,
	}
}

func listUnitsAction(c *cli.Context) error {
	resp, err := client(c).ListUnits()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if resp.Status != ipcserver.StatusOK {
		return cli.Exit(resp.Message, 1)
	}

	var lines []string
	if resp.Message != "" {
		lines = strings.Split(resp.Message, "\n")
	}

	if c.Bool("tui") {
		return tui.RunUnitList(lines)
	}

	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
