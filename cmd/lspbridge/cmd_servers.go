package main

import (
	"fmt"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func runServers(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINSTALLED\tCOMMAND")
	for _, c := range cfg.ServerConfigs() {
		argv := c.Argv()
		installed := "no"
		if len(argv) > 0 {
			if path, err := exec.LookPath(argv[0]); err == nil {
				installed = path
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name(), installed, strings.Join(argv, " "))
	}
	return w.Flush()
}
