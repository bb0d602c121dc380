package cmd

import (
	"fmt"

	"github.com/josephlewis42/jsh/core"
	"github.com/spf13/cobra"
)

// builtinsCmd lists the commands the shell runs itself.
var builtinsCmd = &cobra.Command{
	Use:   "builtins",
	Short: "Show the builtin commands of the shell.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range core.BuiltinNames() {
			if builtin, ok := core.AllBuiltins[name].(*core.BuiltinCommand); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, builtin.Short)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(builtinsCmd)
}
