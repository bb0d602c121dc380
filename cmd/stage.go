package cmd

import (
	"os"

	"github.com/josephlewis42/jsh/core"
	"github.com/spf13/cobra"
)

// stageCmd runs one builtin as a stage of a pipeline started by the shell.
var stageCmd = &cobra.Command{
	Use:                core.StageCommand + " builtin [args...]",
	Short:              "Run a builtin as a pipeline stage.",
	Hidden:             true,
	DisableFlagParsing: true,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(core.RunStage(args))
	},
}

func init() {
	rootCmd.AddCommand(stageCmd)
}
