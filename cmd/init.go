package cmd

import (
	"log"

	"github.com/josephlewis42/jsh/core/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// initCmd intializes the shell configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to the config directory.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		logger := log.New(cmd.ErrOrStderr(), "", 0)

		dir, err := configDir()
		if err != nil {
			return err
		}

		_, err = config.Initialize(afero.NewOsFs(), dir, logger)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
