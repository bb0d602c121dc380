package cmd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/josephlewis42/jsh/core"
	"github.com/josephlewis42/jsh/core/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	command string
)

func configDir() (string, error) {
	if cfgPath == "" {
		return config.DefaultDir()
	}
	if filepath.Base(cfgPath) == config.ConfigurationName {
		return filepath.Dir(cfgPath), nil
	}
	return cfgPath, nil
}

// loadConfig reads the configuration, falling back to the built-in one
// without history when none was initialized.
func loadConfig() (*config.Configuration, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	fsys := afero.NewOsFs()
	configuration, err := config.Load(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		configuration = config.Default(fsys, dir)
		configuration.HistoryFile = ""
		return configuration, nil
	}

	return configuration, err
}

// runShell runs the shell until it exits and returns the process exit code.
func runShell(cmd *cobra.Command) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return 0, err
	}

	logger, logCloser, err := cfg.OpenDebugLog()
	if err != nil {
		return 0, err
	}
	defer logCloser.Close()

	s := core.NewShell(os.Stdin, os.Stdout, os.Stderr, cfg, logger)

	if cmd.Flags().Changed("command") {
		return s.RunLine(command), nil
	}

	stop, err := s.Start()
	if err != nil {
		return 0, err
	}
	defer stop()

	rl, err := core.NewReadlineReader(cfg, os.Stdin, os.Stderr)
	if err != nil {
		return 0, err
	}
	defer rl.Close()

	return s.Run(rl), nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jsh",
	Short: "An interactive shell with job control",
	Long: `jsh runs pipelines of commands with redirections, process
substitution and job control. Run it without arguments for an interactive
session or use -c to run a single line.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		code, err := runShell(cmd)
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config directory (default is the user config dir)")
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "run a single line and exit with its status")
}
