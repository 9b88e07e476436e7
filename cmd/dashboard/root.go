package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/zengyi-thinking/Agent-team-dashboard/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live change notifications for the agent team dashboard",
		Long: `Watches the agent tool's team, task and conversation directories and
pushes a refresh notification to every connected dashboard over a websocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		newServeCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)

	return cmd
}

// loadConfig reads the configuration file, or the defaults when no file was given
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if o.configPath == "" {
		cfg = config.DefaultConfig()
		if err := cfg.Resolve(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.logLevel != "" {
		cfg.General.LogLevel = o.logLevel
		cfg.Logging.Level = o.logLevel
	}

	return cfg, nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "dashboard.yaml"
			if len(args) == 1 {
				path = args[0]
			} else if opts.configPath != "" {
				path = opts.configPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration file generated at: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
