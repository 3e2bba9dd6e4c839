package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/timemerge/config"
)

type cliOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Watermark-gated record merging service",
		Long:          "timemerge merges records from multiple time-ordered channels into a single globally time-ordered output under a fixed memory ceiling, spilling overflow to disk.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to JSON config file (defaults plus environment when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json",
		"log format: json or text")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newValidateCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", appName, Version, BuildTime)
		},
	}
}

func newValidateCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadConfig(opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
}

// loadConfig loads the file and applies CLI overrides on top.
func loadConfig(opts *cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Service.LogLevel = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
