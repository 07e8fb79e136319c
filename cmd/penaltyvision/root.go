package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/penaltyvision/overlay-server/internal/logger"
)

func newRootCommand() *cobra.Command {
	var logLevel string
	var logColor bool

	rootCmd := &cobra.Command{
		Use:           "penaltyvision",
		Short:         "Skeletal posture overlays for penalty videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			if !cmd.Flags().Changed("log-color") {
				logColor = shouldColorize(os.Stderr)
			}
			logger.Init(level, os.Stderr, logColor)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	rootCmd.PersistentFlags().BoolVar(&logColor, "log-color", true, "Enable colored log output (defaults to on for terminals)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newInspectCommand())

	return rootCmd
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
