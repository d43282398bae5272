package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"umlgen/internal/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "umlgen",
		Short:         "Turn software requirements into PlantUML class diagrams",
		Long:          "umlgen asks an LLM for a PlantUML class diagram of a requirement, optionally has a second agent review it, and renders the result to PNG.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: ./umlgen.yaml or /etc/umlgen/umlgen.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newGenerateCmd(opts),
	)

	return rootCmd
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(logging.NewCorrelationHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))), nil
}
