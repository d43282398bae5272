package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"umlgen/app/config"
	"umlgen/internal/domain/entity"
)

type generateOptions struct {
	mode    int
	jsonOut bool
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate [requirement]",
		Short: "Generate diagrams for one requirement and print where they were written",
		Example: `  umlgen generate "Library management system"
  umlgen generate --mode 1 --json "Online shop with carts and orders"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := entity.Mode(opts.mode)
			if !mode.Valid() {
				return fmt.Errorf("%w: %d (use 1 for direct, 2 for critique)", entity.ErrInvalidMode, opts.mode)
			}
			return runGenerate(cmd.Context(), root, strings.Join(args, " "), mode, opts.jsonOut, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&opts.mode, "mode", "m", int(entity.DefaultMode), "1 renders the draft directly, 2 has the critic enhance it first")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the whole run as JSON")
	return cmd
}

func runGenerate(ctx context.Context, root *rootOptions, requirement string, mode entity.Mode, jsonOut bool, out io.Writer) error {
	// logs go to stderr so stdout stays parseable
	logger, err := newLogger(os.Stderr, root.logLevel)
	if err != nil {
		return err
	}

	cfg, err := config.Load(root.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := wireApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	run, err := a.pipeline.Generate(ctx, requirement, mode)
	if err != nil {
		return err
	}
	return printRun(out, run, jsonOut)
}

func printRun(out io.Writer, run *entity.Run, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	for _, d := range run.Diagrams {
		path := d.Path
		if path == "" {
			path = "(not rendered)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Label, path, d.URL)
	}
	return tw.Flush()
}
