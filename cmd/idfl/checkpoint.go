package main

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newCheckpointCmd())
}

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <dir>",
		Short: "Write a snapshot and truncate the journal",
		Long: `The checkpoint command recovers a registry, writes a snapshot of every
binding to the checkpoint store and truncates the journal.

Example:
  idfl checkpoint ./ids
  idfl checkpoint ./ids --compression zstd
  idfl checkpoint ./ids --s3-bucket my-bucket --s3-prefix ids/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(cmd.Context(), args)
		},
	}
}

func runCheckpoint(ctx context.Context, args []string) error {
	r, err := openRegistry(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	name, err := r.Checkpoint(ctx)
	if err != nil {
		return err
	}
	stats, err := r.Stats()
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{
			"checkpoint": name,
			"bindings":   stats.Bound,
			"base_seq":   stats.Journal.BaseSeq,
		})
	}
	printInfo("Wrote %s (%d bindings)\n", name, stats.Bound)
	return nil
}
