package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newAssignCmd(), newReleaseCmd())
}

func newAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <dir> <key>...",
		Short: "Bind keys to ids",
		Long: `The assign command binds each key to the next free id and journals the
binding. Keys that are already bound keep their id.

Example:
  idfl assign ./ids alice bob`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssign(cmd.Context(), args)
		},
	}
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <dir> <key>...",
		Short: "Release keys and free their ids",
		Long: `The release command unbinds each key and journals the release. Unknown
keys are reported but do not fail the command.

Example:
  idfl release ./ids alice`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd.Context(), args)
		},
	}
}

func runAssign(ctx context.Context, args []string) error {
	r, err := openRegistry(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	results := make([]bindingResult, 0, len(args)-1)
	for _, key := range args[1:] {
		id, err := r.Assign(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to assign %q: %w", key, err)
		}
		results = append(results, bindingResult{Key: key, ID: id, Bound: true})
	}
	if err := r.Close(); err != nil {
		return err
	}
	return printBindings(results, 0)
}

func runRelease(ctx context.Context, args []string) error {
	r, err := openRegistry(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	results := make([]bindingResult, 0, len(args)-1)
	for _, key := range args[1:] {
		id, ok, err := r.Release(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to release %q: %w", key, err)
		}
		if !ok {
			printVerbose("Key %q was not bound\n", key)
		}
		results = append(results, bindingResult{Key: key, ID: id, Bound: ok})
	}
	if err := r.Close(); err != nil {
		return err
	}
	return printBindings(results, 0)
}
