package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/idfreelist"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newScrubCmd())
}

func newScrubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrub <dir>",
		Short: "Verify allocator consistency",
		Long: `The scrub command recovers a registry and walks the key index, the
back-references and the free chain, reporting the first violation.

Example:
  idfl scrub ./ids`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrub(cmd.Context(), args)
		},
	}
}

type scrubResult struct {
	Dir       string `json:"dir"`
	OK        bool   `json:"ok"`
	Violation string `json:"violation,omitempty"`
}

func runScrub(ctx context.Context, args []string) error {
	var scrubErr error
	r, err := openRegistry(ctx, args[0])
	switch {
	case errors.Is(err, idfreelist.ErrCorruptJournal), errors.Is(err, idfreelist.ErrCorruptCheckpoint):
		scrubErr = err
	case err != nil:
		return err
	default:
		defer r.Close()
		scrubErr = r.Scrub()
	}

	res := scrubResult{Dir: args[0], OK: scrubErr == nil}
	if scrubErr != nil {
		res.Violation = scrubErr.Error()
	}

	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else if res.OK {
		printInfo("OK: %s is consistent\n", res.Dir)
	}
	if scrubErr != nil {
		return fmt.Errorf("scrub failed: %w", scrubErr)
	}
	return nil
}
