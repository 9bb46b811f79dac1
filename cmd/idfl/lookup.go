package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hupe1980/idfreelist"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLookupCmd(), newReverseCmd())
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <dir> <key>...",
		Short: "Print the ids bound to keys",
		Long: `The lookup command prints the id bound to each key. It fails if any key
is not bound.

Example:
  idfl lookup ./ids alice bob`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), args)
		},
	}
}

func newReverseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <dir> <id>...",
		Short: "Print the keys bound to ids",
		Long: `The reverse command prints the key bound to each id. It fails if any id
is not bound.

Example:
  idfl reverse ./ids 0 17`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReverse(cmd.Context(), args)
		},
	}
}

type bindingResult struct {
	Key   string        `json:"key"`
	ID    idfreelist.ID `json:"id"`
	Bound bool          `json:"bound"`
}

func runLookup(ctx context.Context, args []string) error {
	r, err := openRegistry(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		results []bindingResult
		missing int
	)
	for _, key := range args[1:] {
		id, ok := r.Lookup(key)
		if !ok {
			missing++
		}
		results = append(results, bindingResult{Key: key, ID: id, Bound: ok})
	}
	return printBindings(results, missing)
}

func runReverse(ctx context.Context, args []string) error {
	ids := make([]idfreelist.ID, 0, len(args)-1)
	for _, arg := range args[1:] {
		n, err := strconv.ParseUint(arg, 10, 32)
		if err != nil || idfreelist.ID(n) > idfreelist.MaxID {
			return fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, idfreelist.ID(n))
	}

	r, err := openRegistry(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		results []bindingResult
		missing int
	)
	for _, id := range ids {
		key, ok := r.Reverse(id)
		if !ok {
			missing++
		}
		results = append(results, bindingResult{Key: key, ID: id, Bound: ok})
	}
	return printBindings(results, missing)
}

func printBindings(results []bindingResult, missing int) error {
	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, b := range results {
			if b.Bound {
				printInfo("%d\t%s\n", b.ID, b.Key)
			} else if b.Key != "" {
				printInfo("-\t%s\n", b.Key)
			} else {
				printInfo("%d\t-\n", b.ID)
			}
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d not bound", missing, len(results))
	}
	return nil
}
