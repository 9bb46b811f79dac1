package main

import (
	"context"
	"fmt"

	"github.com/hupe1980/idfreelist"
	"github.com/spf13/cobra"
)

var inspectBindings bool

func init() {
	cmd := newInspectCmd()
	cmd.Flags().BoolVar(&inspectBindings, "bindings", false, "List every binding")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Show registry statistics",
		Long: `The inspect command recovers a registry and prints its capacity, free
chain ends, journal position and latest checkpoint.

Example:
  idfl inspect ./ids
  idfl inspect ./ids --bindings
  idfl inspect ./ids --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), args)
		},
	}
}

type inspectResult struct {
	Dir      string               `json:"dir"`
	Stats    idfreelist.Stats     `json:"stats"`
	Bindings []idfreelist.Binding `json:"bindings,omitempty"`
}

func runInspect(ctx context.Context, args []string) error {
	r, err := openRegistry(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	stats, err := r.Stats()
	if err != nil {
		return err
	}
	res := inspectResult{Dir: r.Dir(), Stats: stats}
	if inspectBindings {
		for id, key := range r.All() {
			res.Bindings = append(res.Bindings, idfreelist.Binding{ID: id, Key: key})
		}
	}

	if jsonOut {
		return printJSON(res)
	}

	printInfo("Registry:   %s\n", res.Dir)
	printInfo("Capacity:   %d (reserved %d)\n", stats.Capacity, stats.Reserved)
	printInfo("Bound:      %d\n", stats.Bound)
	printInfo("Free:       %d\n", stats.Free)
	printInfo("Free head:  %s\n", formatID(stats.Head))
	printInfo("Free tail:  %s\n", formatID(stats.Tail))
	if j := stats.Journal; j != nil {
		printInfo("Journal:    %s\n", j.Path)
		printInfo("  seq %d (base %d), %d records, %d bytes, compressed=%v\n",
			j.Seq, j.BaseSeq, j.Records, j.Bytes, j.Compressed)
		checkpoint := j.Checkpoint
		if checkpoint == "" {
			checkpoint = "(none)"
		}
		printInfo("Checkpoint: %s\n", checkpoint)
	}
	for _, b := range res.Bindings {
		printInfo("%8d  %s\n", b.ID, b.Key)
	}
	return nil
}

func formatID(id *idfreelist.ID) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}
