package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/varifit/varifit/internal/store"
)

var (
	historyDataDir string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs from the run index",
	Long: `Lists runs recorded in the SQLite run index, newest first. The index is
written by run and serve; checkpoints and traces stay on disk regardless.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDataDir, "data", "./data", "Data directory containing the run index")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	index := store.NewRunIndex(filepath.Join(historyDataDir, "runs.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := index.Init(ctx); err != nil {
		return fmt.Errorf("failed to open run index: %w", err)
	}
	defer index.Close()

	runs, err := index.ListRuns(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tOBJECTIVE\tRULE\tDIM\tITERS\tINITIAL\tBEST\tSTATE\tCREATED")
	fmt.Fprintln(w, "------\t---------\t----\t---\t-----\t-------\t----\t-----\t-------")

	for _, rec := range runs {
		displayID := rec.RunID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\t%.6g\t%s\t%s\n",
			displayID,
			rec.Objective,
			rec.Rule,
			rec.Dim,
			rec.Iterations,
			rec.InitialCost,
			rec.BestCost,
			rec.State,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(runs))
	return nil
}
