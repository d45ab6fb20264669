package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/varifit/varifit/internal/objective"
	"github.com/varifit/varifit/internal/opt"
)

var (
	searchObjective string
	searchDim       int
	searchIters     int
	searchPop       int
	searchSeed      int64
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run derivative-free global search",
	Long: `Searches the objective's box with a mayfly swarm instead of following
gradients. Useful for multimodal objectives like rastrigin where gradient
descent gets stuck, or for finding a starting point to refine with run.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchObjective, "objective", "rastrigin", "Objective function (sphere, quadratic, rosenbrock, rastrigin)")
	searchCmd.Flags().IntVar(&searchDim, "dim", 2, "Parameter dimensionality")
	searchCmd.Flags().IntVar(&searchIters, "iters", 100, "Max iterations")
	searchCmd.Flags().IntVar(&searchPop, "pop", 30, "Population size")
	searchCmd.Flags().Int64Var(&searchSeed, "seed", 42, "Random seed")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	slog.Info("Starting search", "objective", searchObjective, "dim", searchDim, "iters", searchIters, "pop", searchPop)

	fn, err := objective.Lookup(searchObjective, searchDim)
	if err != nil {
		return fmt.Errorf("failed to resolve objective: %w", err)
	}

	searcher := opt.NewMayflySearcher(searchIters, searchPop, searchSeed)

	costOnly := func(params []float64) float64 {
		return fn.Eval(params).Cost
	}

	start := time.Now()
	bestParams, bestCost := searcher.Search(costOnly, fn.Lower, fn.Upper, fn.Dim)
	elapsed := time.Since(start)

	slog.Info("Search complete",
		"elapsed", elapsed,
		"best_cost", bestCost,
	)

	fmt.Printf("Best cost %.6g at %v\n", bestCost, bestParams)
	fmt.Printf("Refine with: varifit run --objective %s --dim %d\n", searchObjective, searchDim)

	return nil
}
