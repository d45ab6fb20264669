package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/varifit/varifit/internal/objective"
	"github.com/varifit/varifit/internal/opt"
	"github.com/varifit/varifit/internal/store"
)

var (
	resumeDataDir string
	resumeIters   int
	resumeStep    float64
)

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume an optimization from its checkpoint",
	Long: `Loads the checkpoint saved for the given run and continues optimizing
from the stored parameters, appending to the existing cost trace. The
objective, dimensionality, and update rule are fixed by the checkpoint;
the step size and iteration budget may be changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data", "./data", "Data directory for traces and checkpoints")
	resumeCmd.Flags().IntVar(&resumeIters, "iters", 100, "Additional iterations to run")
	resumeCmd.Flags().Float64Var(&resumeStep, "step", 0, "Override step size (0 = keep checkpoint's)")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(runID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	config := checkpoint.Config
	config.Iters = resumeIters
	if resumeStep > 0 {
		config.StepSize = resumeStep
	}

	if err := checkpoint.IsCompatible(config); err != nil {
		return fmt.Errorf("checkpoint incompatible: %w", err)
	}

	slog.Info("Resuming run",
		"run_id", runID,
		"objective", config.Objective,
		"rule", config.Rule,
		"from_iteration", checkpoint.Iteration,
		"additional_iters", resumeIters,
	)

	fn, err := objective.Lookup(config.Objective, config.Dim)
	if err != nil {
		return fmt.Errorf("failed to resolve objective: %w", err)
	}

	rule, err := opt.RuleByName(config.Rule)
	if err != nil {
		return err
	}

	handle, err := opt.New(checkpoint.Params, opt.Config{
		StepSize:      config.StepSize,
		MaxIterations: config.Iters,
		Tolerance:     config.Tolerance,
		Rule:          rule,
	})
	if err != nil {
		return err
	}

	traceWriter, err := store.NewTraceWriter(resumeDataDir, runID, true)
	if err != nil {
		return fmt.Errorf("failed to open trace writer: %w", err)
	}
	defer traceWriter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bestCost := checkpoint.BestCost
	bestParams := checkpoint.BestParams
	prevCost := math.Inf(1)

	var runErr error
	for i := 0; i < config.Iters; i++ {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
		default:
		}
		if runErr != nil {
			break
		}

		// Step reports the cost at the pre-update vector, so that is the
		// vector to remember when the cost is a new best.
		atParams := handle.Params()
		_, cost, err := handle.Step(fn.Eval)
		if err != nil {
			runErr = err
			break
		}

		if cost < bestCost {
			bestCost = cost
			bestParams = atParams
		}

		entry := store.TraceEntry{
			Iteration: checkpoint.Iteration + i,
			Cost:      cost,
			Timestamp: time.Now(),
		}
		if err := traceWriter.Write(entry); err != nil {
			slog.Warn("Failed to write trace entry", "run_id", runID, "error", err)
		}

		if config.Tolerance > 0 && i > 0 && math.Abs(cost-prevCost) < config.Tolerance {
			slog.Info("Early stop, cost plateaued", "run_id", runID, "iteration", checkpoint.Iteration+i)
			break
		}
		prevCost = cost
	}

	if err := traceWriter.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "run_id", runID, "error", err)
	}

	if runErr != nil && handle.Iterations() == 0 {
		return runErr
	}

	trace := handle.Trace()
	finalCost := trace[len(trace)-1]
	totalIterations := checkpoint.Iteration + handle.Iterations()

	updated := store.NewCheckpoint(runID, handle.Params(), finalCost, bestParams, bestCost, checkpoint.InitialCost, totalIterations, config)
	if err := checkpointStore.SaveCheckpoint(runID, updated); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Resume complete",
		"run_id", runID,
		"iterations", totalIterations,
		"final_cost", finalCost,
		"best_cost", bestCost,
	)

	fmt.Printf("Run %s resumed: cost %.6g -> %.6g, now at iteration %d (best %.6g)\n",
		runID, checkpoint.Cost, finalCost, totalIterations, bestCost)

	return runErr
}
