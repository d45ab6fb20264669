package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/varifit/varifit/internal/objective"
	"github.com/varifit/varifit/internal/opt"
	"github.com/varifit/varifit/internal/report"
	"github.com/varifit/varifit/internal/store"
)

var (
	objectiveName string
	dim           int
	ruleName      string
	stepSize      float64
	iters         int
	tolerance     float64
	seed          int64
	dataDir       string
	plotPath      string
	ckptInterval  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long: `Runs gradient-based optimization of the chosen objective and writes
the cost trace and a resumable checkpoint to the data directory.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&objectiveName, "objective", "sphere", "Objective function (sphere, quadratic, rosenbrock, rastrigin)")
	runCmd.Flags().IntVar(&dim, "dim", 2, "Parameter dimensionality")
	runCmd.Flags().StringVar(&ruleName, "rule", "gd", "Update rule: gd, momentum, adam")
	runCmd.Flags().Float64Var(&stepSize, "step", 0.01, "Step size (learning rate)")
	runCmd.Flags().IntVar(&iters, "iters", 100, "Max iterations")
	runCmd.Flags().Float64Var(&tolerance, "tol", 0, "Early-stop tolerance on cost delta (0 = disabled)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed for the starting point")
	runCmd.Flags().StringVar(&dataDir, "data", "./data", "Data directory for traces and checkpoints")
	runCmd.Flags().StringVar(&plotPath, "plot", "", "Write a cost trace plot PNG to this path")
	runCmd.Flags().IntVar(&ckptInterval, "checkpoint-interval", 0, "Save a checkpoint every N seconds while running (0 = final only)")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	slog.Info("Starting optimization", "objective", objectiveName, "dim", dim, "rule", ruleName, "iters", iters)

	fn, err := objective.Lookup(objectiveName, dim)
	if err != nil {
		return fmt.Errorf("failed to resolve objective: %w", err)
	}

	rule, err := opt.RuleByName(ruleName)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	initial := make([]float64, fn.Dim)
	for i := range initial {
		initial[i] = fn.Lower[i] + rng.Float64()*(fn.Upper[i]-fn.Lower[i])
	}

	handle, err := opt.New(initial, opt.Config{
		StepSize:      stepSize,
		MaxIterations: iters,
		Tolerance:     tolerance,
		Rule:          rule,
	})
	if err != nil {
		return err
	}

	runID := uuid.New().String()

	traceWriter, err := store.NewTraceWriter(dataDir, runID, false)
	if err != nil {
		return fmt.Errorf("failed to create trace writer: %w", err)
	}
	defer traceWriter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := store.RunConfig{
		Objective:          objectiveName,
		Dim:                dim,
		Rule:               ruleName,
		StepSize:           stepSize,
		Iters:              iters,
		Tolerance:          tolerance,
		Seed:               seed,
		CheckpointInterval: ckptInterval,
	}

	checkpointStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	bestCost := math.Inf(1)
	bestParams := initial
	prevCost := math.Inf(1)
	var initialCost float64

	start := time.Now()
	lastCheckpoint := start
	var runErr error
	for i := 0; i < iters; i++ {
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

		if i == 0 {
			initialCost = cost
		}
		if cost < bestCost {
			bestCost = cost
			bestParams = atParams
		}

		if err := traceWriter.Write(store.TraceEntry{Iteration: i, Cost: cost, Timestamp: time.Now()}); err != nil {
			slog.Warn("Failed to write trace entry", "run_id", runID, "error", err)
		}

		if ckptInterval > 0 && time.Since(lastCheckpoint) >= time.Duration(ckptInterval)*time.Second {
			ckpt := store.NewCheckpoint(runID, atParams, cost, bestParams, bestCost, initialCost, i+1, config)
			if err := checkpointStore.SaveCheckpoint(runID, ckpt); err != nil {
				slog.Warn("Failed to save checkpoint", "run_id", runID, "error", err)
			} else {
				slog.Info("Checkpoint saved", "run_id", runID, "iteration", i+1, "best_cost", bestCost)
			}
			lastCheckpoint = time.Now()
		}

		if tolerance > 0 && i > 0 && math.Abs(cost-prevCost) < tolerance {
			slog.Info("Early stop, cost plateaued", "run_id", runID, "iteration", i, "delta", math.Abs(cost-prevCost))
			break
		}
		prevCost = cost
	}
	elapsed := time.Since(start)

	if err := traceWriter.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "run_id", runID, "error", err)
	}

	trace := handle.Trace()
	if runErr != nil && len(trace) == 0 {
		return runErr
	}

	summary := report.Summarize(trace, 10)

	checkpoint := store.NewCheckpoint(runID, handle.Params(), summary.FinalCost, bestParams, bestCost, summary.InitialCost, handle.Iterations(), config)
	if err := checkpointStore.SaveCheckpoint(runID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	recordRunIndex(runID, config, summary, handle.Iterations(), runErr)

	if plotPath != "" {
		title := fmt.Sprintf("%s / %s", objectiveName, ruleName)
		if err := report.PlotTrace(trace, title, plotPath); err != nil {
			slog.Warn("Failed to write trace plot", "path", plotPath, "error", err)
		} else {
			slog.Info("Wrote trace plot", "path", plotPath)
		}
	}

	slog.Info("Optimization complete",
		"run_id", runID,
		"elapsed", elapsed,
		"iterations", handle.Iterations(),
		"initial_cost", summary.InitialCost,
		"final_cost", summary.FinalCost,
		"best_cost", summary.BestCost,
		"best_iteration", summary.BestIteration,
	)

	fmt.Printf("Run %s: cost %.6g -> %.6g in %d iterations (best %.6g at %d)\n",
		runID, summary.InitialCost, summary.FinalCost, handle.Iterations(), summary.BestCost, summary.BestIteration)

	return runErr
}

// recordRunIndex stores the run outcome in the SQLite index. Index failures
// are logged, not fatal; the trace and checkpoint on disk stay authoritative.
func recordRunIndex(runID string, config store.RunConfig, summary report.Summary, iterations int, runErr error) {
	state := "completed"
	if runErr != nil {
		state = "failed"
	}

	index := store.NewRunIndex(filepath.Join(dataDir, "runs.db"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := index.Init(ctx); err != nil {
		slog.Warn("Failed to open run index", "error", err)
		return
	}
	defer index.Close()

	rec := store.RunRecord{
		RunID:       runID,
		Objective:   config.Objective,
		Rule:        config.Rule,
		Dim:         config.Dim,
		StepSize:    config.StepSize,
		Iterations:  iterations,
		InitialCost: summary.InitialCost,
		BestCost:    summary.BestCost,
		State:       state,
		CreatedAt:   time.Now(),
	}
	if err := index.SaveRun(ctx, rec); err != nil {
		slog.Warn("Failed to record run in index", "run_id", runID, "error", err)
	}
}
