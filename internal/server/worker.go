package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/varifit/varifit/internal/objective"
	"github.com/varifit/varifit/internal/opt"
	"github.com/varifit/varifit/internal/store"
)

// runJob executes an optimization job in the background.
// If checkpointStore is not nil and the job has checkpointInterval > 0,
// periodic checkpoints are saved while the job runs.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, index *store.RunIndex, baseDir, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "objective", job.Config.Objective, "rule", job.Config.Rule)

	fn, err := objective.Lookup(job.Config.Objective, job.Config.Dim)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to resolve objective: %w", err))
		return err
	}

	rule, err := opt.RuleByName(job.Config.Rule)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	// Seeded starting point, drawn uniformly from the objective's box so
	// repeated runs with the same seed are reproducible.
	rng := rand.New(rand.NewSource(job.Config.Seed))
	initial := make([]float64, fn.Dim)
	for i := range initial {
		initial[i] = fn.Lower[i] + rng.Float64()*(fn.Upper[i]-fn.Lower[i])
	}

	handle, err := opt.New(initial, opt.Config{
		StepSize:      job.Config.StepSize,
		MaxIterations: job.Config.Iters,
		Tolerance:     job.Config.Tolerance,
		Rule:          rule,
	})
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	var traceWriter *store.TraceWriter
	if baseDir != "" {
		traceWriter, err = store.NewTraceWriter(baseDir, jobID, false)
		if err != nil {
			markJobFailed(jm, jobID, fmt.Errorf("failed to create trace writer: %w", err))
			return err
		}
		defer traceWriter.Close()
	}

	start := time.Now()

	// Progress monitoring goroutine throttles SSE updates.
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, start, progressDone)

	// Closed exactly once after the loop; when checkpointing is disabled
	// no monitor goroutine waits on it.
	checkpointDone := make(chan struct{})
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, checkpointStore, jobID, checkpointDone)
	}

	bestCost := math.Inf(1)
	var bestParams []float64
	var initialCost, prevCost float64

	// Patience-based stall detection on top of the per-delta tolerance;
	// jobs have no operator watching, so runaway plateaus get cut off.
	plateau := opt.NewPlateauTracker(opt.DefaultPlateauConfig())

	var runErr error
	for i := 0; i < job.Config.Iters; i++ {
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

		if traceWriter != nil {
			entry := store.TraceEntry{
				Iteration: i,
				Cost:      cost,
				Timestamp: time.Now(),
			}
			if err := traceWriter.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}

		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = i + 1
			j.CurrentCost = cost
			j.InitialCost = initialCost
			j.BestCost = bestCost
			j.BestParams = bestParams
		})

		if job.Config.Tolerance > 0 && i > 0 && math.Abs(cost-prevCost) < job.Config.Tolerance {
			break
		}
		if plateau.Update(cost) {
			slog.Info("Job plateaued", "job_id", jobID, "iteration", i, "best_cost", plateau.BestCost())
			break
		}
		prevCost = cost
	}

	close(progressDone)
	close(checkpointDone)
	elapsed := time.Since(start)

	if traceWriter != nil {
		if err := traceWriter.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
		} else {
			markJobFailed(jm, jobID, runErr)
		}
		recordRun(index, jm, jobID)
		return runErr
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	// Refresh the snapshot after the final update.
	job, _ = jm.GetJob(jobID)

	if checkpointStore != nil {
		if err := saveJobCheckpoint(jm, checkpointStore, jobID); err != nil {
			slog.Warn("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}
	recordRun(index, jm, jobID)

	eps := float64(job.Iterations) / elapsed.Seconds()

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"iterations", job.Iterations,
		"initial_cost", job.InitialCost,
		"best_cost", job.BestCost,
		"evals_per_second", eps,
	)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Iteration:   job.Iterations,
		Cost:        job.CurrentCost,
		BestCost:    job.BestCost,
		EvalsPerSec: eps,
		Timestamp:   time.Now().UnixMilli(),
	})

	return nil
}

// monitorProgress periodically broadcasts progress events during optimization.
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}

			elapsed := time.Since(startTime).Seconds()
			var eps float64
			if elapsed > 0 && job.Iterations > 0 {
				eps = float64(job.Iterations) / elapsed
			}

			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:       jobID,
				State:       job.State,
				Iteration:   job.Iterations,
				Cost:        job.CurrentCost,
				BestCost:    job.BestCost,
				EvalsPerSec: eps,
				Timestamp:   time.Now().UnixMilli(),
			})
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during optimization.
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveJobCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveJobCheckpoint saves the job's best state as a checkpoint. The best
// pair is stored for both current and best so a resumed job picks up from
// the best vector seen so far.
func saveJobCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if len(job.BestParams) == 0 {
		slog.Debug("Skipping checkpoint, no best params yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestParams,
		job.BestCost,
		job.BestParams,
		job.BestCost,
		job.InitialCost,
		job.Iterations,
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", job.Iterations,
		"best_cost", job.BestCost,
	)

	return nil
}

// recordRun upserts the job's outcome into the run index, if one is configured.
// A fresh context is used so the record lands even when the job was cancelled.
func recordRun(index *store.RunIndex, jm *JobManager, jobID string) {
	if index == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	rec := store.RunRecord{
		RunID:       job.ID,
		Objective:   job.Config.Objective,
		Rule:        job.Config.Rule,
		Dim:         job.Config.Dim,
		StepSize:    job.Config.StepSize,
		Iterations:  job.Iterations,
		InitialCost: job.InitialCost,
		BestCost:    job.BestCost,
		State:       string(job.State),
		CreatedAt:   job.StartTime,
	}

	if err := index.SaveRun(ctx, rec); err != nil {
		slog.Warn("Failed to record run in index", "job_id", jobID, "error", err)
	}
}
