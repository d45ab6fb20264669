package server

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/varifit/varifit/internal/objective"
	"github.com/varifit/varifit/internal/store"
)

func TestRunJobCompletes(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Dim:       2,
		Rule:      "gd",
		StepSize:  0.1,
		Iters:     50,
		Seed:      1,
	})

	if err := runJob(context.Background(), jm, nil, nil, t.TempDir(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, done.State)
	}
	if done.Iterations != 50 {
		t.Errorf("expected 50 iterations, got %d", done.Iterations)
	}
	if done.BestCost >= done.InitialCost {
		t.Errorf("expected best cost %f below initial cost %f", done.BestCost, done.InitialCost)
	}
	if len(done.BestParams) != 2 {
		t.Errorf("expected 2 best params, got %d", len(done.BestParams))
	}
	if done.EndTime == nil {
		t.Error("expected end time to be set")
	}
}

func TestRunJobWritesTrace(t *testing.T) {
	dir := t.TempDir()
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Dim:       2,
		Rule:      "gd",
		StepSize:  0.1,
		Iters:     20,
		Seed:      7,
	})

	if err := runJob(context.Background(), jm, nil, nil, dir, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reader, err := store.NewTraceReader(dir, job.ID)
	if err != nil {
		t.Fatalf("failed to open trace: %v", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("failed to read trace: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 trace entries, got %d", len(entries))
	}
	if entries[0].Iteration != 0 || entries[19].Iteration != 19 {
		t.Error("expected trace iterations 0..19")
	}
	if entries[19].Cost > entries[0].Cost {
		t.Errorf("expected cost to decrease, got %f -> %f", entries[0].Cost, entries[19].Cost)
	}
}

func TestRunJobToleranceStopsEarly(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Dim:       2,
		Rule:      "gd",
		StepSize:  0.5, // contraction factor 0 on the sphere, converges in one step
		Iters:     1000,
		Tolerance: 1e-12,
		Seed:      3,
	})

	if err := runJob(context.Background(), jm, nil, nil, "", job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, done.State)
	}
	if done.Iterations >= 1000 {
		t.Errorf("expected early stop, ran %d iterations", done.Iterations)
	}
}

func TestRunJobUnknownObjective(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "nope",
		Dim:       2,
		StepSize:  0.1,
		Iters:     10,
	})

	if err := runJob(context.Background(), jm, nil, nil, "", job.ID); err == nil {
		t.Fatal("expected error for unknown objective")
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateFailed {
		t.Errorf("expected state %s, got %s", StateFailed, done.State)
	}
	if done.Error == "" {
		t.Error("expected error message on failed job")
	}
}

func TestRunJobCancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Dim:       2,
		Rule:      "gd",
		StepSize:  0.001,
		Iters:     100,
		Seed:      5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, nil, nil, "", job.ID)
	if err == nil {
		t.Fatal("expected error from cancelled run")
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCancelled {
		t.Errorf("expected state %s, got %s", StateCancelled, done.State)
	}
}

func TestRunJobSavesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	checkpointStore, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective:          "sphere",
		Dim:                2,
		Rule:               "gd",
		StepSize:           0.1,
		Iters:              30,
		Seed:               9,
		CheckpointInterval: 1,
	})

	if err := runJob(context.Background(), jm, checkpointStore, nil, dir, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("expected final checkpoint: %v", err)
	}
	if checkpoint.Iteration != 30 {
		t.Errorf("expected checkpoint at iteration 30, got %d", checkpoint.Iteration)
	}
	if checkpoint.Config.Objective != "sphere" {
		t.Errorf("expected objective sphere, got %s", checkpoint.Config.Objective)
	}
	if checkpoint.Cost != checkpoint.BestCost {
		t.Errorf("expected checkpoint cost %g to equal best cost %g", checkpoint.Cost, checkpoint.BestCost)
	}

	fn, err := objective.Lookup("sphere", 2)
	if err != nil {
		t.Fatalf("failed to resolve objective: %v", err)
	}
	if got := fn.Eval(checkpoint.Params).Cost; math.Abs(got-checkpoint.Cost) > 1e-12 {
		t.Errorf("checkpoint params evaluate to %g, checkpoint cost is %g", got, checkpoint.Cost)
	}
}

func TestRunJobZeroCheckpointInterval(t *testing.T) {
	dir := t.TempDir()
	checkpointStore, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	// CheckpointInterval defaults to zero for jobs created over the API;
	// the run must still complete cleanly with a store attached.
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Dim:       2,
		Rule:      "gd",
		StepSize:  0.1,
		Iters:     10,
		Seed:      2,
	})

	if err := runJob(context.Background(), jm, checkpointStore, nil, "", job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCompleted {
		t.Errorf("expected state %s, got %s", StateCompleted, done.State)
	}
}

func TestRunJobBestParamsMatchBestCost(t *testing.T) {
	// Step size 1.5 on the sphere overshoots: each update maps p to -2p and
	// the cost quadruples, so the initial vector stays the best one seen.
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Dim:       2,
		Rule:      "gd",
		StepSize:  1.5,
		Iters:     10,
		Seed:      13,
	})

	if err := runJob(context.Background(), jm, nil, nil, "", job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done, _ := jm.GetJob(job.ID)
	fn, err := objective.Lookup("sphere", 2)
	if err != nil {
		t.Fatalf("failed to resolve objective: %v", err)
	}
	got := fn.Eval(done.BestParams).Cost
	if math.Abs(got-done.BestCost) > 1e-12*math.Max(1, done.BestCost) {
		t.Errorf("best params evaluate to %g, recorded best cost is %g", got, done.BestCost)
	}
	if done.BestCost != done.InitialCost {
		t.Errorf("expected diverging run to keep initial cost %g as best, got %g", done.InitialCost, done.BestCost)
	}
}

func TestMarkJobFailed(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	markJobFailed(jm, job.ID, errors.New("boom"))

	done, _ := jm.GetJob(job.ID)
	if done.State != StateFailed {
		t.Errorf("expected state %s, got %s", StateFailed, done.State)
	}
	if done.Error != "boom" {
		t.Errorf("expected error message %q, got %q", "boom", done.Error)
	}
	if done.EndTime == nil {
		t.Error("expected end time to be set")
	}
}

func TestMarkJobCancelled(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())

	markJobCancelled(jm, job.ID)

	done, _ := jm.GetJob(job.ID)
	if done.State != StateCancelled {
		t.Errorf("expected state %s, got %s", StateCancelled, done.State)
	}
	if done.EndTime == nil {
		t.Error("expected end time to be set")
	}
}

func TestRunJobRecordsRun(t *testing.T) {
	dir := t.TempDir()
	index := store.NewRunIndex(dir + "/runs.db")
	if err := index.Init(context.Background()); err != nil {
		t.Fatalf("failed to init index: %v", err)
	}
	defer index.Close()

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "quadratic",
		Dim:       2,
		Rule:      "adam",
		StepSize:  0.05,
		Iters:     15,
		Seed:      11,
	})

	if err := runJob(context.Background(), jm, nil, index, "", job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, found, err := index.GetRun(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("failed to query index: %v", err)
	}
	if !found {
		t.Fatal("expected run record in index")
	}
	if rec.State != string(StateCompleted) {
		t.Errorf("expected state %s, got %s", StateCompleted, rec.State)
	}
	if rec.Iterations != 15 {
		t.Errorf("expected 15 iterations, got %d", rec.Iterations)
	}
}

func TestMonitorProgressBroadcasts(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig())
	jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 4
		j.BestCost = 0.25
	})

	events := jm.broadcaster.Subscribe(job.ID)
	defer jm.broadcaster.Unsubscribe(job.ID, events)

	done := make(chan struct{})
	go monitorProgress(context.Background(), jm, job.ID, time.Now(), done)
	defer close(done)

	select {
	case got := <-events:
		if got.Iteration != 4 {
			t.Errorf("expected iteration 4, got %d", got.Iteration)
		}
		if got.BestCost != 0.25 {
			t.Errorf("expected best cost 0.25, got %f", got.BestCost)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}
