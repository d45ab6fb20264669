package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a temporary directory and returns an FSStore.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	fsStore, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	return fsStore, tempDir
}

// testCheckpoint creates a checkpoint with test data for the given run.
func testCheckpoint(runID string) *Checkpoint {
	return &Checkpoint{
		RunID:       runID,
		Params:      []float64{0.9, -0.8},
		Cost:        0.05,
		BestParams:  []float64{0.95, -0.92},
		BestCost:    0.0123,
		InitialCost: 2.0,
		Iteration:   300,
		Timestamp:   time.Now(),
		Config: RunConfig{
			Objective: "quadratic",
			Dim:       2,
			Rule:      "gd",
			StepSize:  0.1,
			Iters:     1000,
			Seed:      42,
		},
	}
}

func TestNewFSStore(t *testing.T) {
	tempDir := t.TempDir()

	fsStore, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if fsStore == nil {
		t.Fatal("Expected non-nil store")
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveLoadCheckpoint(t *testing.T) {
	fsStore, _ := setupTestStore(t)

	checkpoint := testCheckpoint("run-abc")
	if err := fsStore.SaveCheckpoint("run-abc", checkpoint); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := fsStore.LoadCheckpoint("run-abc")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.RunID != checkpoint.RunID {
		t.Errorf("RunID = %q, expected %q", loaded.RunID, checkpoint.RunID)
	}
	if loaded.BestCost != checkpoint.BestCost {
		t.Errorf("BestCost = %v, expected %v", loaded.BestCost, checkpoint.BestCost)
	}
	if loaded.Iteration != checkpoint.Iteration {
		t.Errorf("Iteration = %d, expected %d", loaded.Iteration, checkpoint.Iteration)
	}
	if len(loaded.Params) != len(checkpoint.Params) {
		t.Fatalf("Params length = %d, expected %d", len(loaded.Params), len(checkpoint.Params))
	}
	for i := range loaded.Params {
		if loaded.Params[i] != checkpoint.Params[i] {
			t.Errorf("Params[%d] = %v, expected %v", i, loaded.Params[i], checkpoint.Params[i])
		}
	}
	if loaded.Config.Objective != checkpoint.Config.Objective {
		t.Errorf("Config.Objective = %q, expected %q", loaded.Config.Objective, checkpoint.Config.Objective)
	}
}

func TestSaveCheckpointOverwrites(t *testing.T) {
	fsStore, _ := setupTestStore(t)

	first := testCheckpoint("run-x")
	if err := fsStore.SaveCheckpoint("run-x", first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := testCheckpoint("run-x")
	second.Iteration = 600
	second.BestCost = 0.001
	if err := fsStore.SaveCheckpoint("run-x", second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := fsStore.LoadCheckpoint("run-x")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.Iteration != 600 {
		t.Errorf("Iteration = %d, expected 600", loaded.Iteration)
	}
	if loaded.BestCost != 0.001 {
		t.Errorf("BestCost = %v, expected 0.001", loaded.BestCost)
	}
}

func TestLoadCheckpointNotFound(t *testing.T) {
	fsStore, _ := setupTestStore(t)

	_, err := fsStore.LoadCheckpoint("missing")
	if err == nil {
		t.Fatal("Expected error for missing checkpoint")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListCheckpoints(t *testing.T) {
	fsStore, _ := setupTestStore(t)

	// Empty store lists nothing.
	infos, err := fsStore.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected 0 checkpoints, got %d", len(infos))
	}

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := fsStore.SaveCheckpoint(id, testCheckpoint(id)); err != nil {
			t.Fatalf("SaveCheckpoint(%s) failed: %v", id, err)
		}
	}

	infos, err = fsStore.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 3 {
		t.Errorf("Expected 3 checkpoints, got %d", len(infos))
	}
}

func TestListCheckpointsSkipsPartialDirs(t *testing.T) {
	fsStore, tempDir := setupTestStore(t)

	if err := fsStore.SaveCheckpoint("good", testCheckpoint("good")); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// A run directory without checkpoint.json (e.g. only a trace).
	if err := os.MkdirAll(filepath.Join(tempDir, "runs", "partial"), 0755); err != nil {
		t.Fatalf("Failed to create partial dir: %v", err)
	}

	infos, err := fsStore.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("Expected 1 checkpoint, got %d", len(infos))
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	fsStore, _ := setupTestStore(t)

	if err := fsStore.SaveCheckpoint("doomed", testCheckpoint("doomed")); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	if err := fsStore.DeleteCheckpoint("doomed"); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}

	if _, err := fsStore.LoadCheckpoint("doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again reports not found.
	if err := fsStore.DeleteCheckpoint("doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSaveCheckpointLeavesNoTempFile(t *testing.T) {
	fsStore, tempDir := setupTestStore(t)

	if err := fsStore.SaveCheckpoint("run-t", testCheckpoint("run-t")); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	tmpPath := filepath.Join(tempDir, "runs", "run-t", "checkpoint.json.tmp")
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("Temp file left behind: %s", tmpPath)
	}
}
