package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/varifit/varifit/internal/report"
	"github.com/varifit/varifit/internal/store"
)

var (
	serverURL     string
	statusDataDir string
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the status of a run or job",
	Long: `Queries the server for job status information.
If no run-id is provided, lists all jobs.
With --data, reads the checkpoint and trace from the data directory
instead of contacting a server.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	statusCmd.Flags().StringVar(&statusDataDir, "data", "", "Read run state from this data directory instead of the server")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusDataDir != "" {
		if len(args) == 0 {
			return fmt.Errorf("run-id is required with --data")
		}
		return localStatus(statusDataDir, args[0])
	}

	if len(args) == 0 {
		url := fmt.Sprintf("%s/api/v1/jobs", serverURL)
		return listServerJobs(url)
	}

	jobID := args[0]
	url := fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID)
	return getJobStatus(url, jobID)
}

func localStatus(dataDir, runID string) error {
	checkpointStore, err := store.NewFSStore(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open data directory: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(runID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	fmt.Printf("Run: %s\n", checkpoint.RunID)
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Objective: %s\n", checkpoint.Config.Objective)
	fmt.Printf("  Dimension: %d\n", checkpoint.Config.Dim)
	fmt.Printf("  Rule: %s\n", checkpoint.Config.Rule)
	fmt.Printf("  Step Size: %g\n", checkpoint.Config.StepSize)
	fmt.Println()
	fmt.Println("Checkpoint:")
	fmt.Printf("  Iteration: %d\n", checkpoint.Iteration)
	fmt.Printf("  Saved: %s\n", checkpoint.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Cost: %.6g\n", checkpoint.Cost)
	fmt.Printf("  Best Cost: %.6g\n", checkpoint.BestCost)

	reader, err := store.NewTraceReader(dataDir, runID)
	if err != nil {
		// A checkpoint without a trace is still useful output.
		return nil
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil || len(entries) == 0 {
		return nil
	}

	summary := report.Summarize(store.Costs(entries), 10)
	fmt.Println()
	fmt.Println("Trace:")
	fmt.Printf("  Entries: %d\n", summary.Iterations)
	fmt.Printf("  Initial Cost: %.6g\n", summary.InitialCost)
	fmt.Printf("  Final Cost: %.6g\n", summary.FinalCost)
	fmt.Printf("  Best Cost: %.6g at iteration %d\n", summary.BestCost, summary.BestIteration)
	fmt.Printf("  Tail Mean: %.6g (stddev %.6g)\n", summary.TailMean, summary.TailStdDev)

	return nil
}

func listServerJobs(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		config, _ := job["config"].(map[string]interface{})
		fmt.Printf("Job ID: %s\n", job["id"])
		fmt.Printf("  State: %s\n", job["state"])
		fmt.Printf("  Objective: %v (dim %v)\n", config["objective"], config["dim"])
		fmt.Printf("  Rule: %v\n", config["rule"])
		if cost, ok := job["bestCost"].(float64); ok && cost > 0 {
			fmt.Printf("  Cost: %.6g -> %.6g\n", job["initialCost"], cost)
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Job: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	config, _ := status["config"].(map[string]interface{})
	fmt.Println("Configuration:")
	fmt.Printf("  Objective: %v\n", config["objective"])
	fmt.Printf("  Dimension: %v\n", config["dim"])
	fmt.Printf("  Rule: %v\n", config["rule"])
	fmt.Printf("  Step Size: %v\n", config["stepSize"])
	fmt.Printf("  Iterations: %v\n", config["iters"])
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Iterations: %v\n", status["iterations"])
	if initial, ok := status["initialCost"].(float64); ok && initial > 0 {
		fmt.Printf("  Initial Cost: %.6g\n", initial)
		if best, ok := status["bestCost"].(float64); ok {
			fmt.Printf("  Best Cost: %.6g\n", best)
			improvement := initial - best
			fmt.Printf("  Improvement: %.6g (%.1f%%)\n", improvement, improvement/initial*100)
		}
	}

	if elapsed, ok := status["elapsed"].(float64); ok {
		fmt.Printf("  Elapsed: %s\n", time.Duration(elapsed*float64(time.Second)).Round(time.Millisecond))
	}
	if eps, ok := status["evalsPerSec"].(float64); ok && eps > 0 {
		fmt.Printf("  Throughput: %.0f evals/sec\n", eps)
	}

	if errMsg, ok := status["error"].(string); ok && errMsg != "" {
		fmt.Printf("\nError: %s\n", errMsg)
	}

	return nil
}
