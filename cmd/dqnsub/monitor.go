package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// watchedRun bundles everything needed to poll and, on failure, rebuild and
// resubmit one training run.
type watchedRun struct {
	RunID   int64
	JobID   string
	Job     *JobScript
	Res     ResourceSpec
	IO      JobIO
	Prep    EnvPrep
	Trainer Trainer
}

// WatchRun polls the scheduler until the run reaches a terminal state,
// resubmitting failed runs up to config.Retry.Max. Memory-killed runs are
// resubmitted with a 25% larger memory request. Returns the final exit code.
func WatchRun(ctx context.Context, reg *Registry, config *Config, backend Submitter, run *watchedRun) int {
	maxRetries := config.Retry.Max
	updateInterval := config.MonitorUpdateInterval
	if updateInterval < 1 {
		updateInterval = 30
	}

	retry := 0
	watchHeaderOnce.Do(printWatchHeader)

	for {
		node, done := pollUntilDone(ctx, reg, backend, run, retry, maxRetries, updateInterval)
		if !done {
			// Context cancelled; the job continues on the cluster, we just
			// stop watching. The run stays trackable via dqnsub stat.
			log.Printf("Stopped watching run %d (jobID: %s). Job continues on the cluster.", run.RunID, run.JobID)
			return 0
		}

		exitCode, isMemoryError := classifyCompletion(run.Job.Path, run.IO.ErrPath)
		if exitCode == 0 {
			if err := reg.MarkFinished(run.RunID, node); err != nil {
				log.Printf("Error updating registry: %v", err)
			}
			printWatchRow(retry, maxRetries, string(R_finished), run.JobID, node, 0)
			return 0
		}

		retry++
		if err := reg.MarkFailed(run.RunID, exitCode, retry, node); err != nil {
			log.Printf("Error updating registry: %v", err)
		}
		printWatchRow(retry-1, maxRetries, string(R_failed), run.JobID, node, exitCode)

		if retry >= maxRetries {
			log.Printf("Run %s failed after %d attempts", run.Job.Name, retry)
			return exitCode
		}

		if isMemoryError {
			// Increase memory by 125%, round up so the request stays whole
			run.Res.MemGB = math.Ceil(run.Res.MemGB * 1.25)
			if err := reg.UpdateMem(run.RunID, formatMemory(run.Res.MemGB)); err != nil {
				log.Printf("Error updating registry: %v", err)
			}
			log.Printf("Run %s looks memory-killed, resubmitting with mem=%s", run.Job.Name, formatMemory(run.Res.MemGB))
		}

		jobID, err := resubmit(backend, run)
		if err != nil {
			log.Printf("Error resubmitting run %s: %v", run.Job.Name, err)
			return exitCode
		}
		run.JobID = jobID
		if err := reg.SetJobID(run.RunID, jobID); err != nil {
			log.Printf("Error updating registry: %v", err)
		}
	}
}

// pollUntilDone watches one submission until the scheduler reports it gone.
// Returns the last known execution node and false if the context was cancelled.
func pollUntilDone(ctx context.Context, reg *Registry, backend Submitter, run *watchedRun, retry, maxRetries, updateInterval int) (string, bool) {
	ticker := time.NewTicker(time.Duration(updateInterval) * time.Second)
	defer ticker.Stop()

	var node string
	running := false

	for {
		select {
		case <-ctx.Done():
			return node, false
		case <-ticker.C:
			state, execNode, err := backend.State(run.JobID)
			if err != nil {
				log.Printf("Error checking job status: %v", err)
				continue
			}
			if execNode != "" {
				node = execNode
			}

			switch state {
			case StateRunning:
				if !running {
					running = true
					if err := reg.MarkRunning(run.RunID, node); err != nil {
						log.Printf("Error updating registry: %v", err)
					}
					printWatchRow(retry, maxRetries, string(R_running), run.JobID, node, -1)
				}
			case StateCompleted:
				return node, true
			}
			// Queued and held jobs just stay in the queue
		}
	}
}

// classifyCompletion decides how a finished job ended. The success sentinel
// written by the script itself is authoritative; otherwise the error log is
// scanned for memory-kill fingerprints (exit code 137, the OOM kill code).
func classifyCompletion(scriptPath, errPath string) (int, bool) {
	if _, err := os.Stat(signFilePath(scriptPath)); err == nil {
		return 0, false
	}

	if errData, err := os.ReadFile(errPath); err == nil {
		errStr := strings.ToLower(string(errData))
		if strings.Contains(errStr, "killed") || strings.Contains(errStr, "memory") ||
			strings.Contains(errStr, "vmem") || strings.Contains(errStr, "out of memory") ||
			strings.Contains(errStr, "oom") {
			return 137, true
		}
	}

	return 1, false
}

// resubmit rewrites the job script (memory may have changed) and submits again
func resubmit(backend Submitter, run *watchedRun) (string, error) {
	// Stale sentinel would mask a failure of the new attempt
	os.Remove(signFilePath(run.Job.Path))

	content := BuildJobScript(run.Res, run.IO, run.Prep, run.Trainer, run.Job.Path)
	if err := WriteJobScript(run.Job.Path, content); err != nil {
		return "", err
	}
	run.Job.Content = content
	run.Job.NativeSpec = run.Res.NativeSpec(run.IO)

	return backend.Submit(run.Job)
}

// watchHeaderOnce keeps concurrent batch watchers from repeating the header
var watchHeaderOnce sync.Once

// printWatchHeader prints the table header for watch output
func printWatchHeader() {
	fmt.Printf("%-6s %-10s %-24s %-12s %-12s\n", "try", "status", "jobid", "node", "time")
}

// printWatchRow outputs one status change to stdout in table format
func printWatchRow(retry, maxRetries int, status, jobID, node string, exitCode int) {
	tryStr := fmt.Sprintf("%d:%d", retry+1, maxRetries)
	if node == "" {
		node = "-"
	}
	statusStr := status
	if exitCode > 0 {
		statusStr = fmt.Sprintf("%s(%d)", status, exitCode)
	}
	fmt.Printf("%-6s %-10s %-24s %-12s %-12s\n",
		tryStr, statusStr, jobID, node, time.Now().Format("01-02 15:04"))
}
