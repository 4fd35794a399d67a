package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rejectingScheduler refuses every submission, like a queue at its job limit
type rejectingScheduler struct{}

func (rejectingScheduler) Submit(*JobScript) (string, error) {
	return "", fmt.Errorf("qsub: Maximum number of jobs already in queue")
}

func (rejectingScheduler) State(string) (JobState, string, error) {
	return StateUnknown, "", nil
}

func (rejectingScheduler) Delete(string) error { return nil }

func (rejectingScheduler) Name() JobBackend { return BackendQsub }

func TestSubmitOneRecordsSchedulerRejection(t *testing.T) {
	reg := testRegistry(t)
	dir := t.TempDir()

	res := ResourceSpec{Nodes: 1, PPN: 1, MemGB: 16, Walltime: 500 * time.Hour, Queue: "batch"}
	scriptPath := filepath.Join(dir, "dqn_breakout_v0.pbs")
	io := JobIO{Name: "dqn_breakout_v0", OutPath: scriptPath + ".o", ErrPath: scriptPath + ".e"}
	prep := EnvPrep{Profile: ".bashrc", CondaEnv: "tensorflow"}
	trainer := Trainer{Python: "python", Workdir: dir, Script: "main.py", EnvName: "Breakout-v0"}
	content := BuildJobScript(res, io, prep, trainer, scriptPath)

	exitCode := submitOne(context.Background(), &Config{}, reg, rejectingScheduler{}, "thesis",
		res, io, prep, trainer, scriptPath, content, false)
	assert.Equal(t, 1, exitCode)

	// The run is on record as failed before its first attempt
	runs, err := reg.RunsForUser(GetCurrentUserID(), "thesis")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(R_failed), runs[0].Status)
	assert.Equal(t, 0, runs[0].Retry)
	assert.False(t, runs[0].JobID.Valid)
}
