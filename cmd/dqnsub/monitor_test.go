package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler reports every job gone on the first poll, so the watch loop
// judges completion from the sentinel and the error log alone
type fakeScheduler struct {
	mu        sync.Mutex
	nextID    int
	resubmits []*JobScript
}

func (f *fakeScheduler) Submit(job *JobScript) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	resub := *job
	f.resubmits = append(f.resubmits, &resub)
	return fmt.Sprintf("%d.fake", f.nextID), nil
}

func (f *fakeScheduler) State(jobID string) (JobState, string, error) {
	return StateCompleted, "node042", nil
}

func (f *fakeScheduler) Delete(jobID string) error { return nil }

func (f *fakeScheduler) Name() JobBackend { return BackendQsub }

func watchTestRun(t *testing.T, reg *Registry, dir string) (*watchedRun, *Config) {
	t.Helper()

	res := ResourceSpec{Nodes: 1, PPN: 1, MemGB: 16, Walltime: 500 * time.Hour, Queue: "batch"}
	scriptPath := filepath.Join(dir, "dqn_breakout_v0.pbs")
	io := JobIO{Name: "dqn_breakout_v0", OutPath: scriptPath + ".o", ErrPath: scriptPath + ".e"}
	prep := EnvPrep{Modules: []string{"tensorflow"}, Profile: ".bashrc", CondaEnv: "tensorflow"}
	trainer := Trainer{Python: "python", Workdir: dir, Script: "main.py", EnvName: "Breakout-v0", UseGpu: 0}

	content := BuildJobScript(res, io, prep, trainer, scriptPath)
	require.NoError(t, WriteJobScript(scriptPath, content))

	id, err := reg.InsertRun("ardillen", "thesis", testRecord("dqn_breakout_v0", "Breakout-v0"))
	require.NoError(t, err)
	require.NoError(t, reg.SetJobID(id, "1.fake"))

	config := &Config{MonitorUpdateInterval: 1}
	config.Retry.Max = 2

	run := &watchedRun{
		RunID:   id,
		JobID:   "1.fake",
		Job:     &JobScript{Path: scriptPath, Content: content, Name: io.Name, NativeSpec: res.NativeSpec(io)},
		Res:     res,
		IO:      io,
		Prep:    prep,
		Trainer: trainer,
	}
	return run, config
}

func TestWatchRunEscalatesMemoryOnOOM(t *testing.T) {
	reg := testRegistry(t)
	run, config := watchTestRun(t, reg, t.TempDir())

	// No sentinel, memory-kill fingerprint in the error log on every attempt
	require.NoError(t, os.WriteFile(run.IO.ErrPath, []byte("PBS: job killed: mem 17000mb exceeded limit\n"), 0644))

	backend := &fakeScheduler{nextID: 1}
	exitCode := WatchRun(context.Background(), reg, config, backend, run)
	assert.Equal(t, 137, exitCode)

	// One resubmission with the escalated memory request
	require.Len(t, backend.resubmits, 1)
	assert.Contains(t, backend.resubmits[0].NativeSpec, "mem=20gb")
	assert.Contains(t, backend.resubmits[0].Content, "#PBS -l mem=20gb")

	rec, err := reg.FindRun("ardillen", int(run.RunID))
	require.NoError(t, err)
	assert.Equal(t, string(R_failed), rec.Status)
	assert.Equal(t, int64(137), rec.ExitCode.Int64)
	assert.Equal(t, 2, rec.Retry)
	assert.Equal(t, "20gb", rec.Mem)
	assert.Equal(t, "2.fake", rec.JobID.String)
}

func TestWatchRunFinishesOnSentinel(t *testing.T) {
	reg := testRegistry(t)
	run, config := watchTestRun(t, reg, t.TempDir())

	require.NoError(t, os.WriteFile(signFilePath(run.Job.Path), []byte("LLAP\n"), 0644))

	backend := &fakeScheduler{nextID: 1}
	exitCode := WatchRun(context.Background(), reg, config, backend, run)
	assert.Equal(t, 0, exitCode)
	assert.Empty(t, backend.resubmits)

	rec, err := reg.FindRun("ardillen", int(run.RunID))
	require.NoError(t, err)
	assert.Equal(t, string(R_finished), rec.Status)
	assert.Equal(t, int64(0), rec.ExitCode.Int64)
	assert.Equal(t, "node042", rec.Node.String)
}

func TestWatchRunStopsOnCancel(t *testing.T) {
	reg := testRegistry(t)
	run, config := watchTestRun(t, reg, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &fakeScheduler{nextID: 1}
	exitCode := WatchRun(ctx, reg, config, backend, run)
	assert.Equal(t, 0, exitCode)
	assert.Empty(t, backend.resubmits)

	// The job itself is left alone, only the watcher stops
	rec, err := reg.FindRun("ardillen", int(run.RunID))
	require.NoError(t, err)
	assert.Equal(t, string(R_queued), rec.Status)
}

func TestClassifyCompletionSentinelWins(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "run.pbs")
	errPath := filepath.Join(dir, "run.pbs.e")

	// Even with a scary error log, the sentinel means the trainer chain
	// completed and wrote it as its very last command
	require.NoError(t, os.WriteFile(signFilePath(scriptPath), []byte("LLAP\n"), 0644))
	require.NoError(t, os.WriteFile(errPath, []byte("some warning about memory\n"), 0644))

	exitCode, oom := classifyCompletion(scriptPath, errPath)
	assert.Equal(t, 0, exitCode)
	assert.False(t, oom)
}

func TestClassifyCompletionDetectsOOM(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "run.pbs")
	errPath := filepath.Join(dir, "run.pbs.e")

	require.NoError(t, os.WriteFile(errPath, []byte("PBS: job killed: vmem exceeds limit\n"), 0644))

	exitCode, oom := classifyCompletion(scriptPath, errPath)
	assert.Equal(t, 137, exitCode)
	assert.True(t, oom)
}

func TestClassifyCompletionPlainFailure(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "run.pbs")
	errPath := filepath.Join(dir, "run.pbs.e")

	require.NoError(t, os.WriteFile(errPath, []byte("Traceback (most recent call last):\n  ImportError: no module named gym\n"), 0644))

	exitCode, oom := classifyCompletion(scriptPath, errPath)
	assert.Equal(t, 1, exitCode)
	assert.False(t, oom)
}

func TestClassifyCompletionNoLogs(t *testing.T) {
	dir := t.TempDir()

	// Neither sentinel nor error log: the job vanished, count it failed
	exitCode, oom := classifyCompletion(filepath.Join(dir, "run.pbs"), filepath.Join(dir, "run.pbs.e"))
	assert.Equal(t, 1, exitCode)
	assert.False(t, oom)
}
