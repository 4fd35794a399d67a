package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJobPieces() (ResourceSpec, JobIO, EnvPrep, Trainer) {
	res := ResourceSpec{Nodes: 1, PPN: 1, MemGB: 16, Walltime: 500 * time.Hour, Queue: "batch"}
	io := JobIO{Name: "dqn_spaceinvaders_v0", OutPath: "/tmp/run.pbs.o", ErrPath: "/tmp/run.pbs.e"}
	prep := EnvPrep{
		Modules:  []string{"tensorflow"},
		Profile:  ".bashrc",
		CondaEnv: "tensorflow",
	}
	trainer := Trainer{
		Python:  "python",
		Workdir: "DQN-tensorflow-priorityReplay",
		Script:  "main.py",
		EnvName: "SpaceInvaders-v0",
		UseGpu:  0,
	}
	return res, io, prep, trainer
}

func TestTrainerCommandLine(t *testing.T) {
	_, _, _, trainer := testJobPieces()

	assert.Equal(t, "python main.py --use_gpu=0 --env_name=SpaceInvaders-v0", trainer.CommandLine())

	trainer.UseGpu = 1
	trainer.Args = []string{"--is_train=True"}
	assert.Equal(t, "python main.py --use_gpu=1 --env_name=SpaceInvaders-v0 --is_train=True", trainer.CommandLine())
}

func TestBuildJobScript(t *testing.T) {
	res, io, prep, trainer := testJobPieces()

	content := BuildJobScript(res, io, prep, trainer, "/tmp/run.pbs")
	lines := strings.Split(content, "\n")

	// Shebang first, then the full directive block before any command
	require.True(t, len(lines) > 10)
	assert.Equal(t, "#!/bin/bash", lines[0])
	assert.Equal(t, "#PBS -l nodes=1:ppn=1", lines[1])
	assert.Equal(t, "#PBS -l mem=16gb", lines[2])
	assert.Equal(t, "#PBS -l walltime=500:00:00", lines[3])

	// Environment preparation happens in the documented order
	idxModule := strings.Index(content, "module load tensorflow")
	idxHome := strings.Index(content, "cd $HOME")
	idxProfile := strings.Index(content, "source .bashrc")
	idxActivate := strings.Index(content, "source activate tensorflow")
	idxWorkdir := strings.Index(content, "cd DQN-tensorflow-priorityReplay")
	idxTrainer := strings.Index(content, "python main.py --use_gpu=0 --env_name=SpaceInvaders-v0")

	require.NotEqual(t, -1, idxModule)
	require.NotEqual(t, -1, idxTrainer)
	assert.Less(t, idxModule, idxHome)
	assert.Less(t, idxHome, idxProfile)
	assert.Less(t, idxProfile, idxActivate)
	assert.Less(t, idxActivate, idxWorkdir)
	assert.Less(t, idxWorkdir, idxTrainer)

	// Success sentinel is only written when the trainer exits cleanly
	assert.Contains(t, content, "echo LLAP > /tmp/run.pbs.sign")
	assert.Less(t, idxTrainer, strings.Index(content, ".sign"))
}

func TestBuildJobScriptSkipsEmptyPrep(t *testing.T) {
	res, io, _, trainer := testJobPieces()
	prep := EnvPrep{}
	trainer.Workdir = ""

	content := BuildJobScript(res, io, prep, trainer, "/tmp/run.pbs")

	assert.NotContains(t, content, "module load")
	assert.NotContains(t, content, "source activate")
	// The trainer still runs out of $HOME
	assert.Contains(t, content, "cd $HOME")
	assert.Contains(t, content, "python main.py")
}

func TestWriteJobScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs", "run.pbs")

	require.NoError(t, WriteJobScript(path, "#!/bin/bash\necho hi\n"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\necho hi\n", string(data))
}

func TestSignFilePath(t *testing.T) {
	assert.Equal(t, "/tmp/run.pbs.sign", signFilePath("/tmp/run.pbs"))
}
