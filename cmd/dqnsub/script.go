package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvPrep describes the shell environment the trainer needs before launch.
// Each step renders as one unconditional line in the job script.
type EnvPrep struct {
	Modules  []string
	Profile  string
	CondaEnv string
}

// Trainer describes the external training program invocation. The program
// itself (main.py of the DQN project) is an external collaborator; dqnsub
// only builds its command line.
type Trainer struct {
	Python  string
	Workdir string
	Script  string
	EnvName string
	UseGpu  int
	Args    []string
}

// CommandLine renders the trainer invocation with its two fixed flags
func (t Trainer) CommandLine() string {
	parts := []string{t.Python, t.Script,
		fmt.Sprintf("--use_gpu=%d", t.UseGpu),
		fmt.Sprintf("--env_name=%s", t.EnvName),
	}
	parts = append(parts, t.Args...)
	return strings.Join(parts, " ")
}

// BuildJobScript renders the complete PBS job script: directive block,
// environment preparation, trainer invocation and the success sentinel.
// The sentinel file is the only reliable success signal because PBS exit
// codes are lost once the job leaves the queue.
func BuildJobScript(res ResourceSpec, io JobIO, prep EnvPrep, trainer Trainer, scriptPath string) string {
	var b strings.Builder

	b.WriteString("#!/bin/bash\n")
	for _, d := range res.Directives(io) {
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, m := range prep.Modules {
		fmt.Fprintf(&b, "module load %s\n", m)
	}
	b.WriteString("cd $HOME\n")
	if prep.Profile != "" {
		fmt.Fprintf(&b, "source %s\n", prep.Profile)
	}
	if prep.CondaEnv != "" {
		fmt.Fprintf(&b, "source activate %s\n", prep.CondaEnv)
	}
	if trainer.Workdir != "" {
		fmt.Fprintf(&b, "cd %s\n", trainer.Workdir)
	}
	b.WriteString("\n")

	b.WriteString("echo ========== start at : `date +%Y/%m/%d-%H:%M:%S` ==========\n")
	fmt.Fprintf(&b, "%s && \\\n", trainer.CommandLine())
	b.WriteString("echo ========== end at : `date +%Y/%m/%d-%H:%M:%S` ========== && \\\n")
	fmt.Fprintf(&b, "echo LLAP 1>&2 && \\\necho LLAP > %s.sign\n", scriptPath)

	return b.String()
}

// WriteJobScript writes the rendered script and makes it executable
func WriteJobScript(scriptPath, content string) error {
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(scriptPath, []byte(content), 0644); err != nil {
		return err
	}
	return os.Chmod(scriptPath, 0755)
}

// signFilePath returns the success sentinel path for a job script
func signFilePath(scriptPath string) string {
	return scriptPath + ".sign"
}
