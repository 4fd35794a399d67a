package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// newBackend selects and initializes the submission backend
func newBackend(config *Config, name JobBackend, submitHost string) (Submitter, error) {
	switch name {
	case BackendQsub:
		return NewPBSClient()
	case BackendSSH:
		host := submitHost
		if host == "" {
			host = config.SubmitHost
		}
		if host == "" {
			return nil, errors.New("ssh backend requires submit_host in config or --submit-host")
		}
		return &SSHBackend{Host: host}, nil
	case BackendDRMAA:
		return &DRMAABackend{}, nil
	default:
		return nil, errors.Errorf("unknown backend: %s (supported: qsub, ssh, drmaa)", name)
	}
}

// runSubmitMode submits one training run
func runSubmitMode(config *Config, args []string) {
	// Check for help flag before parsing
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printModuleHelp("submit", config)
			return
		}
	}

	parser := argparse.NewParser("dqnsub submit", "Submit a DQN training run to the PBS cluster")
	opt_env := parser.String("e", "env_name", &argparse.Options{Default: config.Defaults.EnvName, Help: fmt.Sprintf("Gym environment passed to the trainer (default: %s)", config.Defaults.EnvName)})
	opt_gpu := parser.Int("g", "use_gpu", &argparse.Options{Default: config.Defaults.UseGpu, Help: fmt.Sprintf("Pass --use_gpu=1 to the trainer (default: %d)", config.Defaults.UseGpu)})
	opt_name := parser.String("N", "name", &argparse.Options{Required: false, Help: "Job name (default: derived from env name)"})
	opt_nodes := parser.Int("", "nodes", &argparse.Options{Default: config.Defaults.Nodes, Help: fmt.Sprintf("Number of nodes (default: %d)", config.Defaults.Nodes)})
	opt_ppn := parser.Int("", "ppn", &argparse.Options{Default: config.Defaults.PPN, Help: fmt.Sprintf("Processors per node (default: %d)", config.Defaults.PPN)})
	opt_mem := parser.String("m", "mem", &argparse.Options{Default: config.Defaults.Mem, Help: fmt.Sprintf("Memory request, e.g. 16gb (default: %s)", config.Defaults.Mem)})
	opt_walltime := parser.String("w", "walltime", &argparse.Options{Default: config.Defaults.Walltime, Help: fmt.Sprintf("Walltime request HHH:MM:SS (default: %s)", config.Defaults.Walltime)})
	opt_queue := parser.String("q", "queue", &argparse.Options{Default: config.Queue, Help: fmt.Sprintf("Queue name (default: %s)", config.Queue)})
	opt_account := parser.String("A", "account", &argparse.Options{Required: false, Help: "Account string for allocation accounting"})
	opt_project := parser.String("", "project", &argparse.Options{Default: config.Project, Help: fmt.Sprintf("Project name for the run registry (default: %s)", config.Project)})
	opt_backend := parser.String("b", "backend", &argparse.Options{Default: string(config.Backend), Help: fmt.Sprintf("Submission backend: qsub, ssh or drmaa (default: %s)", config.Backend)})
	opt_host := parser.String("", "submit-host", &argparse.Options{Required: false, Help: "Login node for the ssh backend (default: from config)"})
	opt_args := parser.StringList("", "arg", &argparse.Options{Required: false, Help: "Extra argument passed through to the trainer (repeatable)"})
	opt_watch := parser.Flag("", "watch", &argparse.Options{Help: "Stay attached and watch the job until completion, retrying failures"})
	opt_dryrun := parser.Flag("", "dry-run", &argparse.Options{Help: "Print the rendered job script without submitting"})

	// Prepend program name for argparse.Parse (it expects os.Args-like format)
	parseArgs := append([]string{"dqnsub"}, args...)
	err := parser.Parse(parseArgs)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(strings.ToLower(errStr), "help") {
			printModuleHelp("submit", config)
			return
		}
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	res, io, prep, trainer, err := buildJobPieces(config, *opt_env, *opt_gpu, *opt_name,
		*opt_nodes, *opt_ppn, *opt_mem, *opt_walltime, *opt_queue, *opt_account, *opt_args)
	if err != nil {
		log.Fatalf("Invalid job request: %v", err)
	}

	scriptPath := jobScriptPath(config, io.Name)
	io.OutPath = scriptPath + ".o"
	io.ErrPath = scriptPath + ".e"
	content := BuildJobScript(res, io, prep, trainer, scriptPath)

	if *opt_dryrun {
		fmt.Print(content)
		return
	}

	// Check node allowlist before touching the scheduler
	if err := CheckNode([]string(config.Node)); err != nil {
		log.Fatalf("Node check failed: %v", err)
	}

	backend, err := newBackend(config, JobBackend(*opt_backend), *opt_host)
	if err != nil {
		log.Fatalf("Backend init failed: %v", err)
	}

	reg, err := OpenRegistry(config.Db)
	if err != nil {
		log.Fatalf("Failed to open run registry: %v", err)
	}

	// Ctrl-C stops the watcher, the job itself stays on the cluster
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	exitCode := submitOne(ctx, config, reg, backend, *opt_project,
		res, io, prep, trainer, scriptPath, content, *opt_watch)

	// Explicit cleanup, os.Exit skips deferred calls
	stop()
	reg.Db.Close()
	if backend.Name() == BackendDRMAA {
		closeDRMAASession()
	}
	os.Exit(exitCode)
}

// buildJobPieces validates the flags and assembles the job description
func buildJobPieces(config *Config, envName string, useGpu int, name string,
	nodes, ppn int, mem, walltime, queue, account string, extraArgs []string) (ResourceSpec, JobIO, EnvPrep, Trainer, error) {

	memGB, err := parseMemoryString(mem)
	if err != nil {
		return ResourceSpec{}, JobIO{}, EnvPrep{}, Trainer{}, err
	}
	wt, err := parseWalltime(walltime)
	if err != nil {
		return ResourceSpec{}, JobIO{}, EnvPrep{}, Trainer{}, err
	}
	if useGpu != 0 && useGpu != 1 {
		return ResourceSpec{}, JobIO{}, EnvPrep{}, Trainer{}, fmt.Errorf("invalid --use_gpu value: %d (must be 0 or 1)", useGpu)
	}

	res := ResourceSpec{
		Nodes:    nodes,
		PPN:      ppn,
		MemGB:    memGB,
		Walltime: wt,
		Queue:    queue,
		Account:  account,
	}
	if name == "" {
		name = defaultJobName(envName)
	}
	io := JobIO{Name: name}
	prep := EnvPrep{
		Modules:  []string(config.Modules),
		Profile:  config.Profile,
		CondaEnv: config.CondaEnv,
	}
	trainer := Trainer{
		Python:  config.Python,
		Workdir: config.TrainerDir,
		Script:  config.Trainer,
		EnvName: envName,
		UseGpu:  useGpu,
		Args:    extraArgs,
	}
	return res, io, prep, trainer, nil
}

// jobScriptPath places the rendered script under the configured script
// directory, stamped so reruns of the same job name never collide
func jobScriptPath(config *Config, name string) string {
	stamp := time.Now().Format("20060102_150405")
	return filepath.Join(config.ScriptDir, fmt.Sprintf("%s_%s.pbs", name, stamp))
}

// submitOne writes the script, records the run, submits it and optionally
// stays attached until completion. Returns the process exit code.
func submitOne(ctx context.Context, config *Config, reg *Registry, backend Submitter, project string,
	res ResourceSpec, io JobIO, prep EnvPrep, trainer Trainer, scriptPath, content string, watch bool) int {

	if err := WriteJobScript(scriptPath, content); err != nil {
		log.Printf("Failed to write job script: %v", err)
		return 1
	}

	usrID := GetCurrentUserID()
	record := &RunRecord{
		JobName:    io.Name,
		EnvName:    trainer.EnvName,
		UseGpu:     trainer.UseGpu,
		Backend:    string(backend.Name()),
		Queue:      res.Queue,
		Mem:        formatMemory(res.MemGB),
		Walltime:   formatWalltime(res.Walltime),
		ScriptPath: scriptPath,
		OutPath:    io.OutPath,
		ErrPath:    io.ErrPath,
	}
	runID, err := reg.InsertRun(usrID, project, record)
	if err != nil {
		log.Printf("Failed to record run: %v", err)
		return 1
	}

	job := &JobScript{
		Path:       scriptPath,
		Content:    content,
		Name:       io.Name,
		NativeSpec: res.NativeSpec(io),
	}
	jobID, err := backend.Submit(job)
	if err != nil {
		// The job never reached the scheduler, so no attempt was made
		if regErr := reg.MarkFailed(runID, 1, 0, ""); regErr != nil {
			log.Printf("Error updating registry: %v", regErr)
		}
		log.Printf("Submission failed: %v", err)
		return 1
	}
	if err := reg.SetJobID(runID, jobID); err != nil {
		log.Printf("Error updating registry: %v", err)
	}

	fmt.Printf("Submitted %s as job %s (env %s, %s, %s)\n",
		io.Name, jobID, trainer.EnvName, formatMemory(res.MemGB), formatWalltime(res.Walltime))

	if !watch {
		return 0
	}

	run := &watchedRun{
		RunID:   runID,
		JobID:   jobID,
		Job:     job,
		Res:     res,
		IO:      io,
		Prep:    prep,
		Trainer: trainer,
	}
	return WatchRun(ctx, reg, config, backend, run)
}
