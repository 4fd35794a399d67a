package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"

	"github.com/Ardillen66/dqnsub/pkg/gpool"
)

// readEnvFile reads a sweep file: one gym environment id per line, blank
// lines and # comments skipped
func readEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var envs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		envs = append(envs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("no environments found in %s", path)
	}
	return envs, nil
}

// runBatchMode submits one training run per environment listed in the infile
func runBatchMode(config *Config, args []string) {
	// Check for help flag before parsing
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printModuleHelp("batch", config)
			return
		}
	}

	parser := argparse.NewParser("dqnsub batch", "Submit one DQN training run per environment in a sweep file")
	opt_i := parser.String("i", "infile", &argparse.Options{Required: true, Help: "Sweep file with one gym environment id per line"})
	opt_p := parser.Int("p", "thread", &argparse.Options{Default: config.Defaults.Thread, Help: fmt.Sprintf("Max runs watched concurrently (default: %d)", config.Defaults.Thread)})
	opt_gpu := parser.Int("g", "use_gpu", &argparse.Options{Default: config.Defaults.UseGpu, Help: fmt.Sprintf("Pass --use_gpu=1 to every trainer (default: %d)", config.Defaults.UseGpu)})
	opt_mem := parser.String("m", "mem", &argparse.Options{Default: config.Defaults.Mem, Help: fmt.Sprintf("Memory request per run (default: %s)", config.Defaults.Mem)})
	opt_walltime := parser.String("w", "walltime", &argparse.Options{Default: config.Defaults.Walltime, Help: fmt.Sprintf("Walltime request per run (default: %s)", config.Defaults.Walltime)})
	opt_queue := parser.String("q", "queue", &argparse.Options{Default: config.Queue, Help: fmt.Sprintf("Queue name (default: %s)", config.Queue)})
	opt_project := parser.String("", "project", &argparse.Options{Default: config.Project, Help: fmt.Sprintf("Project name for the run registry (default: %s)", config.Project)})
	opt_backend := parser.String("b", "backend", &argparse.Options{Default: string(config.Backend), Help: fmt.Sprintf("Submission backend: qsub, ssh or drmaa (default: %s)", config.Backend)})
	opt_host := parser.String("", "submit-host", &argparse.Options{Required: false, Help: "Login node for the ssh backend (default: from config)"})

	// Prepend program name for argparse.Parse (it expects os.Args-like format)
	parseArgs := append([]string{"dqnsub"}, args...)
	err := parser.Parse(parseArgs)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(strings.ToLower(errStr), "help") {
			printModuleHelp("batch", config)
			return
		}
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	envs, err := readEnvFile(*opt_i)
	if err != nil {
		log.Fatalf("Failed to read sweep file: %v", err)
	}

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

	// Ctrl-C stops the watchers, the jobs themselves stay on the cluster
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool := gpool.New(*opt_p)

	var mu sync.Mutex
	failed := make(map[string]int)

	for _, env := range envs {
		res, io, prep, trainer, err := buildJobPieces(config, env, *opt_gpu, "",
			config.Defaults.Nodes, config.Defaults.PPN, *opt_mem, *opt_walltime, *opt_queue, "", nil)
		if err != nil {
			log.Fatalf("Invalid job request for %s: %v", env, err)
		}
		scriptPath := jobScriptPath(config, io.Name)
		io.OutPath = scriptPath + ".o"
		io.ErrPath = scriptPath + ".e"
		content := BuildJobScript(res, io, prep, trainer, scriptPath)

		pool.Add(1)
		go func(env, scriptPath, content string, res ResourceSpec, io JobIO, prep EnvPrep, trainer Trainer) {
			defer pool.Done()
			exitCode := submitOne(ctx, config, reg, backend, *opt_project,
				res, io, prep, trainer, scriptPath, content, true)
			if exitCode != 0 {
				mu.Lock()
				failed[env] = exitCode
				mu.Unlock()
			}
		}(env, scriptPath, content, res, io, prep, trainer)
	}

	pool.Wait()

	// Explicit cleanup, os.Exit below skips deferred calls
	stop()
	reg.Db.Close()
	if backend.Name() == BackendDRMAA {
		closeDRMAASession()
	}

	os.Stderr.WriteString(fmt.Sprintf("All runs: %v\nSucceeded: %v\nFailed: %v\n",
		len(envs), len(envs)-len(failed), len(failed)))
	if len(failed) > 0 {
		os.Stderr.WriteString("Failed environments:\n")
		for env, code := range failed {
			os.Stderr.WriteString(fmt.Sprintf("%s\texit %d\n", env, code))
		}
		os.Exit(1)
	}
}
