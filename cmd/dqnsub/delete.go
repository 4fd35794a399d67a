package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"
)

// deleteBackendFor picks how to reach the scheduler for a tracked run.
// When the run was submitted from another host the local PBS binaries may be
// missing, in which case qdel runs on the configured login node over SSH.
func deleteBackendFor(config *Config, run *RunRecord) (Submitter, error) {
	switch JobBackend(run.Backend) {
	case BackendSSH:
		host := config.SubmitHost
		if host == "" {
			return nil, fmt.Errorf("run %d was submitted over ssh but no submit_host is configured", run.Id)
		}
		return &SSHBackend{Host: host}, nil
	case BackendDRMAA:
		return &DRMAABackend{}, nil
	default:
		client, err := NewPBSClient()
		if err == nil {
			return client, nil
		}
		// No local binaries, fall back to the login node if we have one
		if config.SubmitHost != "" {
			log.Printf("No local PBS binaries, using qdel on %s", config.SubmitHost)
			return &SSHBackend{Host: config.SubmitHost}, nil
		}
		return nil, err
	}
}

// runDeleteMode removes a tracked run from the queue and marks it Deleted
func runDeleteMode(config *Config, args []string) {
	// Check for help flag before parsing
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printModuleHelp("delete", config)
			return
		}
	}

	parser := argparse.NewParser("dqnsub delete", "Delete a training run from the queue and registry")
	opt_id := parser.Int("", "id", &argparse.Options{Required: false, Default: 0, Help: "Registry id of the run to delete (see dqnsub stat)"})
	opt_project := parser.String("p", "project", &argparse.Options{Required: false, Help: "Delete every active run of this project"})

	// Prepend program name for argparse.Parse (it expects os.Args-like format)
	parseArgs := append([]string{"dqnsub"}, args...)
	err := parser.Parse(parseArgs)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(strings.ToLower(errStr), "help") {
			printModuleHelp("delete", config)
			return
		}
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if *opt_id <= 0 && *opt_project == "" {
		fmt.Println("Either --id or -p/--project is required")
		printModuleHelp("delete", config)
		os.Exit(1)
	}

	reg, err := OpenRegistry(config.Db)
	if err != nil {
		log.Fatalf("Failed to open run registry: %v", err)
	}
	defer reg.Db.Close()

	usrID := GetCurrentUserID()

	var targets []RunRecord
	if *opt_id > 0 {
		run, err := reg.FindRun(usrID, *opt_id)
		if err != nil {
			log.Fatalf("Failed to find run: %v", err)
		}
		targets = append(targets, *run)
	} else {
		active, err := reg.ActiveRuns(usrID, *opt_project)
		if err != nil {
			log.Fatalf("Failed to query runs: %v", err)
		}
		targets = active
	}

	if len(targets) == 0 {
		fmt.Println("No active runs to delete")
		return
	}

	deleted := 0
	usedDRMAA := false
	for _, run := range targets {
		if run.Status != string(R_queued) && run.Status != string(R_running) {
			log.Printf("Run %d (%s) is already %s, removing registry record only", run.Id, run.JobName, run.Status)
			reg.MarkDeleted(int64(run.Id))
			continue
		}
		if !run.JobID.Valid || run.JobID.String == "" {
			reg.MarkDeleted(int64(run.Id))
			continue
		}

		backend, err := deleteBackendFor(config, &run)
		if err != nil {
			log.Printf("Cannot delete run %d: %v", run.Id, err)
			continue
		}
		if backend.Name() == BackendDRMAA {
			usedDRMAA = true
		}
		if err := backend.Delete(run.JobID.String); err != nil {
			log.Printf("Failed to delete job %s: %v", run.JobID.String, err)
			continue
		}
		if err := reg.MarkDeleted(int64(run.Id)); err != nil {
			log.Printf("Error updating registry: %v", err)
		}
		fmt.Printf("Deleted run %d (%s, job %s)\n", run.Id, run.JobName, run.JobID.String)
		deleted++
	}
	if usedDRMAA {
		closeDRMAASession()
	}

	fmt.Printf("Deleted %d of %d runs\n", deleted, len(targets))
}
