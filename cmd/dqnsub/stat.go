package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	log "github.com/sirupsen/logrus"
)

// refreshRunStates asks the scheduler for the current state of every run the
// registry still considers active. Skipped silently when no PBS binaries are
// on this host (e.g. stat from a workstation).
func refreshRunStates(reg *Registry, usrID, project string) {
	client, err := NewPBSClient()
	if err != nil {
		return
	}

	active, err := reg.ActiveRuns(usrID, project)
	if err != nil {
		log.Printf("Error querying active runs: %v", err)
		return
	}

	for _, r := range active {
		if !r.JobID.Valid || r.JobID.String == "" {
			continue
		}
		state, node, err := client.State(r.JobID.String)
		if err != nil {
			continue
		}
		switch state {
		case StateRunning:
			if r.Status != string(R_running) {
				reg.MarkRunning(int64(r.Id), node)
			}
		case StateCompleted:
			exitCode, _ := classifyCompletion(r.ScriptPath, r.ErrPath)
			if exitCode == 0 {
				reg.MarkFinished(int64(r.Id), node)
			} else {
				reg.MarkFailed(int64(r.Id), exitCode, r.Retry, node)
			}
		}
	}
}

// runStatMode prints the run registry for the current user
func runStatMode(config *Config, args []string) {
	// Check for help flag before parsing
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			printModuleHelp("stat", config)
			return
		}
	}

	parser := argparse.NewParser("dqnsub stat", "Query training runs from the run registry")
	opt_project := parser.String("p", "project", &argparse.Options{Required: false, Help: "Filter by project name"})

	// Prepend program name for argparse.Parse (it expects os.Args-like format)
	parseArgs := append([]string{"dqnsub"}, args...)
	err := parser.Parse(parseArgs)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(strings.ToLower(errStr), "help") {
			printModuleHelp("stat", config)
			return
		}
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	reg, err := OpenRegistry(config.Db)
	if err != nil {
		log.Fatalf("Failed to open run registry: %v", err)
	}
	defer reg.Db.Close()

	usrID := GetCurrentUserID()
	refreshRunStates(reg, usrID, *opt_project)

	runs, err := reg.RunsForUser(usrID, *opt_project)
	if err != nil {
		log.Fatalf("Failed to query runs: %v", err)
	}

	fmt.Printf("%-4s %-22s %-20s %-10s %-24s %-5s %-10s %-12s %-12s\n",
		"id", "name", "env", "status", "jobid", "try", "node", "stime", "etime")

	for _, r := range runs {
		jobID := "-"
		if r.JobID.Valid && r.JobID.String != "" {
			jobID = r.JobID.String
		}
		node := "-"
		if r.Node.Valid && r.Node.String != "" {
			node = r.Node.String
		}
		stime := "-"
		if r.Starttime.Valid {
			stime = formatTimeShort(r.Starttime.String)
		}
		etime := "-"
		if r.Endtime.Valid {
			etime = formatTimeShort(r.Endtime.String)
		}
		status := r.Status
		if r.ExitCode.Valid && r.ExitCode.Int64 != 0 {
			status = fmt.Sprintf("%s(%s)", r.Status, strconv.FormatInt(r.ExitCode.Int64, 10))
		}

		fmt.Printf("%-4d %-22s %-20s %-10s %-24s %-5d %-10s %-12s %-12s\n",
			r.Id, r.JobName, r.EnvName, status, jobID, r.Retry, node, stime, etime)
	}
}
