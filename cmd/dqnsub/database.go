package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// timeFormat is the timestamp layout stored in the registry
const timeFormat = "2006-01-02 15:04:05"

// OpenRegistry opens (and if needed creates) the run registry database
func OpenRegistry(dbPath string) (*Registry, error) {
	// Create directory if needed
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %v", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry db: %v", err)
	}

	reg := &Registry{Db: conn}

	sql_table := `
	CREATE TABLE IF NOT EXISTS runs(
		Id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		usrID TEXT NOT NULL,
		project TEXT NOT NULL,
		jobID TEXT,
		jobName TEXT NOT NULL,
		envName TEXT NOT NULL,
		useGpu integer DEFAULT 0,
		backend TEXT NOT NULL,
		queue TEXT,
		mem TEXT,
		walltime TEXT,
		scriptPath TEXT,
		outPath TEXT,
		errPath TEXT,
		status TEXT DEFAULT 'Queued',
		exitCode integer,
		retry integer DEFAULT 0,
		node TEXT,
		submittime datetime NOT NULL,
		starttime datetime,
		endtime datetime,
		UNIQUE(usrID, jobName, submittime)
	);
	`
	if _, err = conn.Exec(sql_table); err != nil {
		return nil, fmt.Errorf("failed to create table: %v", err)
	}

	reg.migrateTable()

	return reg, nil
}

// migrateTable adds columns introduced after the first release
func (reg *Registry) migrateTable() {
	columns := map[string]string{
		"node":     "TEXT",
		"retry":    "integer DEFAULT 0",
		"exitCode": "integer",
	}

	for colName, colDef := range columns {
		var exists bool
		err := reg.Db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name=?", colName).Scan(&exists)
		if err == nil && !exists {
			_, err = reg.Db.Exec(fmt.Sprintf("ALTER TABLE runs ADD COLUMN %s %s", colName, colDef))
			if err != nil {
				log.Printf("Warning: Could not add column %s: %v", colName, err)
			}
		}
	}
}

// InsertRun records a freshly submitted run and returns its registry id
func (reg *Registry) InsertRun(usrID, project string, run *RunRecord) (int64, error) {
	result, err := reg.Db.Exec(`
		INSERT INTO runs(usrID, project, jobID, jobName, envName, useGpu, backend, queue, mem, walltime, scriptPath, outPath, errPath, status, retry, submittime)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, usrID, project, run.JobID.String, run.JobName, run.EnvName, run.UseGpu, run.Backend,
		run.Queue, run.Mem, run.Walltime, run.ScriptPath, run.OutPath, run.ErrPath,
		string(R_queued), run.Retry, time.Now().Format(timeFormat))
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// SetJobID stores the scheduler job id after (re)submission
func (reg *Registry) SetJobID(id int64, jobID string) error {
	_, err := reg.Db.Exec("UPDATE runs SET jobID=?, status=? WHERE Id=?", jobID, string(R_queued), id)
	return err
}

// MarkRunning records the transition into the running state
func (reg *Registry) MarkRunning(id int64, node string) error {
	now := time.Now().Format(timeFormat)
	_, err := reg.Db.Exec("UPDATE runs SET status=?, starttime=?, node=? WHERE Id=?",
		string(R_running), now, node, id)
	return err
}

// MarkFinished records successful completion
func (reg *Registry) MarkFinished(id int64, node string) error {
	now := time.Now().Format(timeFormat)
	_, err := reg.Db.Exec("UPDATE runs SET status=?, endtime=?, exitCode=?, node=? WHERE Id=?",
		string(R_finished), now, 0, node, id)
	return err
}

// MarkFailed records a failed attempt together with its exit code and
// the retry counter
func (reg *Registry) MarkFailed(id int64, exitCode, retry int, node string) error {
	now := time.Now().Format(timeFormat)
	_, err := reg.Db.Exec("UPDATE runs SET status=?, endtime=?, exitCode=?, retry=?, node=? WHERE Id=?",
		string(R_failed), now, exitCode, retry, node, id)
	return err
}

// MarkDeleted records that the job was removed from the queue by the user
func (reg *Registry) MarkDeleted(id int64) error {
	now := time.Now().Format(timeFormat)
	_, err := reg.Db.Exec("UPDATE runs SET status=?, endtime=? WHERE Id=?",
		string(R_deleted), now, id)
	return err
}

// UpdateMem stores an escalated memory request so later retries reuse it
func (reg *Registry) UpdateMem(id int64, mem string) error {
	_, err := reg.Db.Exec("UPDATE runs SET mem=? WHERE Id=?", mem, id)
	return err
}

// RunsForUser returns the runs of a user, newest first, optionally filtered
// by project
func (reg *Registry) RunsForUser(usrID, project string) ([]RunRecord, error) {
	var rows *sql.Rows
	var err error

	query := `
		SELECT Id, jobID, jobName, envName, useGpu, backend, queue, mem, walltime,
		       scriptPath, outPath, errPath, status, exitCode, retry, node,
		       submittime, starttime, endtime
		FROM runs
		WHERE usrID=?`
	if project != "" {
		rows, err = reg.Db.Query(query+" AND project=? ORDER BY submittime DESC", usrID, project)
	} else {
		rows, err = reg.Db.Query(query+" ORDER BY submittime DESC", usrID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %v", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		err := rows.Scan(&r.Id, &r.JobID, &r.JobName, &r.EnvName, &r.UseGpu, &r.Backend,
			&r.Queue, &r.Mem, &r.Walltime, &r.ScriptPath, &r.OutPath, &r.ErrPath,
			&r.Status, &r.ExitCode, &r.Retry, &r.Node, &r.Submittime, &r.Starttime, &r.Endtime)
		if err != nil {
			log.Printf("Error scanning run row: %v", err)
			continue
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FindRun looks up a single run of a user by registry id
func (reg *Registry) FindRun(usrID string, id int) (*RunRecord, error) {
	var r RunRecord
	err := reg.Db.QueryRow(`
		SELECT Id, jobID, jobName, envName, useGpu, backend, queue, mem, walltime,
		       scriptPath, outPath, errPath, status, exitCode, retry, node,
		       submittime, starttime, endtime
		FROM runs
		WHERE usrID=? AND Id=?
	`, usrID, id).Scan(&r.Id, &r.JobID, &r.JobName, &r.EnvName, &r.UseGpu, &r.Backend,
		&r.Queue, &r.Mem, &r.Walltime, &r.ScriptPath, &r.OutPath, &r.ErrPath,
		&r.Status, &r.ExitCode, &r.Retry, &r.Node, &r.Submittime, &r.Starttime, &r.Endtime)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no run with id %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ActiveRuns returns runs that have not reached a terminal state yet
func (reg *Registry) ActiveRuns(usrID, project string) ([]RunRecord, error) {
	runs, err := reg.RunsForUser(usrID, project)
	if err != nil {
		return nil, err
	}
	var active []RunRecord
	for _, r := range runs {
		if r.Status == string(R_queued) || r.Status == string(R_running) {
			active = append(active, r)
		}
	}
	return active, nil
}
