package main

import (
	"database/sql"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Registry is the global run database connection
type Registry struct {
	Db *sql.DB
}

// StringList is a custom type that can unmarshal from both string and []string
type StringList []string

// UnmarshalYAML implements custom YAML unmarshaling to support both string and []string
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		*l = []string{}
		return nil
	}

	switch value.Kind {
	case yaml.ScalarNode:
		// Handle string (including empty string)
		if value.Value == "" {
			*l = []string{}
		} else {
			*l = []string{value.Value}
		}
		return nil
	case yaml.SequenceNode:
		// Handle array
		result := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind == yaml.ScalarNode {
				result = append(result, item.Value)
			}
		}
		*l = result
		return nil
	default:
		return fmt.Errorf("value must be a string or a list of strings, got %v", value.Kind)
	}
}

// Config represents the application configuration
type Config struct {
	Db      string `yaml:"db"`
	Project string `yaml:"project"`
	Retry   struct {
		Max int `yaml:"max"`
	} `yaml:"retry"`
	Queue      string     `yaml:"queue"`
	Backend    JobBackend `yaml:"backend"`
	SubmitHost string     `yaml:"submit_host"`
	Node       StringList `yaml:"node"`
	Modules    StringList `yaml:"modules"`
	Profile    string     `yaml:"profile"`
	CondaEnv   string     `yaml:"conda_env"`
	Python     string     `yaml:"python"`
	TrainerDir string     `yaml:"trainer_dir"`
	Trainer    string     `yaml:"trainer"`
	ScriptDir  string     `yaml:"script_dir"`
	Defaults   struct {
		Nodes    int    `yaml:"nodes"`
		PPN      int    `yaml:"ppn"`
		Mem      string `yaml:"mem"`
		Walltime string `yaml:"walltime"`
		EnvName  string `yaml:"env_name"`
		UseGpu   int    `yaml:"use_gpu"`
		Thread   int    `yaml:"thread"`
	} `yaml:"defaults"`
	MonitorUpdateInterval int `yaml:"monitor_update_interval"`
}

// JobBackend selects the submission path to the scheduler
type JobBackend string

const (
	BackendQsub  JobBackend = "qsub"
	BackendSSH   JobBackend = "ssh"
	BackendDRMAA JobBackend = "drmaa"
)

// runStatusType represents the lifecycle status of a tracked run
type runStatusType string

const (
	R_queued   runStatusType = "Queued"
	R_running  runStatusType = "Running"
	R_finished runStatusType = "Finished"
	R_failed   runStatusType = "Failed"
	R_deleted  runStatusType = "Deleted"
)

// JobState is the scheduler-side state of a submitted job
type JobState int

const (
	StateUnknown JobState = iota
	StateQueued
	StateHeld
	StateRunning
	StateCompleted
)

// JobScript is a rendered job ready for submission
type JobScript struct {
	Path       string
	Content    string
	Name       string
	NativeSpec string
}

// Submitter abstracts a submission backend (local qsub, qsub over SSH, DRMAA)
type Submitter interface {
	Submit(job *JobScript) (string, error)
	State(jobID string) (JobState, string, error)
	Delete(jobID string) error
	Name() JobBackend
}

// RunRecord represents one row of the run registry
type RunRecord struct {
	Id         int
	JobID      sql.NullString
	JobName    string
	EnvName    string
	UseGpu     int
	Backend    string
	Queue      string
	Mem        string
	Walltime   string
	ScriptPath string
	OutPath    string
	ErrPath    string
	Status     string
	ExitCode   sql.NullInt64
	Retry      int
	Node       sql.NullString
	Submittime string
	Starttime  sql.NullString
	Endtime    sql.NullString
}
