package main

import (
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/execabs"
)

const (
	qsubBinaryName  = "qsub"
	qstatBinaryName = "qstat"
	qdelBinaryName  = "qdel"
)

// PBSClient talks to a local PBS installation by calling its binaries directly.
type PBSClient struct{}

// NewPBSClient returns a client after verifying the PBS binaries are on PATH.
func NewPBSClient() (*PBSClient, error) {
	var missing []string
	for _, bin := range []string{
		qsubBinaryName,
		qstatBinaryName,
		qdelBinaryName,
	} {
		_, err := execabs.LookPath(bin)
		if err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) != 0 {
		return nil, errors.Errorf("no PBS binaries found: %s", strings.Join(missing, ", "))
	}
	return &PBSClient{}, nil
}

// Submit hands the job script to qsub and returns the scheduler job id.
func (*PBSClient) Submit(job *JobScript) (string, error) {
	cmd := exec.Command(qsubBinaryName, job.Path)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if out != nil {
			log.Println(string(out))
		}
		return "", errors.Wrap(err, "failed to execute qsub")
	}

	jobID := parseQsubOutput(string(out))
	if jobID == "" {
		return "", errors.New("could not parse job id from qsub output")
	}
	return jobID, nil
}

// Delete removes a job from the queue.
func (*PBSClient) Delete(jobID string) error {
	cmd := exec.Command(qdelBinaryName, jobID)

	out, err := cmd.CombinedOutput()
	if err != nil {
		// A job that already left the queue cannot be deleted again
		if isUnknownJobOutput(string(out)) {
			return nil
		}
		if out != nil {
			log.Println(string(out))
		}
		return errors.Wrap(err, "failed to execute qdel")
	}
	return nil
}

// State queries qstat -f for the job state and execution node.
func (*PBSClient) State(jobID string) (JobState, string, error) {
	cmd := exec.Command(qstatBinaryName, "-f", jobID)

	out, err := cmd.CombinedOutput()
	if err != nil {
		// PBS forgets finished jobs a few minutes after completion, so an
		// unknown job id is the normal way a job reports leaving the queue
		if isUnknownJobOutput(string(out)) {
			return StateCompleted, "", nil
		}
		return StateUnknown, "", errors.Wrap(err, "failed to execute qstat")
	}

	fields := parseQstatFields(string(out))
	state := jobStateFromQstat(fields["job_state"])
	node := execHostNode(fields["exec_host"])
	return state, node, nil
}

// Name reports the backend identifier for the run registry.
func (*PBSClient) Name() JobBackend {
	return BackendQsub
}

// parseQsubOutput extracts the job id from qsub stdout. qsub prints a single
// line like "12345.pbsserver.cluster.local".
func parseQsubOutput(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// isUnknownJobOutput reports whether qstat/qdel output means the job already
// left the queue. Torque says "Unknown Job Id", PBS Pro says "Job has finished".
func isUnknownJobOutput(out string) bool {
	return strings.Contains(out, "Unknown Job Id") ||
		strings.Contains(out, "Job has finished") ||
		strings.Contains(out, "has been deleted")
}

// parseQstatFields parses qstat -f full output into a key/value map.
// Lines look like "    Job_Name = dqn_spaceinvaders_v0"; long values are
// wrapped onto continuation lines starting with a tab.
func parseQstatFields(out string) map[string]string {
	fields := make(map[string]string)
	var lastKey string

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		// Continuation of the previous value
		if strings.HasPrefix(line, "\t") {
			if lastKey != "" {
				fields[lastKey] += strings.TrimSpace(line)
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Job Id:") {
			fields["Job Id"] = strings.TrimSpace(strings.TrimPrefix(trimmed, "Job Id:"))
			lastKey = "Job Id"
			continue
		}
		idx := strings.Index(trimmed, " = ")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+3:])
		fields[key] = value
		lastKey = key
	}
	return fields
}

// jobStateFromQstat maps the single-letter PBS job_state to a JobState
func jobStateFromQstat(state string) JobState {
	switch state {
	case "Q", "W", "T":
		return StateQueued
	case "H", "S":
		return StateHeld
	case "R", "E":
		return StateRunning
	case "C", "F":
		return StateCompleted
	default:
		return StateUnknown
	}
}

// execHostNode extracts the first node name from a PBS exec_host value,
// e.g. "node073/3" -> "node073"
func execHostNode(execHost string) string {
	if execHost == "" {
		return ""
	}
	node := strings.Split(execHost, "+")[0]
	return strings.Split(node, "/")[0]
}
