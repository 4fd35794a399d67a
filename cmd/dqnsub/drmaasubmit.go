package main

import (
	"strings"
	"sync"

	"github.com/dgruber/drmaa"
	"github.com/pkg/errors"
)

// Global DRMAA session manager
var (
	drmaaSession      drmaa.Session
	drmaaSessionMutex sync.Mutex
	drmaaSessionInit  bool
)

// getDRMAASession returns a global DRMAA session (thread-safe)
func getDRMAASession() (*drmaa.Session, error) {
	drmaaSessionMutex.Lock()
	defer drmaaSessionMutex.Unlock()

	if !drmaaSessionInit {
		session, err := drmaa.MakeSession()
		if err != nil {
			return nil, err
		}
		drmaaSession = session
		drmaaSessionInit = true
	}

	return &drmaaSession, nil
}

// closeDRMAASession closes the global DRMAA session (called at program exit)
func closeDRMAASession() {
	drmaaSessionMutex.Lock()
	defer drmaaSessionMutex.Unlock()

	if drmaaSessionInit {
		drmaaSession.Exit()
		drmaaSessionInit = false
	}
}

// DRMAABackend submits jobs through the scheduler's libdrmaa binding.
type DRMAABackend struct{}

// Submit allocates a job template and runs the job. Resource requests are
// carried in the native specification because DRMAA does not read the
// #PBS directive block from the script.
func (*DRMAABackend) Submit(job *JobScript) (string, error) {
	session, err := getDRMAASession()
	if err != nil {
		return "", errors.Wrap(err, "failed to get DRMAA session")
	}

	jt, err := session.AllocateJobTemplate()
	if err != nil {
		return "", errors.Wrap(err, "failed to allocate job template")
	}
	defer session.DeleteJobTemplate(&jt)

	jt.SetRemoteCommand(job.Path)
	jt.SetJobName(job.Name)
	jt.SetNativeSpecification(job.NativeSpec)

	jobID, err := session.RunJob(&jt)
	if err != nil {
		return "", errors.Wrap(err, "failed to submit job")
	}
	return jobID, nil
}

// State maps the DRMAA program status onto a JobState. The execution node
// is only available once the job finished, via the resource usage map.
func (*DRMAABackend) State(jobID string) (JobState, string, error) {
	session, err := getDRMAASession()
	if err != nil {
		return StateUnknown, "", errors.Wrap(err, "failed to get DRMAA session")
	}

	state, err := session.JobPs(jobID)
	if err != nil {
		// DRMAA forgets jobs that already left the queue, same as qstat
		if strings.Contains(strings.ToLower(err.Error()), "invalid job") {
			return StateCompleted, "", nil
		}
		return StateUnknown, "", errors.Wrap(err, "failed to query job status")
	}

	switch state {
	case drmaa.PsRunning:
		return StateRunning, drmaaExecNode(session, jobID), nil
	case drmaa.PsDone, drmaa.PsFailed:
		return StateCompleted, drmaaExecNode(session, jobID), nil
	case drmaa.PsQueuedActive:
		return StateQueued, "", nil
	default:
		// Hold and suspend states keep the job in the queue
		return StateHeld, "", nil
	}
}

// drmaaExecNode tries to read the execution node from the job resource usage
func drmaaExecNode(session *drmaa.Session, jobID string) string {
	jobInfo, err := session.Wait(jobID, drmaa.TimeoutNoWait)
	if err != nil {
		return ""
	}
	resourceUsage := jobInfo.ResourceUsage()
	if host, ok := resourceUsage["exec_host"]; ok {
		return execHostNode(host)
	}
	if host, ok := resourceUsage["hostname"]; ok {
		return host
	}
	return ""
}

// Delete terminates the job through the DRMAA control interface.
func (*DRMAABackend) Delete(jobID string) error {
	session, err := getDRMAASession()
	if err != nil {
		return errors.Wrap(err, "failed to get DRMAA session")
	}
	if err := session.Control(jobID, drmaa.Terminate); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "invalid job") {
			return nil
		}
		return errors.Wrap(err, "failed to terminate job")
	}
	return nil
}

// Name reports the backend identifier for the run registry.
func (*DRMAABackend) Name() JobBackend {
	return BackendDRMAA
}
