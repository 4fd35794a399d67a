package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const qstatFullOutput = `Job Id: 12345.pbsserver.cluster.local
    Job_Name = dqn_spaceinvaders_v0
    Job_Owner = ardillen@login01.cluster.local
    job_state = R
    queue = batch
    exec_host = node073/3
    Resource_List.mem = 16gb
    Resource_List.nodes = 1:ppn=1
    Resource_List.walltime = 500:00:00
    Error_Path = login01:/home/ardillen/.dqnsub/jobs/dqn_spaceinvaders_v0.pbs.
	e
    Output_Path = login01:/home/ardillen/.dqnsub/jobs/dqn_spaceinvaders_v0.pb
	s.o
`

func TestParseQstatFields(t *testing.T) {
	fields := parseQstatFields(qstatFullOutput)

	assert.Equal(t, "12345.pbsserver.cluster.local", fields["Job Id"])
	assert.Equal(t, "dqn_spaceinvaders_v0", fields["Job_Name"])
	assert.Equal(t, "R", fields["job_state"])
	assert.Equal(t, "node073/3", fields["exec_host"])
	assert.Equal(t, "16gb", fields["Resource_List.mem"])

	// Wrapped values are rejoined from their continuation lines
	assert.Equal(t, "login01:/home/ardillen/.dqnsub/jobs/dqn_spaceinvaders_v0.pbs.e", fields["Error_Path"])
	assert.Equal(t, "login01:/home/ardillen/.dqnsub/jobs/dqn_spaceinvaders_v0.pbs.o", fields["Output_Path"])
}

func TestJobStateFromQstat(t *testing.T) {
	tests := []struct {
		in   string
		want JobState
	}{
		{"Q", StateQueued},
		{"W", StateQueued},
		{"T", StateQueued},
		{"H", StateHeld},
		{"S", StateHeld},
		{"R", StateRunning},
		{"E", StateRunning},
		{"C", StateCompleted},
		{"F", StateCompleted},
		{"", StateUnknown},
		{"X", StateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, jobStateFromQstat(tt.in), "state %q", tt.in)
	}
}

func TestParseQsubOutput(t *testing.T) {
	assert.Equal(t, "12345.pbsserver.cluster.local", parseQsubOutput("12345.pbsserver.cluster.local\n"))
	assert.Equal(t, "12345", parseQsubOutput("\n  12345  \n"))
	assert.Equal(t, "", parseQsubOutput("\n \n"))
}

func TestIsUnknownJobOutput(t *testing.T) {
	assert.True(t, isUnknownJobOutput("qstat: Unknown Job Id 99.pbsserver"))
	assert.True(t, isUnknownJobOutput("qstat: 12345.pbsserver Job has finished"))
	assert.False(t, isUnknownJobOutput("qstat: Invalid credential"))
}

func TestExecHostNode(t *testing.T) {
	assert.Equal(t, "node073", execHostNode("node073/3"))
	assert.Equal(t, "node073", execHostNode("node073/0+node074/0"))
	assert.Equal(t, "node073", execHostNode("node073"))
	assert.Equal(t, "", execHostNode(""))
}

func TestStateMappingOfFullOutput(t *testing.T) {
	fields := parseQstatFields(qstatFullOutput)
	require.Equal(t, StateRunning, jobStateFromQstat(fields["job_state"]))
	require.Equal(t, "node073", execHostNode(fields["exec_host"]))
}
