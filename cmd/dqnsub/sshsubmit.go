package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// SSHBackend submits jobs by running qsub on a login node over SSH.
// qsub reads the job script from stdin, so nothing has to be copied over
// as long as the home directory is on the shared cluster filesystem.
type SSHBackend struct {
	Host string
}

// getSSHConfig creates SSH client configuration with key authentication
func getSSHConfig() (*ssh.ClientConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %v", err)
	}

	// Try common key types
	keyPaths := []string{
		filepath.Join(homeDir, ".ssh", "id_rsa"),
		filepath.Join(homeDir, ".ssh", "id_ed25519"),
		filepath.Join(homeDir, ".ssh", "id_ecdsa"),
		filepath.Join(homeDir, ".ssh", "id_dsa"),
	}

	var authMethod ssh.AuthMethod

	for _, keyPath := range keyPaths {
		key, err := os.ReadFile(keyPath)
		if err != nil {
			continue // Try next key
		}

		parsedKey, err := ssh.ParsePrivateKey(key)
		if err != nil {
			// Try with empty passphrase
			parsedKey, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte{})
			if err != nil {
				continue // Try next key
			}
		}

		authMethod = ssh.PublicKeys(parsedKey)
		break
	}

	if authMethod == nil {
		return nil, fmt.Errorf("no SSH private key found in %s/.ssh/ (tried: id_rsa, id_ed25519, id_ecdsa, id_dsa)", homeDir)
	}

	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}
	if username == "" {
		username = GetCurrentUserID()
	}

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Accept any host key (similar to StrictHostKeyChecking=no)
		Timeout:         10 * time.Second,
	}

	return config, nil
}

// runRemote executes a command on the login node and returns its stdout
func (b *SSHBackend) runRemote(command string, stdin string) (string, error) {
	config, err := getSSHConfig()
	if err != nil {
		return "", fmt.Errorf("failed to get SSH config: %v", err)
	}

	address := b.Host
	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, "22")
	}

	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %v", b.Host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %v", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	if err := session.Run(command); err != nil {
		if exitError, ok := err.(*ssh.ExitError); ok {
			return stdout.String(), fmt.Errorf("%s on %s exited with code %d: %s",
				command, b.Host, exitError.ExitStatus(), strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), fmt.Errorf("SSH command failed on node %s: %v", b.Host, err)
	}

	return stdout.String(), nil
}

// Submit streams the job script to qsub running on the login node.
func (b *SSHBackend) Submit(job *JobScript) (string, error) {
	out, err := b.runRemote(qsubBinaryName, job.Content)
	if err != nil {
		return "", err
	}

	jobID := parseQsubOutput(out)
	if jobID == "" {
		return "", fmt.Errorf("could not parse job id from remote qsub output: %q", out)
	}
	return jobID, nil
}

// State runs qstat -f on the login node and parses the result.
func (b *SSHBackend) State(jobID string) (JobState, string, error) {
	out, err := b.runRemote(fmt.Sprintf("%s -f %s", qstatBinaryName, jobID), "")
	if err != nil {
		if isUnknownJobOutput(err.Error()) || isUnknownJobOutput(out) {
			return StateCompleted, "", nil
		}
		return StateUnknown, "", err
	}

	fields := parseQstatFields(out)
	state := jobStateFromQstat(fields["job_state"])
	node := execHostNode(fields["exec_host"])
	return state, node, nil
}

// Delete runs qdel on the login node.
func (b *SSHBackend) Delete(jobID string) error {
	_, err := b.runRemote(fmt.Sprintf("%s %s", qdelBinaryName, jobID), "")
	if err != nil {
		if isUnknownJobOutput(err.Error()) {
			return nil
		}
		log.Printf("qdel on %s failed: %v", b.Host, err)
		return err
	}
	return nil
}

// Name reports the backend identifier for the run registry.
func (*SSHBackend) Name() JobBackend {
	return BackendSSH
}
