package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from user home directory and executable directory
// User home config (~/.dqnsub/dqnsub.yaml) takes precedence over executable directory config
// The registry db path always comes from the executable directory config so every
// dqnsub instance on the cluster shares the same registry
func LoadConfig() (*Config, error) {
	// Get executable directory
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	exeDir := filepath.Dir(exePath)
	exeConfigPath := filepath.Join(exeDir, "dqnsub.yaml")

	// Get user home directory
	usr, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %v", err)
	}
	userConfigPath := filepath.Join(usr.HomeDir, ".dqnsub", "dqnsub.yaml")

	// Default registry path: use user home directory to avoid permission issues
	// when the executable lives in a system directory (e.g. /usr/bin)
	defaultDbPath := filepath.Join(usr.HomeDir, ".dqnsub", "runs.db")

	config := defaultConfig(usr.HomeDir, defaultDbPath)

	// First, load from executable directory config (if exists)
	// If it doesn't exist, create a default one
	var systemDbPath string
	if _, err := os.Stat(exeConfigPath); err == nil {
		data, err := os.ReadFile(exeConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read executable config file: %v", err)
		}
		var exeConfig Config
		if err := yaml.Unmarshal(data, &exeConfig); err != nil {
			return nil, fmt.Errorf("failed to parse executable config file: %v", err)
		}
		// Save system db path before merging
		if exeConfig.Db != "" {
			systemDbPath = exeConfig.Db
		}
		mergeConfig(config, &exeConfig)
	} else {
		defaultExeConfig := defaultConfig(usr.HomeDir, defaultDbPath)
		data, err := yaml.Marshal(defaultExeConfig)
		if err != nil {
			log.Printf("Warning: Could not marshal default executable config: %v", err)
		} else {
			if err := os.WriteFile(exeConfigPath, data, 0644); err != nil {
				log.Printf("Warning: Could not write default executable config file: %v", err)
			} else {
				log.Printf("Created default config file: %s", exeConfigPath)
			}
		}
		systemDbPath = defaultDbPath
	}

	// Then, load from user home config (if exists) - this takes precedence for non-db settings
	if _, err := os.Stat(userConfigPath); err == nil {
		data, err := os.ReadFile(userConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read user config file: %v", err)
		}
		var userConfig Config
		if err := yaml.Unmarshal(data, &userConfig); err != nil {
			return nil, fmt.Errorf("failed to parse user config file: %v", err)
		}
		mergeConfig(config, &userConfig)
	}

	// For the run registry, ALWAYS use the executable directory config's db path
	if systemDbPath != "" {
		config.Db = systemDbPath
	} else {
		config.Db = defaultDbPath
	}

	// Empty node list means no login-node restriction for submission
	if len(config.Node) == 0 {
		config.Node = []string{}
	}

	// Watchers hit qstat every tick, keep a floor on the interval
	if config.MonitorUpdateInterval < 5 {
		config.MonitorUpdateInterval = 5
	}

	return config, nil
}

// defaultConfig returns the built-in defaults: one node, one core, 16 GB,
// 500 hours of walltime, CPU-only Space Invaders training out of the
// DQN-tensorflow-priorityReplay checkout in the user's home directory.
func defaultConfig(homeDir, dbPath string) *Config {
	config := &Config{
		Db:      dbPath,
		Project: "default",
	}
	config.Retry.Max = 3
	config.Queue = "batch"
	config.Backend = BackendQsub
	config.SubmitHost = ""
	config.Node = []string{}
	config.Modules = []string{"tensorflow"}
	config.Profile = ".bashrc"
	config.CondaEnv = "tensorflow"
	config.Python = "python"
	config.TrainerDir = "DQN-tensorflow-priorityReplay"
	config.Trainer = "main.py"
	config.ScriptDir = filepath.Join(homeDir, ".dqnsub", "jobs")
	config.Defaults.Nodes = 1
	config.Defaults.PPN = 1
	config.Defaults.Mem = "16gb"
	config.Defaults.Walltime = "500:00:00"
	config.Defaults.EnvName = "SpaceInvaders-v0"
	config.Defaults.UseGpu = 0
	config.Defaults.Thread = 1
	config.MonitorUpdateInterval = 30
	return config
}

// mergeConfig merges source config into target config
// Only non-empty/non-zero values from source are merged
func mergeConfig(target, source *Config) {
	if source.Project != "" {
		target.Project = source.Project
	}
	if source.Retry.Max > 0 {
		target.Retry.Max = source.Retry.Max
	}
	if source.Queue != "" {
		target.Queue = source.Queue
	}
	if source.Backend != "" {
		target.Backend = source.Backend
	}
	if source.SubmitHost != "" {
		target.SubmitHost = source.SubmitHost
	}
	if len(source.Node) > 0 {
		target.Node = source.Node
	}
	if len(source.Modules) > 0 {
		target.Modules = source.Modules
	}
	if source.Profile != "" {
		target.Profile = source.Profile
	}
	if source.CondaEnv != "" {
		target.CondaEnv = source.CondaEnv
	}
	if source.Python != "" {
		target.Python = source.Python
	}
	if source.TrainerDir != "" {
		target.TrainerDir = source.TrainerDir
	}
	if source.Trainer != "" {
		target.Trainer = source.Trainer
	}
	if source.ScriptDir != "" {
		target.ScriptDir = source.ScriptDir
	}
	if source.Defaults.Nodes > 0 {
		target.Defaults.Nodes = source.Defaults.Nodes
	}
	if source.Defaults.PPN > 0 {
		target.Defaults.PPN = source.Defaults.PPN
	}
	if source.Defaults.Mem != "" {
		target.Defaults.Mem = source.Defaults.Mem
	}
	if source.Defaults.Walltime != "" {
		target.Defaults.Walltime = source.Defaults.Walltime
	}
	if source.Defaults.EnvName != "" {
		target.Defaults.EnvName = source.Defaults.EnvName
	}
	if source.Defaults.UseGpu > 0 {
		target.Defaults.UseGpu = source.Defaults.UseGpu
	}
	if source.Defaults.Thread > 0 {
		target.Defaults.Thread = source.Defaults.Thread
	}
	if source.MonitorUpdateInterval > 0 {
		target.MonitorUpdateInterval = source.MonitorUpdateInterval
	}
	// Db is NOT merged here - it always comes from the executable directory config
	// so every dqnsub instance shares the same run registry
}

// GetCurrentUserID returns current user ID
func GetCurrentUserID() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return u.Username
}

// CheckNode checks if the current host is in the allowed submit nodes list
// If configNodes is empty, no restriction is applied
func CheckNode(configNodes []string) error {
	if len(configNodes) == 0 {
		return nil
	}

	currentNode, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %v", err)
	}

	for _, allowedNode := range configNodes {
		if currentNode == allowedNode {
			return nil
		}
	}

	return fmt.Errorf("current node (%s) is not in allowed nodes list: %v. Please run dqnsub submit on one of the allowed nodes", currentNode, configNodes)
}
