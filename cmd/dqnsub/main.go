package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// printModuleList prints list of available modules
func printModuleList() {
	fmt.Println("dqnsub - DQN training job submission v1.2.4")
	fmt.Println()
	fmt.Println("Available modules:")
	fmt.Println("    submit            Submit a training run to the PBS cluster (default module)")
	fmt.Println("    batch             Submit one run per environment in a sweep file")
	fmt.Println("    stat              Query training runs from the run registry")
	fmt.Println("    delete            Delete a run from the queue and registry")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("    dqnsub                      Show this help")
	fmt.Println("    dqnsub <module>             Run a module")
	fmt.Println("    dqnsub <module> --help      Show module-specific help")
	fmt.Println("    dqnsub -e <env>             Run submit module (default)")
}

// printModuleHelp prints help for a specific module
func printModuleHelp(module string, config *Config) {
	switch module {
	case "submit":
		fmt.Println("dqnsub submit - Submit a DQN training run to the PBS cluster")
		fmt.Println()
		fmt.Println("USAGE:")
		fmt.Println("    dqnsub submit [OPTIONS]")
		fmt.Println("    dqnsub [OPTIONS]  (submit is default)")
		fmt.Println()
		fmt.Println("OPTIONS:")
		fmt.Println("    -h, --help        Print help information")
		fmt.Printf("    -e, --env_name    Gym environment passed to the trainer (default: %s)\n", config.Defaults.EnvName)
		fmt.Printf("    -g, --use_gpu     Pass --use_gpu=1 to the trainer (default: %d)\n", config.Defaults.UseGpu)
		fmt.Println("    -N, --name        Job name (default: derived from env name)")
		fmt.Printf("        --nodes       Number of nodes (default: %d)\n", config.Defaults.Nodes)
		fmt.Printf("        --ppn         Processors per node (default: %d)\n", config.Defaults.PPN)
		fmt.Printf("    -m, --mem         Memory request, e.g. 16gb (default: %s)\n", config.Defaults.Mem)
		fmt.Printf("    -w, --walltime    Walltime request HHH:MM:SS (default: %s)\n", config.Defaults.Walltime)
		fmt.Printf("    -q, --queue       Queue name (default: %s)\n", config.Queue)
		fmt.Println("    -A, --account     Account string for allocation accounting")
		fmt.Printf("        --project     Project name for the run registry (default: %s)\n", config.Project)
		fmt.Printf("    -b, --backend     Submission backend: qsub, ssh or drmaa (default: %s)\n", config.Backend)
		fmt.Println("        --submit-host Login node for the ssh backend (default: from config)")
		fmt.Println("        --arg         Extra argument passed through to the trainer (repeatable)")
		fmt.Println("        --watch       Stay attached and watch the job until completion")
		fmt.Println("        --dry-run     Print the rendered job script without submitting")
	case "batch":
		fmt.Println("dqnsub batch - Submit one DQN training run per environment in a sweep file")
		fmt.Println()
		fmt.Println("USAGE:")
		fmt.Println("    dqnsub batch -i|--infile <file> [OPTIONS]")
		fmt.Println()
		fmt.Println("OPTIONS:")
		fmt.Println("    -h, --help        Print help information")
		fmt.Println("    -i, --infile      Sweep file with one gym environment id per line (required)")
		fmt.Printf("    -p, --thread      Max runs watched concurrently (default: %d)\n", config.Defaults.Thread)
		fmt.Printf("    -g, --use_gpu     Pass --use_gpu=1 to every trainer (default: %d)\n", config.Defaults.UseGpu)
		fmt.Printf("    -m, --mem         Memory request per run (default: %s)\n", config.Defaults.Mem)
		fmt.Printf("    -w, --walltime    Walltime request per run (default: %s)\n", config.Defaults.Walltime)
		fmt.Printf("    -q, --queue       Queue name (default: %s)\n", config.Queue)
		fmt.Printf("        --project     Project name for the run registry (default: %s)\n", config.Project)
		fmt.Printf("    -b, --backend     Submission backend: qsub, ssh or drmaa (default: %s)\n", config.Backend)
		fmt.Println("        --submit-host Login node for the ssh backend (default: from config)")
	case "stat":
		fmt.Println("dqnsub stat - Query training runs from the run registry")
		fmt.Println()
		fmt.Println("USAGE:")
		fmt.Println("    dqnsub stat [-p|--project <project>]")
		fmt.Println()
		fmt.Println("OPTIONS:")
		fmt.Println("    -h, --help        Print help information")
		fmt.Println("    -p, --project     Filter by project name")
	case "delete":
		fmt.Println("dqnsub delete - Delete a training run from the queue and registry")
		fmt.Println()
		fmt.Println("USAGE:")
		fmt.Println("    dqnsub delete --id <id>")
		fmt.Println("    dqnsub delete -p|--project <project>")
		fmt.Println()
		fmt.Println("OPTIONS:")
		fmt.Println("    -h, --help        Print help information")
		fmt.Println("        --id          Registry id of the run to delete (see dqnsub stat)")
		fmt.Println("    -p, --project     Delete every active run of this project")
	default:
		fmt.Printf("Unknown module: %s\n", module)
		fmt.Println()
		printModuleList()
	}
}

// isModuleName checks if the argument is a module name
func isModuleName(arg string) bool {
	modules := []string{"submit", "batch", "stat", "delete"}
	for _, m := range modules {
		if arg == m {
			return true
		}
	}
	return false
}

// isOption checks if the argument looks like an option (starts with -)
func isOption(arg string) bool {
	return len(arg) > 0 && arg[0] == '-'
}

func main() {
	// Load configuration
	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// If no arguments, show module list
	if len(os.Args) == 1 {
		printModuleList()
		return
	}

	firstArg := os.Args[1]

	// Check for help on module list
	if firstArg == "--help" || firstArg == "-h" {
		printModuleList()
		return
	}

	// Check if it's a module name
	if isModuleName(firstArg) {
		// Check if help is requested for this module
		if len(os.Args) > 2 && (os.Args[2] == "--help" || os.Args[2] == "-h") {
			printModuleHelp(firstArg, config)
			return
		}

		// Run the module
		switch firstArg {
		case "submit":
			runSubmitMode(config, os.Args[2:])
			return
		case "batch":
			runBatchMode(config, os.Args[2:])
			return
		case "stat":
			runStatMode(config, os.Args[2:])
			return
		case "delete":
			runDeleteMode(config, os.Args[2:])
			return
		}
	}

	// If first argument is an option (like -e), default to submit module
	if isOption(firstArg) {
		runSubmitMode(config, os.Args[1:])
		return
	}

	// Unknown argument
	fmt.Printf("Unknown module or option: %s\n", firstArg)
	fmt.Println()
	printModuleList()
	os.Exit(1)
}
