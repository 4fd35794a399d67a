package main

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ResourceSpec declares what a job requests from the scheduler.
type ResourceSpec struct {
	Nodes    int
	PPN      int
	MemGB    float64
	Walltime time.Duration
	Queue    string
	Account  string
}

// JobIO carries the job identity and log destinations.
type JobIO struct {
	Name       string
	OutPath    string
	ErrPath    string
	MailUser   string
	MailEvents string
}

// parseMemoryString parses a memory request and converts it to GB (float64)
// Supports formats: "16", "16G", "16gb", "16000m", "16000mb"
func parseMemoryString(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty memory string")
	}

	// Remove all whitespace (including spaces between number and unit)
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")

	re := regexp.MustCompile(`^(\d+(?:\.\d+)?)(?i:(gb|g|mb|m))?$`)
	matches := re.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid memory format: %s (expected format: number with optional G/GB/M/MB suffix, e.g., 16, 16gb, 16000mb)", s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in memory string: %s", s)
	}

	unit := strings.ToUpper(matches[2])
	switch unit {
	case "", "G", "GB":
		// No unit means GB
		return value, nil
	case "M", "MB":
		return value / 1000.0, nil
	default:
		return 0, fmt.Errorf("unsupported memory unit: %s (supported: G, GB, M, MB)", unit)
	}
}

// formatMemory renders a GB value the way qsub expects it (mem=16gb).
// Fractional values fall back to megabytes to avoid losing the fraction.
func formatMemory(memGB float64) string {
	if memGB == math.Trunc(memGB) {
		return fmt.Sprintf("%dgb", int64(memGB))
	}
	return fmt.Sprintf("%dmb", int64(math.Ceil(memGB*1000)))
}

// parseWalltime parses a PBS walltime string (HHH:MM:SS, hours unbounded).
// A bare number is taken as seconds, matching qsub.
func parseWalltime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty walltime string")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid walltime format: %s (expected HHH:MM:SS)", s)
	}

	var secs int64
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid walltime format: %s (expected HHH:MM:SS)", s)
		}
		secs = secs*60 + v
	}
	if len(parts) == 3 {
		// HHH:MM:SS was accumulated base 60 as H*3600+M*60+S already
		if m, _ := strconv.ParseInt(parts[1], 10, 64); m > 59 {
			return 0, fmt.Errorf("invalid walltime minutes: %s", parts[1])
		}
		if sec, _ := strconv.ParseInt(parts[2], 10, 64); sec > 59 {
			return 0, fmt.Errorf("invalid walltime seconds: %s", parts[2])
		}
	}
	return time.Duration(secs) * time.Second, nil
}

// formatWalltime renders a duration as HHH:MM:SS (hours not wrapped at 24)
func formatWalltime(d time.Duration) string {
	secs := int64(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// Directives renders the #PBS directive block for the job script
func (r ResourceSpec) Directives(io JobIO) []string {
	lines := []string{
		fmt.Sprintf("#PBS -l nodes=%d:ppn=%d", r.Nodes, r.PPN),
		fmt.Sprintf("#PBS -l mem=%s", formatMemory(r.MemGB)),
		fmt.Sprintf("#PBS -l walltime=%s", formatWalltime(r.Walltime)),
	}
	if io.Name != "" {
		lines = append(lines, fmt.Sprintf("#PBS -N %s", io.Name))
	}
	if r.Queue != "" {
		lines = append(lines, fmt.Sprintf("#PBS -q %s", r.Queue))
	}
	if r.Account != "" {
		lines = append(lines, fmt.Sprintf("#PBS -A %s", r.Account))
	}
	if io.OutPath != "" {
		lines = append(lines, fmt.Sprintf("#PBS -o %s", io.OutPath))
	}
	if io.ErrPath != "" {
		lines = append(lines, fmt.Sprintf("#PBS -e %s", io.ErrPath))
	}
	if io.MailEvents != "" {
		lines = append(lines, fmt.Sprintf("#PBS -m %s", io.MailEvents))
		if io.MailUser != "" {
			lines = append(lines, fmt.Sprintf("#PBS -M %s", io.MailUser))
		}
	}
	return lines
}

// NativeSpec renders the same request as a DRMAA native specification string
// The directive block inside the script is ignored by DRMAA submission, so
// resources must travel through the job template instead
func (r ResourceSpec) NativeSpec(io JobIO) string {
	nativeSpec := fmt.Sprintf("-l nodes=%d:ppn=%d -l mem=%s -l walltime=%s",
		r.Nodes, r.PPN, formatMemory(r.MemGB), formatWalltime(r.Walltime))
	if r.Queue != "" {
		nativeSpec += fmt.Sprintf(" -q %s", r.Queue)
	}
	if r.Account != "" {
		nativeSpec += fmt.Sprintf(" -A %s", r.Account)
	}
	if io.OutPath != "" {
		nativeSpec += fmt.Sprintf(" -o %s", io.OutPath)
	}
	if io.ErrPath != "" {
		nativeSpec += fmt.Sprintf(" -e %s", io.ErrPath)
	}
	return nativeSpec
}

// defaultJobName derives a scheduler-safe job name from a gym environment id,
// e.g. SpaceInvaders-v0 -> dqn_spaceinvaders_v0
func defaultJobName(envName string) string {
	name := strings.ToLower(envName)
	name = strings.ReplaceAll(name, "-", "_")
	re := regexp.MustCompile(`[^a-z0-9_]`)
	name = re.ReplaceAllString(name, "")
	if strings.Trim(name, "_") == "" {
		name = "run"
	}
	return "dqn_" + name
}
