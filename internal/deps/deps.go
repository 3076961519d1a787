package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/dustin/go-humanize"

	"tonearm/internal/config"
	"tonearm/internal/staging"
)

// Requirement defines an external dependency tonearm relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the pipeline executes.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "yt-dlp", Command: cfg.Fetch.Binary, Description: "Downloads source audio"},
		{Name: "FFmpeg", Command: cfg.Transcode.FFmpegBinary, Description: "Encodes mp3 and m4a artifacts"},
		{Name: "FFprobe", Command: cfg.Transcode.FFprobeBinary, Description: "Measures input duration for progress", Optional: true},
	}
}

// Check evaluates the binaries and scratch capacity required by cfg.
func Check(cfg *config.Config) []Status {
	results := CheckBinaries(Requirements(cfg))
	return append(results, CheckScratchSpace(cfg.Paths.ScratchDir, uint64(cfg.Workers.MinScratchFreeMiB)*1024*1024))
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// CheckScratchSpace reports whether the scratch filesystem has at least
// minFree bytes available.
func CheckScratchSpace(dir string, minFree uint64) Status {
	status := Status{
		Name:        "Scratch space",
		Command:     dir,
		Description: "Free space for per-attempt downloads and encodes",
	}
	if strings.TrimSpace(dir) == "" {
		status.Detail = "scratch_dir not configured"
		return status
	}
	free, err := staging.FreeBytes(dir)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	if free < minFree {
		status.Detail = fmt.Sprintf("%s free, %s required", humanize.IBytes(free), humanize.IBytes(minFree))
		return status
	}
	status.Available = true
	status.Detail = humanize.IBytes(free) + " free"
	return status
}
