package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Requirement defines an external dependency shelflife relies on.
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
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Command = resolved
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// CheckFile reports whether a required file (shared library, model weights)
// exists and is a regular file.
func CheckFile(name, path, description string, optional bool) Status {
	status := Status{
		Name:        name,
		Command:     strings.TrimSpace(path),
		Description: description,
		Optional:    optional,
	}
	if status.Command == "" {
		status.Detail = "path not configured"
		return status
	}
	info, err := os.Stat(status.Command)
	switch {
	case err != nil:
		status.Detail = fmt.Sprintf("%s not found", status.Command)
	case info.IsDir():
		status.Detail = fmt.Sprintf("%s is a directory", status.Command)
	default:
		status.Available = true
	}
	return status
}
