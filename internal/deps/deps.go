// Package deps reports which external tools the daemon shells out to are
// installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names one external command.
type Requirement struct {
	Name     string
	Command  string
	Purpose  string
	Optional bool
}

// Status is the result of looking a Requirement up on PATH.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// Runtime lists the commands crashd and its compiled-in plugins invoke.
func Runtime() []Requirement {
	return []Requirement{
		{Name: "rpm", Command: "rpm", Purpose: "package ownership and signature queries"},
		{Name: "gdb", Command: "gdb", Purpose: "backtraces from core dumps", Optional: true},
		{Name: "sh", Command: "sh", Purpose: "RunApp action commands", Optional: true},
	}
}

// Check looks every requirement up on PATH.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		switch path, err := exec.LookPath(req.Command); {
		case req.Command == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Path = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional commands.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}
