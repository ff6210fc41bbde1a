package triage

import "crashd/internal/plugin"

// Outcome is the classification of one dump directory.
type Outcome int

const (
	OK Outcome = iota
	InDB
	Reported
	Occurred
	Blacklisted
	Corrupted
	PackageError
	GPGError
	FileError
)

var outcomeNames = map[Outcome]string{
	OK:           "ok",
	InDB:         "in_db",
	Reported:     "reported",
	Occurred:     "occurred",
	Blacklisted:  "blacklisted",
	Corrupted:    "corrupted",
	PackageError: "package_error",
	GPGError:     "gpg_error",
	FileError:    "file_error",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Known reports whether the crash already has a database row elsewhere.
func (o Outcome) Known() bool {
	return o == Reported || o == Occurred
}

// Discard reports whether the outcome deletes the directory.
func (o Outcome) Discard() bool {
	return o >= Blacklisted
}

// Result is the tagged output of Classify.
type Result struct {
	Outcome    Outcome
	DumpDir    string
	Executable string
	Package    string
	Analyzer   string
	UID        string
	// Row is the database row the crash maps to. For duplicates it is the
	// row of the first occurrence, with its count already incremented.
	Row    plugin.Row
	Reason string
}

// CrashID returns "<uid>:<uuid>" once the crash has been identified.
func (r Result) CrashID() string {
	if r.Row.UUID == "" {
		return ""
	}
	return r.Row.CrashID()
}

// SignalUID is the uid carried by the Crash signal. Kernel oopses use "-1"
// so clients present them in the system context.
func (r Result) SignalUID() string {
	if r.Analyzer == KerneloopsAnalyzer {
		return "-1"
	}
	return r.UID
}

// SignalPackage is the package carried by the Crash signal, falling back to
// the executable for unpackaged crashes.
func (r Result) SignalPackage() string {
	if r.Package != "" {
		return r.Package
	}
	return r.Executable
}
