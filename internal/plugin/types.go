package plugin

import (
	"context"
	"fmt"
)

// Magic is the plugin ABI number every module must carry.
const Magic = 6

// Type classifies what a plugin does.
type Type int

const (
	TypeAnalyzer Type = iota
	TypeAction
	TypeReporter
	TypeDatabase
	maxType
)

func (t Type) String() string {
	switch t {
	case TypeAnalyzer:
		return "Analyzer"
	case TypeAction:
		return "Action"
	case TypeReporter:
		return "Reporter"
	case TypeDatabase:
		return "Database"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Valid reports whether t is one of the four plugin types.
func (t Type) Valid() bool {
	return t >= TypeAnalyzer && t < maxType
}

// implementedBy reports whether p provides the interface of type t.
func (t Type) implementedBy(p Plugin) bool {
	var ok bool
	switch t {
	case TypeAnalyzer:
		_, ok = p.(Analyzer)
	case TypeAction:
		_, ok = p.(Action)
	case TypeReporter:
		_, ok = p.(Reporter)
	case TypeDatabase:
		_, ok = p.(Database)
	}
	return ok
}

// Settings is a plugin's flat key/value configuration.
type Settings map[string]string

// Clone returns an independent copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// CrashRecord is the field projection of one crash handed to reporters and
// returned to bus clients.
type CrashRecord map[string]string

// Well-known crash record keys that do not come from dump directory files.
const (
	RecordCrashID = "crash_id"
	RecordDumpDir = "dump_dir"
	RecordCount   = "count"
	RecordUUID    = "uuid"
	RecordUID     = "uid"
)

// Row is one entry of the crash database.
type Row struct {
	UUID     string
	UID      string
	DumpDir  string
	Count    int
	Reported bool
	Message  string
	Time     int64
}

// CrashID returns the "<uid>:<uuid>" identifier of the row.
func (r Row) CrashID() string {
	return r.UID + ":" + r.UUID
}

// Plugin is the lifecycle every plugin implements.
type Plugin interface {
	Init() error
	DeInit()
	SetSettings(Settings) error
	Settings() Settings
}

// Analyzer derives crash identity from a dump directory.
type Analyzer interface {
	Plugin
	// UUID returns the content-derived identifier used for de-duplication.
	UUID(ctx context.Context, dumpDir string) (string, error)
	// CreateReport fills the fields a reporter needs (backtrace and friends).
	CreateReport(ctx context.Context, dumpDir string, force bool) error
}

// Action runs against a dump directory, typically enriching it.
type Action interface {
	Plugin
	Run(ctx context.Context, dumpDir, args string) error
}

// Reporter delivers a crash report somewhere. The returned message describes
// where the report went (a URL, a file path).
type Reporter interface {
	Plugin
	Report(ctx context.Context, record CrashRecord, args string) (string, error)
}

// Database stores the crash inventory keyed by (uuid, uid).
type Database interface {
	Plugin
	Insert(ctx context.Context, row Row) error
	Lookup(ctx context.Context, uuid, uid string) (Row, bool, error)
	IncrementCount(ctx context.Context, uuid, uid string) error
	SetReported(ctx context.Context, uuid, uid, message string) error
	// List returns all rows for uid, or every row when uid is "".
	List(ctx context.Context, uid string) ([]Row, error)
	Delete(ctx context.Context, uuid, uid string) error
}

// Module is a compiled-in catalog entry.
type Module struct {
	Magic       int
	Type        Type
	Version     string
	Description string
	Email       string
	WWW         string
	New         func() Plugin
}

// Info describes a plugin to bus clients.
type Info struct {
	Name        string
	Type        Type
	Version     string
	Description string
	Email       string
	WWW         string
	Enabled     bool
}

// Map renders the descriptor in the key/value form used on the bus.
func (i Info) Map() map[string]string {
	enabled := "no"
	typ := ""
	if i.Enabled {
		enabled = "yes"
		typ = i.Type.String()
	}
	return map[string]string{
		"Enabled":     enabled,
		"Type":        typ,
		"Name":        i.Name,
		"Version":     i.Version,
		"Description": i.Description,
		"Email":       i.Email,
		"WWW":         i.WWW,
	}
}
