package bus

// Methods exported by the daemon.
const (
	MethodGetCrashInfos     = "GetCrashInfos"
	MethodCreateReport      = "CreateReport"
	MethodReport            = "Report"
	MethodDeleteDebugDump   = "DeleteDebugDump"
	MethodGetPluginsInfo    = "GetPluginsInfo"
	MethodGetPluginSettings = "GetPluginSettings"
	MethodSetPluginSettings = "SetPluginSettings"
	MethodRegisterPlugin    = "RegisterPlugin"
	MethodUnRegisterPlugin  = "UnRegisterPlugin"
	MethodGetSettings       = "GetSettings"
	MethodSetSettings       = "SetSettings"
)

// Signals emitted by the daemon.
const (
	SignalCrash         = "Crash"
	SignalJobDone       = "JobDone"
	SignalWarning       = "Warning"
	SignalUpdate        = "Update"
	SignalQuotaExceeded = "QuotaExceeded"
)

// CrashSignal is the body of the Crash signal.
type CrashSignal struct {
	Package string `json:"package"`
	UID     string `json:"uid"`
}

// JobDoneSignal is the body of the JobDone signal.
type JobDoneSignal struct {
	Client  string `json:"client"`
	CrashID string `json:"crash_id"`
}

// ReportRequest asks the daemon to run reporters over a crash record. The
// record must carry crash_id; other fields override the stored ones.
type ReportRequest struct {
	Record    map[string]string            `json:"record"`
	Reporters []string                     `json:"reporters"`
	Overrides map[string]map[string]string `json:"overrides,omitempty"`
}

// ReportResult is the outcome of one reporter. Report replies key results by
// reporter name.
type ReportResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PluginSettingsRequest replaces the settings of a loaded plugin.
type PluginSettingsRequest struct {
	Name     string            `json:"name"`
	Settings map[string]string `json:"settings"`
}
