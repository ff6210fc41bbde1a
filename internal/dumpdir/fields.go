package dumpdir

// Well-known field names.
const (
	FieldAnalyzer     = "analyzer"
	FieldExecutable   = "executable"
	FieldCmdline      = "cmdline"
	FieldPackage      = "package"
	FieldComponent    = "component"
	FieldDescription  = "description"
	FieldHostname     = "hostname"
	FieldReason       = "reason"
	FieldUID          = "uid"
	FieldTime         = "time"
	FieldKernel       = "kernel"
	FieldArchitecture = "architecture"
	FieldRelease      = "release"
	FieldBacktrace    = "backtrace"
	FieldCoreDump     = "coredump"
	FieldUUID         = "uuid"
	FieldRemote       = "remote"
	FieldReported     = "reported"
	FieldMessage      = "message"
)

// KernelExecutable is the executable recorded for kernel oopses.
const KernelExecutable = "kernel"

const lockFileName = ".lock"
