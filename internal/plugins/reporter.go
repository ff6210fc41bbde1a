package plugins

import (
	"sort"
	"strings"

	"crashd/internal/dumpdir"
	"crashd/internal/plugin"
)

const userAgent = "crashd/" + pluginVersion

// headlineKeys lead every text report in this order.
var headlineKeys = []string{
	plugin.RecordCrashID,
	dumpdir.FieldAnalyzer,
	dumpdir.FieldPackage,
	dumpdir.FieldExecutable,
	dumpdir.FieldReason,
	dumpdir.FieldTime,
	plugin.RecordCount,
}

// formatReport renders a crash record as plain text. Single-line values are
// printed as "key: value"; multi-line values get their own section.
func formatReport(record plugin.CrashRecord) string {
	var b strings.Builder
	seen := make(map[string]struct{}, len(record))
	var sections []string

	emit := func(key string) {
		if _, done := seen[key]; done {
			return
		}
		seen[key] = struct{}{}
		value, ok := record[key]
		if !ok || key == dumpdir.FieldCoreDump {
			return
		}
		if strings.Contains(value, "\n") {
			sections = append(sections, key)
			return
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	for _, key := range headlineKeys {
		emit(key)
	}
	rest := make([]string, 0, len(record))
	for key := range record {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	for _, key := range rest {
		emit(key)
	}
	for _, key := range sections {
		b.WriteString("\n")
		b.WriteString(key)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", len(key)))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(record[key], "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// reportTitle is a one-line summary used by push-style reporters.
func reportTitle(record plugin.CrashRecord) string {
	subject := record[dumpdir.FieldPackage]
	if subject == "" {
		subject = record[dumpdir.FieldExecutable]
	}
	if subject == "" {
		subject = record[plugin.RecordCrashID]
	}
	if analyzer := record[dumpdir.FieldAnalyzer]; analyzer != "" {
		return analyzer + " crash in " + subject
	}
	return "Crash in " + subject
}
