package main

import (
	"bytes"
	"strings"
	"testing"

	"crashd/internal/bus"
)

func TestFieldLabel(t *testing.T) {
	cases := map[string]string{
		"crash_id":   "Crash Id",
		"executable": "Executable",
		"uid":        "Uid",
	}
	for in, want := range cases {
		if got := fieldLabel(in); got != want {
			t.Errorf("fieldLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"ProcessUnpackaged=yes", "Blacklist=bash,dbus", "Cron.10="})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	if values["ProcessUnpackaged"] != "yes" || values["Blacklist"] != "bash,dbus" {
		t.Fatalf("unexpected values %v", values)
	}
	if v, ok := values["Cron.10"]; !ok || v != "" {
		t.Fatal("empty values must be kept so entries can be cleared")
	}
	if _, err := parseAssignments([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestCrashListRowsAndFilter(t *testing.T) {
	infos := []map[string]string{
		{"crash_id": "500:aa", "package": "", "executable": "/usr/bin/true", "count": "1", "reported": "no", "time": "not-a-time"},
		{"crash_id": "0:bb", "package": "bash-5.2-1", "executable": "/bin/bash", "count": "3", "reported": "yes"},
	}
	pending := unreported(infos)
	if len(pending) != 1 || pending[0]["crash_id"] != "500:aa" {
		t.Fatalf("unexpected unreported list %v", pending)
	}
	if len(infos) != 2 {
		t.Fatal("filtering must not modify the input")
	}
	rows := crashListRows(infos)
	if rows[0][1] != "-" || rows[0][5] != "not-a-time" {
		t.Fatalf("unexpected first row %v", rows[0])
	}
	table := renderTable(crashListHeaders, rows, crashListAligns)
	if !strings.Contains(table, "bash-5.2-1") || !strings.Contains(table, "EXECUTABLE") {
		t.Fatalf("table missing content:\n%s", table)
	}
}

func TestPrintRecordPutsBlocksLast(t *testing.T) {
	var buf bytes.Buffer
	printRecord(&buf, map[string]string{
		"backtrace":  "#0 main\n#1 start",
		"executable": "/usr/bin/true",
	})
	out := buf.String()
	if !strings.HasPrefix(out, "Executable:") {
		t.Fatalf("expected short fields first, got:\n%s", out)
	}
	if !strings.Contains(out, "\nBacktrace:\n    #0 main\n    #1 start\n") {
		t.Fatalf("backtrace block not indented:\n%s", out)
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	err := printResults(&buf, map[string]bus.ReportResult{
		"Logger": {Success: true, Message: "file:///tmp/x"},
		"Ntfy":   {Message: "connection refused"},
	}, false)
	if err != nil {
		t.Fatalf("expected partial success to pass, got %v", err)
	}
	if !strings.Contains(buf.String(), "[OK] file:///tmp/x") || !strings.Contains(buf.String(), "[ERROR] connection refused") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
	if err := printResults(&buf, map[string]bus.ReportResult{"Ntfy": {}}, false); err == nil {
		t.Fatal("expected an error when every reporter fails")
	}
	if shouldColorize(&buf) {
		t.Fatal("buffers are never terminals")
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"list", "info", "report", "delete", "plugins", "settings", "status", "stop"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("missing command %s: %v", name, err)
		}
	}
	report, _, _ := root.Find([]string{"report"})
	if err := report.Args(report, nil); err == nil {
		t.Fatal("report requires an ID")
	}
}
