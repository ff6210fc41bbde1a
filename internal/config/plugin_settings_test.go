package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"crashd/internal/config"
)

func TestSettingsNamespaceSharesKerneloops(t *testing.T) {
	tests := map[string]string{
		"Kerneloops":         "Kerneloops",
		"KerneloopsReporter": "Kerneloops",
		"KerneloopsScanner":  "Kerneloops",
		"CCpp":               "CCpp",
		"Kernel":             "Kernel",
	}
	for name, want := range tests {
		if got := config.SettingsNamespace(name); got != want {
			t.Fatalf("SettingsNamespace(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestPluginSettingsStoreLoadSave(t *testing.T) {
	dir := t.TempDir()
	store := config.NewPluginSettingsStore(dir)

	got, err := store.Load("Logger")
	if err != nil {
		t.Fatalf("Load missing returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty settings, got %v", got)
	}

	raw := "Enabled = true\nLogPath = \"/tmp/crash.log\"\nAppendLogs = \"yes\"\nRetries = 3\n"
	if err := os.WriteFile(filepath.Join(dir, "Logger.conf"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	got, err = store.Load("Logger")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got["Enabled"] != "yes" || got["LogPath"] != "/tmp/crash.log" || got["Retries"] != "3" {
		t.Fatalf("unexpected settings: %v", got)
	}

	if err := store.Save("KerneloopsReporter", map[string]string{"SubmitURL": "http://example.invalid"}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "Kerneloops.conf")); err != nil {
		t.Fatalf("expected shared namespace file: %v", err)
	}
	shared, err := store.Load("Kerneloops")
	if err != nil {
		t.Fatalf("Load shared returned error: %v", err)
	}
	if shared["SubmitURL"] != "http://example.invalid" {
		t.Fatalf("unexpected shared settings: %v", shared)
	}
}

func TestIsTrue(t *testing.T) {
	for _, v := range []string{"yes", "YES", "true", "1", " on "} {
		if !config.IsTrue(v) {
			t.Fatalf("expected %q to be true", v)
		}
	}
	for _, v := range []string{"", "no", "false", "0", "maybe"} {
		if config.IsTrue(v) {
			t.Fatalf("expected %q to be false", v)
		}
	}
}
