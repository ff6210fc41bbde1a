package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"crashd/internal/config"
	"crashd/internal/plugin"
)

const defaultReportLog = "/var/log/crashd/reports.log"

// reportLogger appends (or writes) text reports to a local file.
type reportLogger struct {
	base
	mu sync.Mutex
}

func newLogger() *reportLogger { return &reportLogger{} }

// Report writes the record to LogPath, or to args when given. AppendLogs
// (default yes) decides between appending and truncating.
func (l *reportLogger) Report(_ context.Context, record plugin.CrashRecord, args string) (string, error) {
	settings := l.Settings()
	path := strings.TrimSpace(args)
	if path == "" {
		path = settingString(settings, "LogPath", defaultReportLog)
	}
	path, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if raw := settings["AppendLogs"]; raw != "" && !config.IsTrue(raw) {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report log directory: %w", err)
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return "", fmt.Errorf("open report log: %w", err)
	}
	defer f.Close()

	header := fmt.Sprintf("==== %s %s ====\n", time.Now().Format(time.RFC3339), reportTitle(record))
	if _, err := f.WriteString(header + formatReport(record) + "\n"); err != nil {
		return "", fmt.Errorf("write report log: %w", err)
	}
	return "file://" + path, nil
}
