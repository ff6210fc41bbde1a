package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crashd/internal/dumpdir"
	"crashd/internal/plugin"
)

// ntfy pushes a short crash summary to an ntfy topic URL.
type ntfy struct {
	base
	client *http.Client
}

func newNtfy() *ntfy {
	return &ntfy{client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *ntfy) SetSettings(s plugin.Settings) error {
	if err := n.base.SetSettings(s); err != nil {
		return err
	}
	n.client = &http.Client{Timeout: settingSeconds(s, "Timeout", 10*time.Second)}
	return nil
}

// Report posts to the Topic setting, or to args when it names a URL.
func (n *ntfy) Report(ctx context.Context, record plugin.CrashRecord, args string) (string, error) {
	settings := n.Settings()
	endpoint := strings.TrimSpace(args)
	if endpoint == "" {
		endpoint = strings.TrimSpace(settings["Topic"])
	}
	if endpoint == "" {
		return "", fmt.Errorf("ntfy: no topic configured")
	}

	var body strings.Builder
	body.WriteString(reportTitle(record))
	body.WriteString("\n")
	for _, key := range []string{plugin.RecordCrashID, dumpdir.FieldReason, dumpdir.FieldHostname, plugin.RecordCount} {
		if v := record[key]; v != "" {
			fmt.Fprintf(&body, "%s: %s\n", key, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "crashd: "+reportTitle(record))
	req.Header.Set("Tags", "warning,"+strings.ToLower(settingString(plugin.Settings(record), dumpdir.FieldAnalyzer, "crash")))
	if priority := settingString(settings, "Priority", "default"); priority != "default" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return endpoint, nil
}
