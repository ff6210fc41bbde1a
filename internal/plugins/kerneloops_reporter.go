package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crashd/internal/dumpdir"
	"crashd/internal/plugin"
)

const defaultOopsSubmitURL = "http://submit.kerneloops.org/submitoops.php"

// kerneloopsReporter submits oops text as the "oopsdata" form field.
type kerneloopsReporter struct {
	base
	client *http.Client
}

func newKerneloopsReporter() *kerneloopsReporter {
	return &kerneloopsReporter{client: &http.Client{Timeout: 30 * time.Second}}
}

func (k *kerneloopsReporter) Report(ctx context.Context, record plugin.CrashRecord, args string) (string, error) {
	oops := record[dumpdir.FieldBacktrace]
	if strings.TrimSpace(oops) == "" {
		return "", errors.New("kerneloops: record has no oops text")
	}
	target := strings.TrimSpace(args)
	if target == "" {
		target = settingString(k.Settings(), "SubmitURL", defaultOopsSubmitURL)
	}

	form := url.Values{"oopsdata": {oops}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build oops request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit oops: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("oops server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return "Kernel oops report was uploaded to " + target, nil
}
