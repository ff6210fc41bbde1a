package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"crashd/internal/plugin"
)

const defaultNATSSubject = "crashd.reports"

// natsReporter publishes each record as a JSON object on a subject.
type natsReporter struct {
	base
	mu      sync.Mutex
	url     string
	timeout time.Duration
	conn    *nats.Conn
}

func newNATS() *natsReporter {
	return &natsReporter{url: nats.DefaultURL, timeout: 5 * time.Second}
}

func (n *natsReporter) SetSettings(s plugin.Settings) error {
	if err := n.base.SetSettings(s); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	url := settingString(s, "URL", nats.DefaultURL)
	if url != n.url && n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.url = url
	n.timeout = settingSeconds(s, "Timeout", 5*time.Second)
	return nil
}

func (n *natsReporter) DeInit() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

func (n *natsReporter) connect() (*nats.Conn, time.Duration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil && !n.conn.IsClosed() {
		return n.conn, n.timeout, nil
	}
	conn, err := nats.Connect(n.url,
		nats.Name("crashd"),
		nats.Timeout(n.timeout),
		nats.MaxReconnects(2),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("connect to nats %s: %w", n.url, err)
	}
	n.conn = conn
	return conn, n.timeout, nil
}

// Report publishes to the Subject setting, or to args when given.
func (n *natsReporter) Report(ctx context.Context, record plugin.CrashRecord, args string) (string, error) {
	subject := strings.TrimSpace(args)
	if subject == "" {
		subject = settingString(n.Settings(), "Subject", defaultNATSSubject)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode crash record: %w", err)
	}

	conn, timeout, err := n.connect()
	if err != nil {
		return "", err
	}
	if err := conn.Publish(subject, payload); err != nil {
		return "", fmt.Errorf("publish crash record: %w", err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.FlushWithContext(flushCtx); err != nil {
		return "", fmt.Errorf("flush crash record: %w", err)
	}
	return "nats://" + subject, nil
}
