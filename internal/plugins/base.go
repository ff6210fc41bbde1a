package plugins

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"crashd/internal/plugin"
)

// base stores settings for plugins with no lifecycle of their own.
type base struct {
	mu       sync.Mutex
	settings plugin.Settings
}

func (b *base) Init() error { return nil }

func (b *base) DeInit() {}

func (b *base) SetSettings(s plugin.Settings) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = s.Clone()
	return nil
}

func (b *base) Settings() plugin.Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.Clone()
}

func settingString(s plugin.Settings, key, fallback string) string {
	if v := strings.TrimSpace(s[key]); v != "" {
		return v
	}
	return fallback
}

func settingSeconds(s plugin.Settings, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(s[key])
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
