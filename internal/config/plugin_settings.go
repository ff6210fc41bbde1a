package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// PluginSettingsExt is the file extension of per-plugin settings files.
const PluginSettingsExt = ".conf"

// sharedNamespaces lists settings namespaces that every plugin whose name
// starts with the namespace reads from.
var sharedNamespaces = []string{"Kerneloops"}

// SettingsNamespace maps a plugin name to the settings file it reads.
func SettingsNamespace(name string) string {
	for _, ns := range sharedNamespaces {
		if strings.HasPrefix(name, ns) {
			return ns
		}
	}
	return name
}

// PluginSettingsStore reads and writes flat key/value plugin settings files.
type PluginSettingsStore struct {
	dir string
}

// NewPluginSettingsStore returns a store rooted at dir.
func NewPluginSettingsStore(dir string) *PluginSettingsStore {
	return &PluginSettingsStore{dir: dir}
}

// Dir returns the directory holding the settings files.
func (s *PluginSettingsStore) Dir() string {
	return s.dir
}

// Path returns the settings file for a plugin, honouring shared namespaces.
func (s *PluginSettingsStore) Path(name string) string {
	return filepath.Join(s.dir, SettingsNamespace(name)+PluginSettingsExt)
}

// Load reads a plugin's settings. A missing file yields empty settings.
func (s *PluginSettingsStore) Load(name string) (map[string]string, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read plugin settings %s: %w", name, err)
	}
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plugin settings %s: %w", name, err)
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		out[key] = settingString(value)
	}
	return out, nil
}

// Save writes a plugin's settings, replacing the file.
func (s *PluginSettingsStore) Save(name string, settings map[string]string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create plugin settings directory: %w", err)
	}
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode plugin settings %s: %w", name, err)
	}
	target := s.Path(name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write plugin settings %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace plugin settings %s: %w", name, err)
	}
	return nil
}

func settingString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return formatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, settingString(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+settingString(v[k]))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
