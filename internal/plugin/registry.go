package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"crashd/internal/config"
	"crashd/internal/logging"
)

var (
	catalogMu sync.RWMutex
	catalog   = map[string]Module{}
)

// Register adds a module to the compiled-in catalog. It panics on a duplicate
// name, matching database/sql driver registration.
func Register(name string, m Module) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, dup := catalog[name]; dup {
		panic("plugin: Register called twice for " + name)
	}
	catalog[name] = m
}

// Catalog returns a copy of the compiled-in catalog.
func Catalog() map[string]Module {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	out := make(map[string]Module, len(catalog))
	for k, v := range catalog {
		out[k] = v
	}
	return out
}

// SettingsStore persists per-plugin settings.
type SettingsStore interface {
	Load(name string) (map[string]string, error)
	Save(name string, settings map[string]string) error
}

type entry struct {
	plugin Plugin
	info   Info
}

// Registry owns loaded plugin instances.
type Registry struct {
	mu       sync.Mutex
	logger   *slog.Logger
	store    SettingsStore
	modules  map[string]Module
	loaded   map[string]*entry
	disabled map[string]Info
}

// Option configures a Registry.
type Option func(*Registry)

// WithModules replaces the compiled-in catalog (primarily for tests).
func WithModules(modules map[string]Module) Option {
	return func(r *Registry) {
		r.modules = modules
	}
}

// NewRegistry constructs a registry reading settings from store.
func NewRegistry(store SettingsStore, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:   logging.NewComponentLogger(logger, "plugins"),
		store:    store,
		modules:  Catalog(),
		loaded:   map[string]*entry{},
		disabled: map[string]Info{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the named plugin, constructing it on first use. With
// enabledOnly set, a plugin whose settings do not switch Enabled on is
// recorded as disabled and (nil, nil) is returned.
func (r *Registry) Load(name string, enabledOnly bool) (Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.loaded[name]; ok {
		return e.plugin, nil
	}

	settings := Settings{}
	if r.store != nil {
		raw, err := r.store.Load(name)
		if err != nil {
			logging.WarnWithContext(r.logger, "plugin settings unreadable", "plugin_settings",
				logging.Plugin(name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "plugin loads with empty settings"),
			)
		} else {
			settings = Settings(raw)
		}
	}

	if enabledOnly && !config.IsTrue(settings["Enabled"]) {
		r.disabled[name] = Info{Name: name}
		r.logger.Debug("plugin disabled", logging.Plugin(name))
		return nil, nil
	}

	module, ok := r.modules[name]
	if !ok {
		r.logger.Error("plugin load failed", logging.Plugin(name), logging.Error(ErrUnknown))
		return nil, &Error{Plugin: name, Op: "load", Err: ErrUnknown}
	}
	if module.Magic != Magic {
		err := fmt.Errorf("%w: got %d want %d", ErrBadMagic, module.Magic, Magic)
		r.logger.Error("plugin load failed", logging.Plugin(name), logging.Error(err))
		return nil, &Error{Plugin: name, Op: "load", Err: err}
	}
	if !module.Type.Valid() {
		r.logger.Error("plugin load failed", logging.Plugin(name), logging.Error(ErrBadType))
		return nil, &Error{Plugin: name, Op: "load", Err: ErrBadType}
	}

	p := module.New()
	if !module.Type.implementedBy(p) {
		err := fmt.Errorf("%w: instance does not implement %s", ErrWrongType, module.Type)
		r.logger.Error("plugin load failed", logging.Plugin(name), logging.Error(err))
		return nil, &Error{Plugin: name, Op: "load", Err: err}
	}
	if err := p.Init(); err != nil {
		r.logger.Error("plugin init failed", logging.Plugin(name), logging.Error(err))
		return nil, &Error{Plugin: name, Op: "init", Err: err}
	}
	if err := p.SetSettings(settings); err != nil {
		p.DeInit()
		r.logger.Error("plugin settings rejected", logging.Plugin(name), logging.Error(err))
		return nil, &Error{Plugin: name, Op: "configure", Err: err}
	}

	delete(r.disabled, name)
	r.loaded[name] = &entry{
		plugin: p,
		info: Info{
			Name:        name,
			Type:        module.Type,
			Version:     module.Version,
			Description: module.Description,
			Email:       module.Email,
			WWW:         module.WWW,
			Enabled:     true,
		},
	}
	r.logger.Info("plugin registered",
		logging.Plugin(name),
		logging.String("type", module.Type.String()),
		logging.String("version", module.Version),
	)
	return p, nil
}

// Unload de-initializes and releases the named plugin. Unknown names are ignored.
func (r *Registry) Unload(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloadLocked(name)
}

func (r *Registry) unloadLocked(name string) {
	e, ok := r.loaded[name]
	if !ok {
		return
	}
	e.plugin.DeInit()
	delete(r.loaded, name)
	r.logger.Info("plugin unregistered", logging.Plugin(name))
}

// UnloadAll releases every loaded plugin in name order.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r.unloadLocked(name)
	}
}

// LoadDir loads every plugin with a settings file in dir whose name carries
// prefix and ext, with enabledOnly set. A plugin that fails to load never
// aborts the scan; the number of plugins loaded is returned.
func (r *Registry) LoadDir(dir, prefix, ext string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan plugin directory: %w", err)
	}
	count := 0
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		name = strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		if name == "" {
			continue
		}
		p, err := r.Load(name, true)
		if err != nil || p == nil {
			continue
		}
		count++
	}
	return count, nil
}

// get returns a loaded plugin entry, loading a catalog plugin whose settings
// enable it on first use.
func (r *Registry) get(name string) (*entry, error) {
	r.mu.Lock()
	e, ok := r.loaded[name]
	_, known := r.modules[name]
	r.mu.Unlock()
	if ok {
		return e, nil
	}
	if known {
		if p, err := r.Load(name, true); err == nil && p != nil {
			r.mu.Lock()
			e, ok = r.loaded[name]
			r.mu.Unlock()
			if ok {
				return e, nil
			}
		}
	}
	return nil, &Error{Plugin: name, Err: ErrNotRegistered}
}

// typed returns the named plugin when its declared type is want.
func typed[T any](r *Registry, name string, want Type) (T, error) {
	var zero T
	e, err := r.get(name)
	if err != nil {
		return zero, err
	}
	if e.info.Type != want {
		return zero, &Error{Plugin: name, Err: fmt.Errorf("%w: %s is a %s", ErrWrongType, name, e.info.Type)}
	}
	v, ok := e.plugin.(T)
	if !ok {
		return zero, &Error{Plugin: name, Err: ErrWrongType}
	}
	return v, nil
}

// Analyzer returns a loaded analyzer.
func (r *Registry) Analyzer(name string) (Analyzer, error) {
	return typed[Analyzer](r, name, TypeAnalyzer)
}

// Action returns a loaded action.
func (r *Registry) Action(name string) (Action, error) {
	return typed[Action](r, name, TypeAction)
}

// Reporter returns a loaded reporter.
func (r *Registry) Reporter(name string) (Reporter, error) {
	return typed[Reporter](r, name, TypeReporter)
}

// Database returns a loaded database.
func (r *Registry) Database(name string) (Database, error) {
	return typed[Database](r, name, TypeDatabase)
}

// Loaded reports whether name is currently loaded.
func (r *Registry) Loaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[name]
	return ok
}

// Descriptors lists loaded, disabled, and available catalog plugins by name.
func (r *Registry) Descriptors() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]struct{}{}
	out := make([]Info, 0, len(r.modules))
	for name, e := range r.loaded {
		seen[name] = struct{}{}
		out = append(out, e.info)
	}
	for name, info := range r.disabled {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if m, ok := r.modules[name]; ok {
			info.Type = m.Type
			info.Version = m.Version
			info.Description = m.Description
			info.Email = m.Email
			info.WWW = m.WWW
		}
		out = append(out, info)
	}
	for name, m := range r.modules {
		if _, ok := seen[name]; ok {
			continue
		}
		out = append(out, Info{Name: name, Type: m.Type, Version: m.Version, Description: m.Description, Email: m.Email, WWW: m.WWW})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PluginSettings returns the live settings of a loaded plugin, or the stored
// settings of one that is not loaded.
func (r *Registry) PluginSettings(name string) (Settings, error) {
	r.mu.Lock()
	e, ok := r.loaded[name]
	r.mu.Unlock()
	if ok {
		return e.plugin.Settings().Clone(), nil
	}
	if r.store == nil {
		return Settings{}, nil
	}
	raw, err := r.store.Load(name)
	if err != nil {
		return nil, &Error{Plugin: name, Op: "read settings", Err: err}
	}
	return Settings(raw), nil
}

// SetPluginSettings applies and persists settings for a loaded plugin.
func (r *Registry) SetPluginSettings(name string, settings Settings) error {
	r.mu.Lock()
	e, ok := r.loaded[name]
	r.mu.Unlock()
	if !ok {
		return &Error{Plugin: name, Op: "configure", Err: ErrNotRegistered}
	}
	if err := e.plugin.SetSettings(settings.Clone()); err != nil {
		return &Error{Plugin: name, Op: "configure", Err: err}
	}
	if r.store != nil {
		if err := r.store.Save(name, settings); err != nil {
			return &Error{Plugin: name, Op: "save settings", Err: err}
		}
	}
	return nil
}
