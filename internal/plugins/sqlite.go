package plugins

import (
	"context"
	"sync"

	"crashd/internal/crashdb"
	"crashd/internal/plugin"
)

const defaultDBPath = "/var/lib/crashd/crashd.db"

type sqlite3 struct {
	base
	mu    sync.Mutex
	path  string
	store *crashdb.Store
}

func newSQLite3() *sqlite3 { return &sqlite3{path: defaultDBPath} }

func (s *sqlite3) SetSettings(settings plugin.Settings) error {
	if err := s.base.SetSettings(settings); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := settingString(settings, "DBPath", defaultDBPath)
	if path != s.path && s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	s.path = path
	return nil
}

func (s *sqlite3) DeInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
}

func (s *sqlite3) conn(ctx context.Context) (*crashdb.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	store, err := crashdb.Open(ctx, s.path)
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

func (s *sqlite3) Insert(ctx context.Context, row plugin.Row) error {
	store, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return store.Insert(ctx, row)
}

func (s *sqlite3) Lookup(ctx context.Context, uuid, uid string) (plugin.Row, bool, error) {
	store, err := s.conn(ctx)
	if err != nil {
		return plugin.Row{}, false, err
	}
	return store.Lookup(ctx, uuid, uid)
}

func (s *sqlite3) IncrementCount(ctx context.Context, uuid, uid string) error {
	store, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return store.IncrementCount(ctx, uuid, uid)
}

func (s *sqlite3) SetReported(ctx context.Context, uuid, uid, message string) error {
	store, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return store.SetReported(ctx, uuid, uid, message)
}

func (s *sqlite3) List(ctx context.Context, uid string) ([]plugin.Row, error) {
	store, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return store.List(ctx, uid)
}

func (s *sqlite3) Delete(ctx context.Context, uuid, uid string) error {
	store, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return store.Delete(ctx, uuid, uid)
}
