package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"crashd/internal/dumpdir"
)

// WriteDumpDir creates a dump directory under root with the identity fields
// plus extra fields, and returns its path.
func WriteDumpDir(t testing.TB, root, name string, uid int, analyzer, executable string, extra map[string]string) string {
	t.Helper()
	path := filepath.Join(root, name)
	d, err := dumpdir.Create(context.Background(), path, uid, analyzer, executable)
	if err != nil {
		t.Fatalf("create dump dir %s: %v", name, err)
	}
	defer d.Close()
	for key, value := range extra {
		if err := d.Save(key, value); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}
	return path
}
