package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/backuprelay/internal/db"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T, path string) *sqlx.DB {
	t.Helper()
	if path == "" {
		path = ":memory:"
	}
	conn, err := db.NewSqliteDB(db.WithPath(path))
	require.NoError(t, err)
	return conn
}

func newLocalCollection(t *testing.T, name string, budget int64) *Collection {
	t.Helper()
	backend, err := NewLocalBackend(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	return &Collection{Name: name, MaxSizeBytes: budget, Backend: backend}
}

func newTestService(t *testing.T, clock clockwork.Clock, cols ...*Collection) *Service {
	t.Helper()
	svc, err := NewService(NewRegistryFromCollections(cols...), newTestDB(t, ""), WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

func ingest(t *testing.T, svc *Service, collection, name string, size int) *IngestResult {
	t.Helper()
	res, err := svc.Ingest(context.Background(), &IngestRequest{Collection: collection, FileName: name}, bytes.NewReader(bytes.Repeat([]byte("x"), size)))
	require.NoError(t, err)
	return res
}

func fileNames(archives []*StoredArchive) []string {
	out := make([]string, 0, len(archives))
	for _, a := range archives {
		out = append(out, a.FileName)
	}
	return out
}

func dirFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out
}

// failingDeleteBackend is a local backend whose deletes always fail
type failingDeleteBackend struct {
	*LocalBackend
}

func (b *failingDeleteBackend) Delete(ctx context.Context, key string) error {
	return errors.New("permission denied")
}
