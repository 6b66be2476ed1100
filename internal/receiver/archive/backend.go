package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/openmined/backuprelay/internal/utils"
)

const stagedSuffix = ".part"

// Backend stores the archives of one collection.
//
// Stage may run concurrently for the same collection. Publish, Delete and List
// are called under the collection lock.
type Backend interface {
	Kind() string
	Location() string
	Stage(ctx context.Context, r io.Reader) (*Staged, error)
	Publish(ctx context.Context, staged *Staged, name string) (*Object, error)
	Discard(staged *Staged)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*Object, error)
	// Cleanup removes staged payloads left behind by an interrupted process
	Cleanup(ctx context.Context) error
}

// DiskUsageReporter is implemented by backends that live on a local filesystem
type DiskUsageReporter interface {
	DiskFree(ctx context.Context) (uint64, error)
}

// stager writes payloads to uniquely named temp files in one directory
type stager struct {
	dir string
}

func (s *stager) Stage(ctx context.Context, r io.Reader) (staged *Staged, err error) {
	if err := utils.EnsureDir(s.dir); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(s.dir, uuid.NewString()+stagedSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return nil, fmt.Errorf("sync staged file: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("close staged file: %w", err)
	}

	return &Staged{Path: path, Size: n}, nil
}

func (s *stager) Discard(staged *Staged) {
	if staged == nil {
		return
	}
	if err := os.Remove(staged.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("discard staged file", "path", staged.Path, "error", err)
	}
}

func (s *stager) Cleanup(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read staging dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stagedSuffix) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("remove stale staged file", "path", path, "error", err)
			continue
		}
		slog.Info("removed stale staged file", "path", path)
	}
	return nil
}

// ctxReader stops a copy once the request is gone
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
