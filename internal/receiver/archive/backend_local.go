package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/backuprelay/internal/utils"
	"github.com/shirou/gopsutil/v4/disk"
)

const incomingDir = ".incoming"

// LocalBackend keeps archives as plain files in one directory. Payloads are
// staged under <root>/.incoming so the final rename never crosses filesystems.
type LocalBackend struct {
	stager
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &LocalBackend{
		stager: stager{dir: filepath.Join(root, incomingDir)},
		root:   root,
	}, nil
}

func (b *LocalBackend) Kind() string {
	return "local"
}

func (b *LocalBackend) Location() string {
	return b.root
}

func (b *LocalBackend) Publish(ctx context.Context, staged *Staged, name string) (*Object, error) {
	dst := filepath.Join(b.root, name)
	if err := os.Rename(staged.Path, dst); err != nil {
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}
	syncDir(b.root)

	info, err := os.Stat(dst)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return &Object{Key: name, Name: name, Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(b.root, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the regular, non-hidden files directly under the root
func (b *LocalBackend) List(ctx context.Context) ([]*Object, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.root, err)
	}

	objects := make([]*Object, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || utils.IsHidden(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, &Object{
			Key:        e.Name(),
			Name:       e.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return objects, nil
}

func (b *LocalBackend) DiskFree(ctx context.Context) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, b.root)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// syncDir makes a rename durable; not every platform supports it
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

var (
	_ Backend           = (*LocalBackend)(nil)
	_ DiskUsageReporter = (*LocalBackend)(nil)
)
