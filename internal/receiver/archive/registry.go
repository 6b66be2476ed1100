package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Collection is a named archive destination with its size budget
type Collection struct {
	Name         string
	MaxSizeBytes int64 // 0 disables retention
	Backend      Backend
}

// Registry maps collection names to collections. It is built once at startup
// and never modified, so lookups need no locking.
type Registry struct {
	collections map[string]*Collection
	names       []string
}

// NewRegistry builds the registry from configuration. Collections without an
// archive_path or s3 section store under <dataDir>/archives/<name>.
func NewRegistry(ctx context.Context, dataDir string, games map[string]*CollectionConfig) (*Registry, error) {
	r := &Registry{collections: make(map[string]*Collection, len(games))}

	for rawName, cfg := range games {
		name := normalizeName(rawName)
		if name == "" {
			return nil, fmt.Errorf("collection with empty name")
		}
		if _, dup := r.collections[name]; dup {
			return nil, fmt.Errorf("duplicate collection %q", name)
		}
		if cfg == nil {
			cfg = &CollectionConfig{}
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}

		backend, err := newBackend(ctx, dataDir, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}

		r.collections[name] = &Collection{
			Name:         name,
			MaxSizeBytes: cfg.MaxSizeBytes(),
			Backend:      backend,
		}
		r.names = append(r.names, name)
	}

	sort.Strings(r.names)
	return r, nil
}

// NewRegistryFromCollections is used when the backends are built elsewhere
func NewRegistryFromCollections(cols ...*Collection) *Registry {
	r := &Registry{collections: make(map[string]*Collection, len(cols))}
	for _, c := range cols {
		c.Name = normalizeName(c.Name)
		r.collections[c.Name] = c
		r.names = append(r.names, c.Name)
	}
	sort.Strings(r.names)
	return r
}

func (r *Registry) Lookup(name string) (*Collection, bool) {
	c, ok := r.collections[normalizeName(name)]
	return c, ok
}

// Names returns the collection names sorted
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Len() int {
	return len(r.names)
}

func newBackend(ctx context.Context, dataDir, name string, cfg *CollectionConfig) (Backend, error) {
	if cfg.S3 != nil {
		return NewS3BackendWithConfig(ctx, cfg.S3, filepath.Join(dataDir, "spool", name))
	}
	root := cfg.ArchivePath
	if root == "" {
		root = filepath.Join(dataDir, "archives", name)
	}
	return NewLocalBackend(root)
}

// config keys come back lowercased from viper, lookups follow suit
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
