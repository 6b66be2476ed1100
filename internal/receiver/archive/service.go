package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/im7mortal/kmutex"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/backuprelay/internal/utils"
	"golang.org/x/sync/errgroup"
)

const statsBackupsLimit = 10

type ServiceOption func(*Service)

// WithClock replaces the wall clock used for ReceivedAt
func WithClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// Service accepts archives into collections and keeps each collection
// within its size budget.
type Service struct {
	registry  *Registry
	index     *Index
	retention *Retention
	locks     *kmutex.Kmutex
	clock     clockwork.Clock
}

func NewService(registry *Registry, db *sqlx.DB, opts ...ServiceOption) (*Service, error) {
	index, err := NewIndex(db)
	if err != nil {
		return nil, err
	}

	s := &Service{
		registry:  registry,
		index:     index,
		retention: NewRetention(index),
		locks:     kmutex.New(),
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start reconciles every collection's index with its backend.
func (s *Service) Start(ctx context.Context) error {
	slog.Debug("archive service start", "collections", s.registry.Len())

	eg, ctx := errgroup.WithContext(ctx)
	for _, name := range s.registry.Names() {
		col, _ := s.registry.Lookup(name)
		eg.Go(func() error {
			return s.Rebuild(ctx, col)
		})
	}
	return eg.Wait()
}

func (s *Service) Shutdown(ctx context.Context) error {
	slog.Debug("archive service shutdown")
	return s.index.Close()
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Index() *Index {
	return s.index
}

// Ingest stores the payload read from body as req.FileName in req.Collection.
// It returns once the archive is published, indexed and retention has run.
func (s *Service) Ingest(ctx context.Context, req *IngestRequest, body io.Reader) (*IngestResult, error) {
	col, ok := s.registry.Lookup(req.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, req.Collection)
	}

	name, err := CleanFileName(req.FileName)
	if err != nil {
		return nil, err
	}

	// streaming runs outside the lock so concurrent uploads do not serialize
	staged, err := col.Backend.Stage(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if staged.Size == 0 {
		col.Backend.Discard(staged)
		return nil, ErrEmptyPayload
	}

	s.locks.Lock(col.Name)
	defer s.locks.Unlock(col.Name)

	receivedAt, err := s.nextReceivedAt(col.Name)
	if err != nil {
		col.Backend.Discard(staged)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	obj, err := col.Backend.Publish(ctx, staged, name)
	if err != nil {
		col.Backend.Discard(staged)
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	archive := &StoredArchive{
		Collection: col.Name,
		FileName:   name,
		Size:       staged.Size,
		StoredKey:  obj.Key,
		ReceivedAt: receivedAt,
	}
	replaced, err := s.index.Put(archive)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if replaced != nil {
		slog.Info("archive replaced", "collection", col.Name, "file", name, "previousSize", humanize.IBytes(uint64(replaced.Size)))
	}

	slog.Info("archive stored",
		"collection", col.Name,
		"file", name,
		"size", humanize.IBytes(uint64(archive.Size)),
		"sender", req.SenderID,
		"location", col.Backend.Location(),
	)

	evicted, err := s.retention.Enforce(ctx, col)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return &IngestResult{Archive: archive, Evicted: evicted}, nil
}

// nextReceivedAt never goes behind the collection's newest archive, so a wall
// clock stepping back cannot reorder arrivals. Must hold the collection lock.
func (s *Service) nextReceivedAt(collection string) (time.Time, error) {
	now := s.clock.Now().UTC()
	newest, err := s.index.Newest(collection, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(newest) > 0 && newest[0].ReceivedAt.After(now) {
		return newest[0].ReceivedAt, nil
	}
	return now, nil
}

// Stats reports one collection
func (s *Service) Stats(ctx context.Context, name string) (*CollectionStats, error) {
	col, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}

	count, total, err := s.index.Usage(col.Name)
	if err != nil {
		return nil, err
	}
	newest, err := s.index.Newest(col.Name, statsBackupsLimit)
	if err != nil {
		return nil, err
	}

	stats := &CollectionStats{
		Name:           col.Name,
		Backend:        col.Backend.Kind(),
		Location:       col.Backend.Location(),
		Count:          count,
		TotalSizeBytes: total,
		MaxSizeBytes:   col.MaxSizeBytes,
		Backups:        make([]*BackupSummary, 0, len(newest)),
	}
	for _, a := range newest {
		stats.Backups = append(stats.Backups, &BackupSummary{
			FileName:   a.FileName,
			Size:       a.Size,
			ReceivedAt: a.ReceivedAt,
		})
	}

	if du, ok := col.Backend.(DiskUsageReporter); ok {
		if free, err := du.DiskFree(ctx); err == nil {
			stats.DiskFreeBytes = &free
		} else {
			slog.Debug("disk usage", "collection", col.Name, "error", err)
		}
	}

	return stats, nil
}

// AllStats reports every collection keyed by name
func (s *Service) AllStats(ctx context.Context) (map[string]*CollectionStats, error) {
	out := make(map[string]*CollectionStats, s.registry.Len())
	for _, name := range s.registry.Names() {
		stats, err := s.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = stats
	}
	return out, nil
}

// CleanFileName reduces a client supplied name to a plain file name. Any
// directory part is dropped; empty, dot and hidden names are rejected.
func CleanFileName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) || utils.IsHidden(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, raw)
	}
	return name, nil
}
