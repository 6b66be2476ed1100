package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Rebuild brings the index of one collection in line with its backend after a
// restart: entries whose object vanished are dropped, unindexed objects are
// adopted in mtime order and stale staged payloads are removed. Retention then
// runs once.
func (s *Service) Rebuild(ctx context.Context, col *Collection) error {
	s.locks.Lock(col.Name)
	defer s.locks.Unlock(col.Name)

	if err := col.Backend.Cleanup(ctx); err != nil {
		slog.Warn("rebuild cleanup", "collection", col.Name, "error", err)
	}

	objects, err := col.Backend.List(ctx)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", col.Name, err)
	}
	entries, err := s.index.List(col.Name)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", col.Name, err)
	}

	byKey := make(map[string]*Object, len(objects))
	for _, o := range objects {
		byKey[o.Key] = o
	}

	var dropped, adopted, resized int
	for _, e := range entries {
		obj, ok := byKey[e.StoredKey]
		if !ok {
			if err := s.index.Remove(e.Seq); err != nil {
				return fmt.Errorf("rebuild %s: %w", col.Name, err)
			}
			dropped++
			continue
		}
		if obj.Size != e.Size {
			if err := s.index.UpdateSize(e.Seq, obj.Size); err != nil {
				return fmt.Errorf("rebuild %s: %w", col.Name, err)
			}
			resized++
		}
		delete(byKey, e.StoredKey)
	}

	orphans := make([]*Object, 0, len(byKey))
	for _, o := range byKey {
		orphans = append(orphans, o)
	}
	sort.Slice(orphans, func(i, j int) bool {
		if !orphans[i].ModifiedAt.Equal(orphans[j].ModifiedAt) {
			return orphans[i].ModifiedAt.Before(orphans[j].ModifiedAt)
		}
		return orphans[i].Name < orphans[j].Name
	})
	for _, o := range orphans {
		_, err := s.index.Put(&StoredArchive{
			Collection: col.Name,
			FileName:   o.Name,
			Size:       o.Size,
			StoredKey:  o.Key,
			ReceivedAt: o.ModifiedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", col.Name, err)
		}
		adopted++
	}

	evicted, err := s.retention.Enforce(ctx, col)
	if err != nil {
		return err
	}

	slog.Info("collection ready",
		"collection", col.Name,
		"backend", col.Backend.Kind(),
		"location", col.Backend.Location(),
		"objects", len(objects),
		"dropped", dropped,
		"adopted", adopted,
		"resized", resized,
		"evicted", len(evicted),
	)
	return nil
}
