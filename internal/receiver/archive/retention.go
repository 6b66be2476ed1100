package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// Retention evicts the oldest archives of a collection until it fits its budget.
// The newest archive always stays, even when it alone exceeds the budget.
type Retention struct {
	index *Index
}

func NewRetention(index *Index) *Retention {
	return &Retention{index: index}
}

// Enforce must run inside the collection's exclusive section. Failing to delete
// an object is logged and the entry is dropped from the index anyway.
func (r *Retention) Enforce(ctx context.Context, col *Collection) ([]*StoredArchive, error) {
	if col.MaxSizeBytes <= 0 {
		return nil, nil
	}

	entries, err := r.index.List(col.Name)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	var evicted []*StoredArchive
	for i := 0; total > col.MaxSizeBytes && i < len(entries)-1; i++ {
		victim := entries[i]

		if err := col.Backend.Delete(ctx, victim.StoredKey); err != nil {
			slog.Warn("retention delete", "collection", col.Name, "file", victim.FileName, "error", err)
		}
		if err := r.index.Remove(victim.Seq); err != nil {
			return evicted, fmt.Errorf("retention %s: %w", col.Name, err)
		}

		total -= victim.Size
		evicted = append(evicted, victim)
		slog.Info("retention evict",
			"collection", col.Name,
			"file", victim.FileName,
			"size", humanize.IBytes(uint64(victim.Size)),
			"remaining", humanize.IBytes(uint64(total)),
			"budget", humanize.IBytes(uint64(col.MaxSizeBytes)),
		)
	}

	if total > col.MaxSizeBytes {
		slog.Warn("retention budget exceeded by newest archive",
			"collection", col.Name,
			"total", humanize.IBytes(uint64(total)),
			"budget", humanize.IBytes(uint64(col.MaxSizeBytes)),
		)
	}

	return evicted, nil
}
