package archive

import (
	"errors"
	"time"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrEmptyPayload      = errors.New("empty payload")
	ErrInvalidFileName   = errors.New("invalid file name")
	ErrStorage           = errors.New("storage failure")
)

// StoredArchive is one archive held for a collection.
// Within a collection archives are ordered by (ReceivedAt, Seq).
type StoredArchive struct {
	Seq        int64
	Collection string
	FileName   string
	Size       int64
	StoredKey  string
	ReceivedAt time.Time
}

// Before reports whether a arrived before b
func (a *StoredArchive) Before(b *StoredArchive) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.Seq < b.Seq
}

// Object is a published archive as the backend sees it
type Object struct {
	Key        string
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Staged is a fully written, fsynced payload not yet visible under its final name
type Staged struct {
	Path string
	Size int64
}

type IngestRequest struct {
	Collection string
	FileName   string
	SenderID   string
}

type IngestResult struct {
	Archive *StoredArchive
	Evicted []*StoredArchive
}

type BackupSummary struct {
	FileName   string
	Size       int64
	ReceivedAt time.Time
}

type CollectionStats struct {
	Name           string
	Backend        string
	Location       string
	Count          int
	TotalSizeBytes int64
	MaxSizeBytes   int64
	DiskFreeBytes  *uint64
	Backups        []*BackupSummary
}
