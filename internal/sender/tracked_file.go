package sender

import (
	"time"
)

// FileStatus is the transfer state of a tracked file
type FileStatus string

const (
	StatusDiscovered FileStatus = "discovered" // seen once, metadata not yet confirmed
	StatusPending    FileStatus = "pending"    // waiting for the stability window
	StatusStable     FileStatus = "stable"     // safe to upload
	StatusSent       FileStatus = "sent"       // acknowledged by the receiver, terminal
	StatusFailed     FileStatus = "failed"     // last attempt errored, retried next cycle
)

func (s FileStatus) Valid() bool {
	switch s {
	case StatusDiscovered, StatusPending, StatusStable, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Uploadable reports whether a file in this state gets an upload attempt
func (s FileStatus) Uploadable() bool {
	return s == StatusStable || s == StatusFailed
}

// TrackedFile is the sender's record of one file in the watched tree
type TrackedFile struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
	Status     FileStatus

	LastCheckedAt    time.Time
	StableObservedAt time.Time // zero until an unchanged observation confirms the metadata

	Attempts  int
	LastError string
	SentAt    time.Time
}

// SameMetadata compares the tracked size/mtime with an observation
func (f *TrackedFile) SameMetadata(size int64, modifiedAt time.Time) bool {
	return f.Size == size && f.ModifiedAt.Equal(modifiedAt)
}

func (f *TrackedFile) Clone() *TrackedFile {
	c := *f
	return &c
}
