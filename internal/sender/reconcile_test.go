package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func obs(path string, size int64, mod time.Time) *FileInfo {
	return &FileInfo{Path: path, Size: size, ModifiedAt: mod}
}

// applyResult mimics Tracker.Apply on an in-memory state
func applyResult(state map[string]*TrackedFile, r *ReconcileResult) map[string]*TrackedFile {
	next := make(map[string]*TrackedFile, len(state))
	for k, v := range state {
		next[k] = v
	}
	for _, f := range r.Upserts() {
		next[f.Path] = f
	}
	for _, p := range r.Removed {
		delete(next, p)
	}
	return next
}

func TestReconcile_Batches(t *testing.T) {
	state := map[string]*TrackedFile{
		"/w/same.zip":    {Path: "/w/same.zip", Size: 10, ModifiedAt: t0, Status: StatusPending},
		"/w/changed.zip": {Path: "/w/changed.zip", Size: 10, ModifiedAt: t0, Status: StatusFailed, Attempts: 3, LastError: "boom", StableObservedAt: t0},
		"/w/gone.zip":    {Path: "/w/gone.zip", Size: 10, ModifiedAt: t0, Status: StatusSent},
	}
	listing := Listing{
		"/w/same.zip":    obs("/w/same.zip", 10, t0),
		"/w/changed.zip": obs("/w/changed.zip", 20, t0.Add(time.Second)),
		"/w/new.zip":     obs("/w/new.zip", 5, t0),
	}
	now := t0.Add(time.Minute)

	r := Reconcile(listing, state, now)

	require.Len(t, r.Added, 1)
	assert.Equal(t, "/w/new.zip", r.Added[0].Path)
	assert.Equal(t, StatusDiscovered, r.Added[0].Status)
	assert.Equal(t, now, r.Added[0].LastCheckedAt)

	require.Len(t, r.Changed, 1)
	changed := r.Changed[0]
	assert.Equal(t, StatusPending, changed.Status)
	assert.Equal(t, int64(20), changed.Size)
	assert.True(t, changed.StableObservedAt.IsZero())
	assert.Zero(t, changed.Attempts)
	assert.Empty(t, changed.LastError)

	require.Len(t, r.Unchanged, 1)
	assert.Equal(t, "/w/same.zip", r.Unchanged[0].Path)
	assert.Equal(t, now, r.Unchanged[0].LastCheckedAt)

	assert.Equal(t, []string{"/w/gone.zip"}, r.Removed)
	assert.True(t, r.HasChanges())

	// input untouched
	assert.Equal(t, StatusFailed, state["/w/changed.zip"].Status)
	assert.True(t, state["/w/same.zip"].LastCheckedAt.IsZero())
}

func TestReconcile_Idempotent(t *testing.T) {
	listing := Listing{
		"/w/a.zip": obs("/w/a.zip", 1, t0),
		"/w/b.zip": obs("/w/b.zip", 2, t0),
	}

	state := applyResult(nil, Reconcile(listing, nil, t0))
	first := Reconcile(listing, state, t0.Add(time.Second))
	second := Reconcile(listing, applyResult(state, first), t0.Add(2*time.Second))

	assert.False(t, first.HasChanges())
	assert.False(t, second.HasChanges())
	require.Len(t, second.Unchanged, 2)
	for i, f := range second.Unchanged {
		prev := first.Unchanged[i]
		assert.Equal(t, prev.Path, f.Path)
		assert.Equal(t, prev.Size, f.Size)
		assert.Equal(t, prev.ModifiedAt, f.ModifiedAt)
		assert.Equal(t, prev.Status, f.Status)
		assert.Equal(t, t0.Add(2*time.Second), f.LastCheckedAt)
	}
}

func TestReconcile_SentModifiedStaysSent(t *testing.T) {
	sentAt := t0.Add(time.Minute)
	state := map[string]*TrackedFile{
		"/w/a.zip": {Path: "/w/a.zip", Size: 10, ModifiedAt: t0, Status: StatusSent, SentAt: sentAt},
	}
	listing := Listing{"/w/a.zip": obs("/w/a.zip", 99, t0.Add(time.Hour))}

	r := Reconcile(listing, state, t0.Add(2*time.Hour))

	assert.Equal(t, 1, r.SentModified)
	assert.Empty(t, r.Changed)
	require.Len(t, r.Unchanged, 1)
	assert.Equal(t, StatusSent, r.Unchanged[0].Status)
	assert.Equal(t, int64(10), r.Unchanged[0].Size)
	assert.Empty(t, r.Uploadable())
}

func TestReconcile_RemovedRegardlessOfStatus(t *testing.T) {
	state := map[string]*TrackedFile{}
	for _, s := range []FileStatus{StatusDiscovered, StatusPending, StatusStable, StatusSent, StatusFailed} {
		p := "/w/" + string(s) + ".zip"
		state[p] = &TrackedFile{Path: p, Status: s}
	}

	r := Reconcile(Listing{}, state, t0)

	assert.Len(t, r.Removed, 5)
	assert.Empty(t, r.Upserts())
}

func TestReconcileResult_UploadableOrder(t *testing.T) {
	r := &ReconcileResult{
		Unchanged: []*TrackedFile{
			{Path: "/w/c.zip", ModifiedAt: t0.Add(2 * time.Second), Status: StatusStable},
			{Path: "/w/b.zip", ModifiedAt: t0, Status: StatusFailed},
			{Path: "/w/a.zip", ModifiedAt: t0, Status: StatusStable},
			{Path: "/w/p.zip", ModifiedAt: t0, Status: StatusPending},
			{Path: "/w/s.zip", ModifiedAt: t0, Status: StatusSent},
		},
	}

	var paths []string
	for _, f := range r.Uploadable() {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"/w/a.zip", "/w/b.zip", "/w/c.zip"}, paths)
}
