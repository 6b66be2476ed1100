package sender

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ReconcileResult is the diff between a directory listing and the tracking store.
// Every record in it is a copy; the input state is never modified.
type ReconcileResult struct {
	Added     []*TrackedFile // first sighting
	Changed   []*TrackedFile // size or mtime differs, stability clock reset
	Unchanged []*TrackedFile // only LastCheckedAt moved
	Removed   []string       // tracked paths no longer on disk

	// sent files whose metadata changed on disk; they stay sent
	SentModified int
}

func (r *ReconcileResult) HasChanges() bool {
	return len(r.Added) > 0 || len(r.Changed) > 0 || len(r.Removed) > 0
}

// Upserts returns every record that should be written back to the store
func (r *ReconcileResult) Upserts() []*TrackedFile {
	out := make([]*TrackedFile, 0, len(r.Added)+len(r.Changed)+len(r.Unchanged))
	out = append(out, r.Added...)
	out = append(out, r.Changed...)
	out = append(out, r.Unchanged...)
	return out
}

// Uploadable returns the records eligible for an upload attempt, oldest file first
// so the receiver sees archives in production order.
func (r *ReconcileResult) Uploadable() []*TrackedFile {
	var out []*TrackedFile
	for _, f := range r.Upserts() {
		if f.Status.Uploadable() {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.Before(out[j].ModifiedAt)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Reconcile diffs the listing against the stored state as of now.
func Reconcile(listing Listing, state map[string]*TrackedFile, now time.Time) *ReconcileResult {
	result := &ReconcileResult{}

	onDisk := mapset.NewThreadUnsafeSetWithSize[string](len(listing))
	for path := range listing {
		onDisk.Add(path)
	}
	tracked := mapset.NewThreadUnsafeSetWithSize[string](len(state))
	for path := range state {
		tracked.Add(path)
	}

	for _, path := range onDisk.Difference(tracked).ToSlice() {
		obs := listing[path]
		result.Added = append(result.Added, &TrackedFile{
			Path:          path,
			Size:          obs.Size,
			ModifiedAt:    obs.ModifiedAt,
			Status:        StatusDiscovered,
			LastCheckedAt: now,
		})
	}

	for _, path := range onDisk.Intersect(tracked).ToSlice() {
		obs := listing[path]
		rec := state[path].Clone()
		rec.LastCheckedAt = now

		switch {
		case rec.SameMetadata(obs.Size, obs.ModifiedAt):
			result.Unchanged = append(result.Unchanged, rec)
		case rec.Status == StatusSent:
			// never re-uploaded; keep the metadata that was acknowledged
			result.SentModified++
			result.Unchanged = append(result.Unchanged, rec)
		default:
			rec.Size = obs.Size
			rec.ModifiedAt = obs.ModifiedAt
			rec.Status = StatusPending
			rec.StableObservedAt = time.Time{}
			rec.Attempts = 0
			rec.LastError = ""
			result.Changed = append(result.Changed, rec)
		}
	}

	for _, path := range tracked.Difference(onDisk).ToSlice() {
		result.Removed = append(result.Removed, path)
	}

	sortByPath(result.Added)
	sortByPath(result.Changed)
	sortByPath(result.Unchanged)
	sort.Strings(result.Removed)

	return result
}

func sortByPath(files []*TrackedFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}
