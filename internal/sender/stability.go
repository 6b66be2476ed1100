package sender

import (
	"time"
)

// StabilityGate decides when a file has stopped being written.
//
// A file is stable once two consecutive unchanged observations are at least
// window apart. Any change clears StableObservedAt (done by Reconcile), the next
// unchanged observation starts the clock and a later unchanged observation past
// the window promotes the file.
type StabilityGate struct {
	window time.Duration
}

func NewStabilityGate(window time.Duration) *StabilityGate {
	return &StabilityGate{window: window}
}

func (g *StabilityGate) Window() time.Duration {
	return g.window
}

// Observe applies one unchanged observation at now. It reports whether f became stable.
func (g *StabilityGate) Observe(f *TrackedFile, now time.Time) bool {
	if f.Status != StatusDiscovered && f.Status != StatusPending {
		return false
	}

	// also covers a wall clock that moved backwards
	if f.StableObservedAt.IsZero() || now.Before(f.StableObservedAt) {
		f.StableObservedAt = now
		f.Status = StatusPending
		return false
	}

	if now.Sub(f.StableObservedAt) >= g.window {
		f.Status = StatusStable
		return true
	}

	f.Status = StatusPending
	return false
}

// Apply runs Observe over the unchanged records of a reconcile result and
// returns the files that became stable.
func (g *StabilityGate) Apply(result *ReconcileResult, now time.Time) []*TrackedFile {
	var promoted []*TrackedFile
	for _, f := range result.Unchanged {
		if g.Observe(f, now) {
			promoted = append(promoted, f)
		}
	}
	return promoted
}
