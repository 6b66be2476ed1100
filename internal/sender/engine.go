package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
)

var ErrCycleAlreadyRunning = errors.New("cycle already running")

// CycleReport summarizes one reconciliation and upload pass
type CycleReport struct {
	Scanned      int
	Added        int
	Changed      int
	Removed      int
	Promoted     int
	SentModified int
	Sent         int
	Failed       int
	Deferred     int // re-stat showed the file moving again, back to pending
	Duration     time.Duration
}

func (r *CycleReport) HasActivity() bool {
	return r.Added+r.Changed+r.Removed+r.Promoted+r.Sent+r.Failed+r.Deferred > 0
}

type EngineOption func(*Engine)

// WithClock replaces the wall clock, used by tests
func WithClock(clock clockwork.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithWatcher enables early cycles on filesystem events
func WithWatcher(w *Watcher) EngineOption {
	return func(e *Engine) {
		e.watcher = w
	}
}

// Engine runs the sender cycle: scan, reconcile, gate, upload.
// Cycles never overlap and uploads within a cycle are sequential.
type Engine struct {
	scanner  *Scanner
	tracker  *Tracker
	gate     *StabilityGate
	uploader FileUploader
	interval time.Duration
	clock    clockwork.Clock
	watcher  *Watcher

	trigger chan struct{}
	muCycle sync.Mutex
	wg      sync.WaitGroup
}

// NewEngine wires the cycle. The tracker must already be open.
func NewEngine(cfg *Config, scanner *Scanner, tracker *Tracker, uploader FileUploader, opts ...EngineOption) *Engine {
	e := &Engine{
		scanner:  scanner,
		tracker:  tracker,
		gate:     NewStabilityGate(cfg.StabilityWindow),
		uploader: uploader,
		interval: cfg.Interval,
		clock:    clockwork.NewRealClock(),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs a first cycle synchronously and then one cycle per interval until
// ctx is cancelled. Call Wait to block until the loop has exited.
func (e *Engine) Start(ctx context.Context) error {
	slog.Info("engine start",
		"root", e.scanner.Root(),
		"interval", e.interval,
		"stabilityWindow", e.gate.Window(),
		"watch", e.watcher != nil,
	)

	e.runAndLog(ctx)

	var nudges <-chan struct{}
	if e.watcher != nil {
		if err := e.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		nudges = e.watcher.Nudges()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		// a timer, not a ticker: a slow cycle must not queue up ticks
		timer := e.clock.NewTimer(e.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.Chan():
			case <-e.trigger:
			case <-nudges:
				slog.Debug("engine nudged by watcher")
			}
			e.runAndLog(ctx)
			timer.Reset(e.interval)
		}
	}()

	return nil
}

// Trigger requests an early cycle. Requests coalesce while one is pending.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Wait blocks until the cycle loop and watcher have stopped
func (e *Engine) Wait() {
	e.wg.Wait()
	if e.watcher != nil {
		e.watcher.Stop()
	}
	slog.Info("engine stopped")
}

func (e *Engine) runAndLog(ctx context.Context) {
	report, err := e.RunCycle(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrCycleAlreadyRunning) {
			slog.Debug("cycle skipped", "reason", err)
			return
		}
		slog.Error("cycle failed", "error", err)
		return
	}
	if report.HasActivity() {
		slog.Info("cycle",
			"scanned", report.Scanned,
			"added", report.Added,
			"changed", report.Changed,
			"removed", report.Removed,
			"promoted", report.Promoted,
			"sent", report.Sent,
			"failed", report.Failed,
			"deferred", report.Deferred,
			"sentModified", report.SentModified,
			"tsTotal", report.Duration,
		)
	}
}

// RunCycle performs one pass. A scan or store error aborts the cycle before
// any upload; an upload failure only marks that file failed.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.muCycle.TryLock() {
		return nil, ErrCycleAlreadyRunning
	}
	defer e.muCycle.Unlock()

	tStart := e.clock.Now()

	listing, err := e.scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	state, err := e.tracker.State()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	now := e.clock.Now()
	result := Reconcile(listing, state, now)
	promoted := e.gate.Apply(result, now)

	if err := e.tracker.Apply(result); err != nil {
		return nil, fmt.Errorf("apply reconcile: %w", err)
	}

	report := &CycleReport{
		Scanned:      len(listing),
		Added:        len(result.Added),
		Changed:      len(result.Changed),
		Removed:      len(result.Removed),
		Promoted:     len(promoted),
		SentModified: result.SentModified,
	}

	if result.SentModified > 0 {
		slog.Debug("sent files modified on disk, not resending", "count", result.SentModified)
	}

	for _, f := range result.Uploadable() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.upload(ctx, f, report); err != nil {
			return report, err
		}
	}

	report.Duration = e.clock.Since(tStart)
	return report, nil
}

// upload makes one attempt for f and persists the outcome before returning.
func (e *Engine) upload(ctx context.Context, f *TrackedFile, report *CycleReport) error {
	info, err := os.Stat(f.Path)
	if err != nil || !info.Mode().IsRegular() || !f.SameMetadata(info.Size(), info.ModTime()) {
		if err == nil {
			f.Size = info.Size()
			f.ModifiedAt = info.ModTime()
		}
		f.Status = StatusPending
		f.StableObservedAt = time.Time{}
		report.Deferred++
		slog.Debug("upload deferred, file changed since scan", "path", f.Path, "error", err)
		if err := e.tracker.Set(f); err != nil {
			return fmt.Errorf("persist %s: %w", f.Path, err)
		}
		return nil
	}

	ack, err := e.uploader.Upload(ctx, f)
	if err != nil && ctx.Err() != nil {
		// interrupted by shutdown, not the receiver's fault; leave the record as is
		return ctx.Err()
	}

	f.Attempts++
	if err != nil {
		f.Status = StatusFailed
		f.LastError = err.Error()
		report.Failed++
		slog.Warn("upload failed", "path", f.Path, "size", humanize.IBytes(uint64(f.Size)), "attempts", f.Attempts, "error", err)
	} else {
		f.Status = StatusSent
		f.LastError = ""
		f.SentAt = e.clock.Now()
		report.Sent++
		slog.Info("upload ok", "path", f.Path, "size", humanize.IBytes(uint64(f.Size)), "receivedAt", ack.ReceivedAt, "evicted", len(ack.Evicted))
	}

	if err := e.tracker.Set(f); err != nil {
		return fmt.Errorf("persist %s: %w", f.Path, err)
	}
	return nil
}
