package sender

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/backuprelay/internal/db"
	"github.com/openmined/backuprelay/internal/utils"
)

// times are unix nanoseconds so mtime equality survives a round trip; 0 is the zero time
const trackerSchema = `
CREATE TABLE IF NOT EXISTS tracked_files (
    path TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    mod_time INTEGER NOT NULL,
    status TEXT NOT NULL,
    last_checked_at INTEGER NOT NULL,
    stable_since INTEGER NOT NULL DEFAULT 0,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    sent_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tracked_files_status ON tracked_files(status);
`

const upsertTrackedFile = `
INSERT INTO tracked_files (path, size, mod_time, status, last_checked_at, stable_since, attempts, last_error, sent_at)
VALUES (:path, :size, :mod_time, :status, :last_checked_at, :stable_since, :attempts, :last_error, :sent_at)
ON CONFLICT(path) DO UPDATE SET
    size = excluded.size,
    mod_time = excluded.mod_time,
    status = excluded.status,
    last_checked_at = excluded.last_checked_at,
    stable_since = excluded.stable_since,
    attempts = excluded.attempts,
    last_error = excluded.last_error,
    sent_at = excluded.sent_at
`

const selectTrackedFiles = `SELECT path, size, mod_time, status, last_checked_at, stable_since, attempts, last_error, sent_at FROM tracked_files`

var (
	ErrTrackerLocked  = errors.New("tracking store locked by another process")
	ErrTrackerOpen    = errors.New("tracking store already open")
	ErrTrackerNotOpen = errors.New("tracking store not open")
)

type dbTrackedFile struct {
	Path          string `db:"path"`
	Size          int64  `db:"size"`
	ModTime       int64  `db:"mod_time"`
	Status        string `db:"status"`
	LastCheckedAt int64  `db:"last_checked_at"`
	StableSince   int64  `db:"stable_since"`
	Attempts      int    `db:"attempts"`
	LastError     string `db:"last_error"`
	SentAt        int64  `db:"sent_at"`
}

// Tracker is the durable path → TrackedFile store of the sender.
// A single process owns it at a time (flock on <db>.lock).
type Tracker struct {
	db     *sqlx.DB
	dbPath string
	lock   *flock.Flock
}

func NewTracker(dbPath string) *Tracker {
	return &Tracker{
		dbPath: dbPath,
		lock:   flock.New(dbPath + ".lock"),
	}
}

func (t *Tracker) Path() string {
	return t.dbPath
}

// Open takes the process lock and opens the database.
func (t *Tracker) Open() error {
	if t.db != nil {
		return ErrTrackerOpen
	}
	if err := utils.EnsureParent(t.dbPath); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	locked, err := t.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock tracking store: %w", err)
	}
	if !locked {
		return ErrTrackerLocked
	}

	if err := t.open(); err != nil {
		t.lock.Unlock()
		return err
	}
	return nil
}

// OpenForRead opens the database without taking the process lock, for
// inspection while a daemon is running. Callers must not write.
func (t *Tracker) OpenForRead() error {
	if t.db != nil {
		return ErrTrackerOpen
	}
	if !utils.FileExists(t.dbPath) {
		return fmt.Errorf("tracking store %s: %w", t.dbPath, os.ErrNotExist)
	}
	return t.open()
}

func (t *Tracker) open() error {
	conn, err := db.NewSqliteDB(
		db.WithPath(t.dbPath),
		db.WithMaxOpenConns(1),
		db.WithSchema(trackerSchema),
	)
	if err != nil {
		return fmt.Errorf("open tracking store: %w", err)
	}
	t.db = conn
	return nil
}

func (t *Tracker) Close() error {
	if t.db == nil {
		return ErrTrackerNotOpen
	}
	err := t.db.Close()
	t.db = nil
	if t.lock.Locked() {
		if uerr := t.lock.Unlock(); uerr != nil {
			slog.Warn("tracking store unlock", "error", uerr)
		}
	}
	if err != nil {
		return fmt.Errorf("close tracking store: %w", err)
	}
	slog.Debug("tracking store closed", "path", t.dbPath)
	return nil
}

// Get returns the record for path, or nil if it is not tracked.
func (t *Tracker) Get(path string) (*TrackedFile, error) {
	var row dbTrackedFile
	err := t.db.Get(&row, selectTrackedFiles+` WHERE path = ?`, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return row.toTrackedFile(), nil
}

// State returns every tracked file keyed by path
func (t *Tracker) State() (map[string]*TrackedFile, error) {
	files, err := t.List()
	if err != nil {
		return nil, err
	}
	state := make(map[string]*TrackedFile, len(files))
	for _, f := range files {
		state[f.Path] = f
	}
	return state, nil
}

// List returns every tracked file ordered by path
func (t *Tracker) List() ([]*TrackedFile, error) {
	var rows []dbTrackedFile
	if err := t.db.Select(&rows, selectTrackedFiles+` ORDER BY path`); err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	files := make([]*TrackedFile, 0, len(rows))
	for i := range rows {
		files = append(files, rows[i].toTrackedFile())
	}
	return files, nil
}

// Set writes one record. It returns only once the write is durable.
func (t *Tracker) Set(f *TrackedFile) error {
	if f == nil {
		return fmt.Errorf("cannot set nil record")
	}
	if _, err := t.db.NamedExec(upsertTrackedFile, fromTrackedFile(f)); err != nil {
		return fmt.Errorf("set %s: %w", f.Path, err)
	}
	return nil
}

func (t *Tracker) Delete(path string) error {
	if _, err := t.db.Exec(`DELETE FROM tracked_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Apply writes a whole reconcile result in one transaction.
func (t *Tracker) Apply(result *ReconcileResult) (err error) {
	tx, err := t.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareNamed(upsertTrackedFile)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range result.Upserts() {
		if _, err = stmt.Exec(fromTrackedFile(f)); err != nil {
			return fmt.Errorf("upsert %s: %w", f.Path, err)
		}
	}

	for _, path := range result.Removed {
		if _, err = tx.Exec(`DELETE FROM tracked_files WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

func (t *Tracker) Count() (int, error) {
	var count int
	if err := t.db.Get(&count, `SELECT COUNT(*) FROM tracked_files`); err != nil {
		return 0, fmt.Errorf("count tracked files: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of records per status
func (t *Tracker) CountByStatus() (map[FileStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := t.db.Select(&rows, `SELECT status, COUNT(*) AS n FROM tracked_files GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts := make(map[FileStatus]int, len(rows))
	for _, r := range rows {
		counts[FileStatus(r.Status)] = r.Count
	}
	return counts, nil
}

func (r *dbTrackedFile) toTrackedFile() *TrackedFile {
	status := FileStatus(r.Status)
	if !status.Valid() {
		// re-enter the gate rather than guess; never promotes to sent
		slog.Warn("tracking store unknown status", "path", r.Path, "status", r.Status)
		status = StatusPending
	}
	return &TrackedFile{
		Path:             r.Path,
		Size:             r.Size,
		ModifiedAt:       fromNanos(r.ModTime),
		Status:           status,
		LastCheckedAt:    fromNanos(r.LastCheckedAt),
		StableObservedAt: fromNanos(r.StableSince),
		Attempts:         r.Attempts,
		LastError:        r.LastError,
		SentAt:           fromNanos(r.SentAt),
	}
}

func fromTrackedFile(f *TrackedFile) *dbTrackedFile {
	return &dbTrackedFile{
		Path:          f.Path,
		Size:          f.Size,
		ModTime:       toNanos(f.ModifiedAt),
		Status:        string(f.Status),
		LastCheckedAt: toNanos(f.LastCheckedAt),
		StableSince:   toNanos(f.StableObservedAt),
		Attempts:      f.Attempts,
		LastError:     f.LastError,
		SentAt:        toNanos(f.SentAt),
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
