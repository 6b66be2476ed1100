package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS archives (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL,
    file_name TEXT NOT NULL,
    size INTEGER NOT NULL,
    stored_key TEXT NOT NULL,
    received_at INTEGER NOT NULL,
    UNIQUE(collection, file_name)
);

CREATE INDEX IF NOT EXISTS idx_archives_order ON archives(collection, received_at, seq);
`

const selectArchives = `SELECT seq, collection, file_name, size, stored_key, received_at FROM archives`

type dbArchive struct {
	Seq        int64  `db:"seq"`
	Collection string `db:"collection"`
	FileName   string `db:"file_name"`
	Size       int64  `db:"size"`
	StoredKey  string `db:"stored_key"`
	ReceivedAt int64  `db:"received_at"`
}

// Index is the bookkeeping of stored archives across all collections
type Index struct {
	db *sqlx.DB
}

func NewIndex(db *sqlx.DB) (*Index, error) {
	if _, err := db.Exec(indexSchema); err != nil {
		return nil, fmt.Errorf("initialize archive index: %w", err)
	}
	return &Index{db: db}, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// Put records a new archive and assigns its Seq. An existing entry with the
// same file name is replaced and returned.
func (idx *Index) Put(a *StoredArchive) (replaced *StoredArchive, err error) {
	tx, err := idx.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin put: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var old dbArchive
	err = tx.Get(&old, selectArchives+` WHERE collection = ? AND file_name = ?`, a.Collection, a.FileName)
	switch {
	case err == nil:
		replaced = old.toStoredArchive()
		if _, err = tx.Exec(`DELETE FROM archives WHERE seq = ?`, old.Seq); err != nil {
			return nil, fmt.Errorf("replace %s: %w", a.FileName, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	default:
		return nil, fmt.Errorf("lookup %s: %w", a.FileName, err)
	}

	res, err := tx.NamedExec(
		`INSERT INTO archives (collection, file_name, size, stored_key, received_at)
		VALUES (:collection, :file_name, :size, :stored_key, :received_at)`,
		fromStoredArchive(a),
	)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", a.FileName, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", a.FileName, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit put: %w", err)
	}
	a.Seq = seq
	return replaced, nil
}

func (idx *Index) Remove(seq int64) error {
	if _, err := idx.db.Exec(`DELETE FROM archives WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("remove %d: %w", seq, err)
	}
	return nil
}

func (idx *Index) UpdateSize(seq, size int64) error {
	if _, err := idx.db.Exec(`UPDATE archives SET size = ? WHERE seq = ?`, size, seq); err != nil {
		return fmt.Errorf("update %d: %w", seq, err)
	}
	return nil
}

// List returns a collection's archives oldest first
func (idx *Index) List(collection string) ([]*StoredArchive, error) {
	return idx.selectMany(selectArchives+` WHERE collection = ? ORDER BY received_at, seq`, collection)
}

// Newest returns up to limit archives newest first
func (idx *Index) Newest(collection string, limit int) ([]*StoredArchive, error) {
	return idx.selectMany(selectArchives+` WHERE collection = ? ORDER BY received_at DESC, seq DESC LIMIT ?`, collection, limit)
}

// Usage returns the number of archives and their total size
func (idx *Index) Usage(collection string) (count int, total int64, err error) {
	var row struct {
		Count int   `db:"n"`
		Total int64 `db:"total"`
	}
	err = idx.db.Get(&row, `SELECT COUNT(*) AS n, COALESCE(SUM(size), 0) AS total FROM archives WHERE collection = ?`, collection)
	if err != nil {
		return 0, 0, fmt.Errorf("usage %s: %w", collection, err)
	}
	return row.Count, row.Total, nil
}

func (idx *Index) selectMany(query string, args ...any) ([]*StoredArchive, error) {
	var rows []dbArchive
	if err := idx.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]*StoredArchive, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toStoredArchive())
	}
	return out, nil
}

func (r *dbArchive) toStoredArchive() *StoredArchive {
	return &StoredArchive{
		Seq:        r.Seq,
		Collection: r.Collection,
		FileName:   r.FileName,
		Size:       r.Size,
		StoredKey:  r.StoredKey,
		ReceivedAt: time.Unix(0, r.ReceivedAt).UTC(),
	}
}

func fromStoredArchive(a *StoredArchive) *dbArchive {
	return &dbArchive{
		Seq:        a.Seq,
		Collection: a.Collection,
		FileName:   a.FileName,
		Size:       a.Size,
		StoredKey:  a.StoredKey,
		ReceivedAt: a.ReceivedAt.UnixNano(),
	}
}
