package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
)

// Database keeps the bookstore inventory and library snapshots in SQLite.
type Database struct {
	db *sql.DB

	addStoreBookStmt *sql.Stmt
	saveSnapshotStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addStoreBookStmt != nil {
		d.addStoreBookStmt.Close()
	}
	if d.saveSnapshotStmt != nil {
		d.saveSnapshotStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS store_books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            isbn TEXT NOT NULL UNIQUE,
            title TEXT NOT NULL,
            authors TEXT NOT NULL,
            publisher TEXT NOT NULL,
            publish_date DATETIME,
            page_count INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS snapshots (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            taken_at DATETIME NOT NULL,
            data BLOB NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_name ON snapshots(name, taken_at);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for i, stmt := range stmts {
		var args []any
		if i == len(stmts)-1 {
			args = append(args, schemaVersion)
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addStoreBookStmt, err = d.db.Prepare(`
        INSERT INTO store_books(isbn,title,authors,publisher,publish_date,page_count) VALUES(?,?,?,?,?,?)
        ON CONFLICT(isbn) DO UPDATE SET title=excluded.title, authors=excluded.authors,
            publisher=excluded.publisher, publish_date=excluded.publish_date, page_count=excluded.page_count`); err != nil {
		return err
	}
	if d.saveSnapshotStmt, err = d.db.Prepare(`INSERT INTO snapshots(id,name,taken_at,data) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Bookstore inventory
// ---------------------------------------------------------------------------

// AddStoreBook inserts or updates one purchasable title.
func (d *Database) AddStoreBook(b BookRecord) error {
	authors, err := jsoniter.ConfigFastest.MarshalToString(b.Authors)
	if err != nil {
		return fmt.Errorf("encode authors: %w", err)
	}
	_, err = d.addStoreBookStmt.Exec(b.ISBN, b.Title, authors, b.Publisher, b.PublishDate, b.PageCount)
	return err
}

// ImportStoreBooks loads a books file into the store inventory in one
// transaction and returns how many titles it read.
func (d *Database) ImportStoreBooks(r io.Reader) (int, error) {
	books, err := ParseBooks(r)
	if err != nil {
		return 0, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt := tx.Stmt(d.addStoreBookStmt)
	defer stmt.Close()
	for _, b := range books {
		authors, err := jsoniter.ConfigFastest.MarshalToString(b.Authors)
		if err != nil {
			return 0, fmt.Errorf("encode authors: %w", err)
		}
		if _, err := stmt.Exec(b.ISBN, b.Title, authors, b.Publisher, b.PublishDate, b.PageCount); err != nil {
			return 0, fmt.Errorf("import %s: %w", b.ISBN, err)
		}
	}
	return len(books), tx.Commit()
}

// StoreBooks returns the store inventory in the order it was first imported.
func (d *Database) StoreBooks() ([]BookRecord, error) {
	rows, err := d.db.Query(`SELECT isbn,title,authors,publisher,publish_date,page_count FROM store_books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []BookRecord
	for rows.Next() {
		var (
			b         BookRecord
			authors   string
			published sql.NullTime
		)
		if err := rows.Scan(&b.ISBN, &b.Title, &authors, &b.Publisher, &published, &b.PageCount); err != nil {
			return nil, err
		}
		if err := jsoniter.ConfigFastest.UnmarshalFromString(authors, &b.Authors); err != nil {
			return nil, fmt.Errorf("decode authors of %s: %w", b.ISBN, err)
		}
		if published.Valid {
			b.PublishDate = published.Time.UTC()
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// SaveSnapshot stores s under name. Earlier snapshots with the same name are kept.
func (d *Database) SaveSnapshot(ctx context.Context, name string, s Snapshot) (SnapshotInfo, error) {
	data, err := EncodeSnapshot(s)
	if err != nil {
		return SnapshotInfo{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot id: %w", err)
	}
	info := SnapshotInfo{ID: id.String(), Name: name, TakenAt: s.TakenAt, Size: len(data)}
	if _, err := d.saveSnapshotStmt.ExecContext(ctx, info.ID, name, info.TakenAt, data); err != nil {
		return SnapshotInfo{}, fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return info, nil
}

// LoadSnapshot returns the latest snapshot saved under name.
func (d *Database) LoadSnapshot(ctx context.Context, name string) (Snapshot, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE name=? ORDER BY taken_at DESC, rowid DESC LIMIT 1`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return DecodeSnapshot(data)
}

// ListSnapshots describes every stored snapshot, newest first.
func (d *Database) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,name,taken_at,length(data) FROM snapshots ORDER BY taken_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			takenAt time.Time
		)
		if err := rows.Scan(&info.ID, &info.Name, &takenAt, &info.Size); err != nil {
			return nil, err
		}
		info.TakenAt = takenAt.UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}
