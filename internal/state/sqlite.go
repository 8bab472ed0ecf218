package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appErrors "updatecheck/internal/errors"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteOpTimeout = 5 * time.Second

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS check_state (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	last_check_timestamp REAL    NOT NULL DEFAULT 0,
	last_check_human     TEXT    NOT NULL DEFAULT '',
	frequency            TEXT    NOT NULL DEFAULT '0',
	latest_version       TEXT,
	last_update_date     TEXT    NOT NULL DEFAULT '',
	repo_url             TEXT    NOT NULL DEFAULT '',
	project_name         TEXT    NOT NULL DEFAULT '',
	note                 TEXT    NOT NULL DEFAULT ''
)`

// SQLiteStore keeps the record as the single row of the check_state table.
// Writes run inside a transaction, so readers never see a partial record.
type SQLiteStore struct {
	dbPath string
	dsn    string
	logger *log.Logger
}

// NewSQLiteStore returns a store backed by the SQLite database at dbPath.
// The database is not opened until the first Load or Save.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(dbPath)
	if trimmed == "" {
		return nil, errors.New("state database path is required")
	}
	o := buildOptions(opts)
	return &SQLiteStore{
		dbPath: trimmed,
		dsn:    buildSQLiteDSN(trimmed),
		logger: o.logger,
	}, nil
}

// buildSQLiteDSN creates a WAL DSN with a busy timeout so concurrent
// processes wait for each other instead of failing.
func buildSQLiteDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Location returns the database path.
func (s *SQLiteStore) Location() string { return s.dbPath }

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(createIfMissing bool) (Record, error) {
	if _, err := os.Stat(s.dbPath); errors.Is(err, fs.ErrNotExist) {
		if !createIfMissing {
			return Default(), nil
		}
		s.logger.Debug("state database not found, creating default", "path", s.dbPath)
		rec := Default()
		return rec, s.Save(rec)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	db, err := openDB(ctx, s.dsn)
	if err != nil {
		return s.corrupt(err), nil
	}
	defer func() {
		_ = db.Close()
	}()

	var (
		rec       Record
		frequency string
		version   sql.NullString
	)
	err = db.QueryRowContext(ctx, `
		SELECT last_check_timestamp, last_check_human, frequency, latest_version,
		       last_update_date, repo_url, project_name, note
		FROM check_state
		WHERE id = 1
	`).Scan(
		&rec.LastCheckTimestamp,
		&rec.LastCheckHumanReadable,
		&frequency,
		&version,
		&rec.LastUpdateDate,
		&rec.RepoURL,
		&rec.ProjectName,
		&rec.Note,
	)
	if errors.Is(err, sql.ErrNoRows) || (err != nil && strings.Contains(err.Error(), "no such table")) {
		return Default(), nil
	}
	if err != nil {
		return s.corrupt(err), nil
	}
	freq, err := ParseFrequency(frequency)
	if err != nil {
		return s.corrupt(err), nil
	}
	rec.Frequency = freq
	if version.Valid {
		rec.LatestVersion = StringPtr(version.String)
	}
	rec.normalize()
	return rec, nil
}

func (s *SQLiteStore) corrupt(err error) Record {
	cerr := appErrors.New(appErrors.CodeCorruptLocalCache, fmt.Sprintf("read %s", s.dbPath), err)
	s.logger.Warn("ignoring unreadable state database", append(appErrors.Fields(cerr), "path", s.dbPath)...)
	return Default()
}

// Save implements Store. A database that SQLite cannot read is replaced
// by a fresh one holding only rec.
func (s *SQLiteStore) Save(rec Record) error {
	rec.normalize()

	//nolint:gosec // G301: state directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return appErrors.New(appErrors.CodeStateIO, "create state directory", err)
	}

	err := writeRecord(s.dsn, rec)
	if err == nil {
		return nil
	}
	if !isCorruptDatabase(err) {
		return appErrors.New(appErrors.CodeStateIO, fmt.Sprintf("write %s", s.dbPath), err)
	}

	s.logger.Warn("replacing unreadable state database", "path", s.dbPath, "err", err)
	if err := s.rebuild(rec); err != nil {
		return appErrors.New(appErrors.CodeStateIO, fmt.Sprintf("rebuild %s", s.dbPath), err)
	}
	return nil
}

// rebuild writes rec into a new database next to dbPath and renames it
// into place, the same way FileStore replaces its JSON file.
func (s *SQLiteStore) rebuild(rec Record) error {
	dir := filepath.Dir(s.dbPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.dbPath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			removeDatabaseFiles(tmpName)
		}
	}()

	if err := writeRecord(buildSQLiteDSN(tmpName), rec); err != nil {
		return err
	}
	// Side files of the unreadable database must not be replayed onto
	// the new one.
	for _, p := range []string{s.dbPath + "-wal", s.dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(tmpName, s.dbPath); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

func writeRecord(dsn string, rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	db, err := openDB(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create check_state table: %w", err)
	}

	var version any
	if rec.LatestVersion != nil {
		version = *rec.LatestVersion
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO check_state (
			id, last_check_timestamp, last_check_human, frequency, latest_version,
			last_update_date, repo_url, project_name, note
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_check_timestamp = excluded.last_check_timestamp,
			last_check_human     = excluded.last_check_human,
			frequency            = excluded.frequency,
			latest_version       = excluded.latest_version,
			last_update_date     = excluded.last_update_date,
			repo_url             = excluded.repo_url,
			project_name         = excluded.project_name,
			note                 = excluded.note
	`,
		rec.LastCheckTimestamp,
		rec.LastCheckHumanReadable,
		rec.Frequency.String(),
		version,
		rec.LastUpdateDate,
		rec.RepoURL,
		rec.ProjectName,
		rec.Note,
	)
	if err != nil {
		return fmt.Errorf("write check_state row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state transaction: %w", err)
	}
	return nil
}

// isCorruptDatabase reports whether err means the file is not a usable
// SQLite database (SQLITE_NOTADB or SQLITE_CORRUPT), as opposed to a
// transient failure such as a busy lock.
func isCorruptDatabase(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed")
}

func removeDatabaseFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// Remove deletes the database and its WAL side files.
func (s *SQLiteStore) Remove() error {
	for _, p := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
