package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"

	"github.com/charmbracelet/log"
)

// Store loads and saves the check state record.
type Store interface {
	// Load reads the persisted record. A missing backing store yields
	// Default(); it is created only when createIfMissing is true. Corrupt
	// content is logged and also yields Default() without touching it.
	Load(createIfMissing bool) (Record, error)
	// Save replaces the persisted record. Concurrent readers observe either
	// the previous or the new record, never a partial one.
	Save(Record) error
	// Location identifies the backing store, e.g. its file path.
	Location() string
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger routes diagnostics to logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = debug.Logger()
	}
	return o
}

// FileStore keeps the record as a pretty-printed JSON file.
type FileStore struct {
	path   string
	logger *log.Logger
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state path is required")
	}
	o := buildOptions(opts)
	return &FileStore{path: path, logger: o.logger}, nil
}

// Location returns the JSON file path.
func (s *FileStore) Location() string { return s.path }

// Load implements Store.
func (s *FileStore) Load(createIfMissing bool) (Record, error) {
	//nolint:gosec // G304: state path comes from configuration
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if !createIfMissing {
			return Default(), nil
		}
		s.logger.Debug("state file not found, creating default", "path", s.path)
		rec := Default()
		if err := s.Save(rec); err != nil {
			return rec, err
		}
		return rec, nil
	}
	if err != nil {
		return Default(), appErrors.New(appErrors.CodeStateIO, fmt.Sprintf("read %s", s.path), err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		cerr := appErrors.New(appErrors.CodeCorruptLocalCache, fmt.Sprintf("decode %s", s.path), err)
		s.logger.Warn("ignoring corrupt state file", append(appErrors.Fields(cerr), "path", s.path)...)
		return Default(), nil
	}
	return rec, nil
}

// Save implements Store.
func (s *FileStore) Save(rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return appErrors.New(appErrors.CodeStateIO, fmt.Sprintf("write %s", s.path), err)
	}
	return nil
}

// Remove deletes the state file. The checker never calls it; it exists for
// operators resetting the cache.
func (s *FileStore) Remove() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func encodeRecord(rec Record) ([]byte, error) {
	rec.normalize()
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if len(bytes.TrimSpace(data)) == 0 {
		return rec, errors.New("empty state file")
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	rec.normalize()
	return rec, nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	//nolint:gosec // G301: state directory needs standard permissions
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes directory metadata. Best effort: not every platform
// supports syncing a directory handle.
func syncDir(dir string) {
	//nolint:gosec // G304: directory of the state file
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

var _ Store = (*FileStore)(nil)
