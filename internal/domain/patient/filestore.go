package patient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// FileStore keeps the patient table in a single CSV file. Writes go to a
// temporary file in the same directory which is then renamed over the
// original, so readers never observe a partial table.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	extras []string // non-canonical columns, in file order, as last seen
}

// NewFileStore returns a store backed by the CSV file at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "patient_store").Str("path", path).Logger(),
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func versionOf(data []byte) Version {
	sum := sha256.Sum256(data)
	return Version(hex.EncodeToString(sum[:]))
}

func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}

	t, err := decodeTable(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}

	records := make([]Record, 0, len(t.rows))
	for i, row := range t.rows {
		r, err := recordFromCells(t.header, row)
		if err != nil {
			return nil, fmt.Errorf("parse %s row %d: %v: %w", s.path, i+1, err, ErrStoreUnavailable)
		}
		records = append(records, r)
	}

	s.mu.Lock()
	s.extras = extraColumns(t.header)
	s.mu.Unlock()

	return &Snapshot{Records: records, Version: versionOf(data)}, nil
}

func (s *FileStore) Save(ctx context.Context, records []Record, expected Version) (Version, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current Version
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		current = versionOf(data)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}
	if current != expected {
		s.logger.Warn().Int("records", len(records)).Msg("rejecting stale save")
		return "", ErrConcurrentModification
	}

	header := append(append([]string{}, Columns...), s.extraHeader(records)...)
	var buf bytes.Buffer
	if err := encodeRecords(&buf, header, records); err != nil {
		return "", fmt.Errorf("encode patient table: %w", err)
	}
	if err := writeFileAtomic(s.path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}

	s.logger.Debug().Int("records", len(records)).Msg("patient table saved")
	return versionOf(buf.Bytes()), nil
}

// extraHeader returns the non-canonical columns to write: those seen on disk
// in their original order, then any others carried by records, sorted.
func (s *FileStore) extraHeader(records []Record) []string {
	seen := make(map[string]bool, len(s.extras))
	out := append([]string{}, s.extras...)
	for _, c := range s.extras {
		seen[c] = true
	}
	var added []string
	for i := range records {
		for k := range records[i].Extra {
			if !seen[k] && !isCanonical(k) {
				seen[k] = true
				added = append(added, k)
			}
		}
	}
	sort.Strings(added)
	return append(out, added...)
}

// extraColumns returns the non-canonical columns of header, first occurrence
// only, in order.
func extraColumns(header []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range header {
		if isCanonical(c) || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
