package patient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
)

// EnsureSchema makes the backing file canonical. A missing file is created with
// the canonical header and no rows. An existing file gains any missing
// canonical column (empty for every row) and has its columns reordered so the
// canonical set leads, followed by any other columns in their original order.
// A file that is already canonical is left byte-for-byte untouched.
func (s *FileStore) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		var buf bytes.Buffer
		if err := encodeTable(&buf, Columns, nil); err != nil {
			return err
		}
		if err := writeFileAtomic(s.path, buf.Bytes()); err != nil {
			return fmt.Errorf("create %s: %v: %w", s.path, err, ErrStoreUnavailable)
		}
		s.logger.Info().Msg("created empty patient table")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}

	t, err := decodeTable(data)
	if errors.Is(err, errNoHeader) {
		t = &table{}
	} else if err != nil {
		return fmt.Errorf("parse %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}

	fixed, changed := conform(t)
	if !changed {
		return nil
	}

	var buf bytes.Buffer
	if err := encodeTable(&buf, fixed.header, fixed.rows); err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("rewrite %s: %v: %w", s.path, err, ErrStoreUnavailable)
	}
	s.extras = extraColumns(fixed.header)

	s.logger.Info().
		Strs("old_header", t.header).
		Strs("new_header", fixed.header).
		Int("rows", len(fixed.rows)).
		Msg("upgraded patient table schema")
	return nil
}

// conform lays t out under the canonical header. It reports whether anything
// differs from the input: header content or order, or a row whose width does
// not match the header.
func conform(t *table) (*table, bool) {
	header := append(append([]string{}, Columns...), extraColumns(t.header)...)

	// first occurrence of each column in the input
	src := make(map[string]int, len(t.header))
	for i, c := range t.header {
		if _, ok := src[c]; !ok {
			src[c] = i
		}
	}

	changed := len(header) != len(t.header)
	for i := 0; !changed && i < len(header); i++ {
		changed = header[i] != t.header[i]
	}
	for _, row := range t.rows {
		if len(row) != len(header) {
			changed = true
			break
		}
	}
	if !changed {
		return t, false
	}

	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		out := make([]string, len(header))
		for j, col := range header {
			if k, ok := src[col]; ok && k < len(row) {
				out[j] = row[k]
			}
		}
		rows[i] = out
	}
	return &table{header: header, rows: rows}, true
}
