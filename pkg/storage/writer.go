// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/xataio/relnorm/internal/json"
	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/schema"
)

var (
	_ ItemStorage = (*ItemWriter)(nil)
	_ RowStorage  = (*RowWriter)(nil)
)

// ItemWriter writes extracted items to the load package, one file per load
// and table.
type ItemWriter struct {
	files *fileWriters
}

func (w *ItemWriter) WriteDataItem(loadID, schemaName, table string, items []any) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	line, err := json.Marshal(items)
	if err != nil {
		return 0, fmt.Errorf("encoding items of table %s: %w", table, err)
	}
	if err := w.files.writeLine(writerKey{loadID, schemaName, table}, line, int64(len(items))); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (w *ItemWriter) WriteEmptyItemsFile(loadID, schemaName, table string) error {
	_, err := w.files.get(writerKey{loadID, schemaName, table})
	return err
}

func (w *ItemWriter) Metrics() map[string]WriterMetrics {
	return w.files.metrics()
}

func (w *ItemWriter) Close() error {
	return w.files.close()
}

// RowWriter writes normalized rows to the load package. Row columns are
// written in the order of the table columns, unknown columns last.
type RowWriter struct {
	files *fileWriters
}

func (w *RowWriter) WriteRow(loadID, schemaName, table string, row schema.Row, columns *schema.Columns) error {
	line, err := encodeRow(row, columns)
	if err != nil {
		return fmt.Errorf("encoding row of table %s: %w", table, err)
	}
	return w.files.writeLine(writerKey{loadID, schemaName, table}, line, 1)
}

func (w *RowWriter) WriteEmptyTable(loadID, schemaName, table string, _ *schema.Columns) error {
	_, err := w.files.get(writerKey{loadID, schemaName, table})
	return err
}

func (w *RowWriter) Metrics() map[string]WriterMetrics {
	return w.files.metrics()
}

func (w *RowWriter) Close() error {
	return w.files.close()
}

func encodeRow(row schema.Row, columns *schema.Columns) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	written := make(map[string]struct{}, len(row))
	writeField := func(name string, value any) error {
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		if len(written) > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(v)
		written[name] = struct{}{}
		return nil
	}

	if columns != nil {
		for _, name := range columns.Names() {
			if v, found := row[name]; found {
				if err := writeField(name, v); err != nil {
					return nil, err
				}
			}
		}
	}
	remaining := make([]string, 0, len(row)-len(written))
	for name := range row {
		if _, found := written[name]; !found {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)
	for _, name := range remaining {
		if err := writeField(name, row[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type writerKey struct {
	loadID     string
	schemaName string
	table      string
}

type fileWriter struct {
	file    afero.File
	buf     *bufio.Writer
	metrics WriterMetrics
}

// fileWriters keeps one open buffered file per load and table. It is not
// safe for concurrent use.
type fileWriters struct {
	fs     afero.Fs
	clock  clockwork.Clock
	logger loglib.Logger
	dirFn  func(loadID string) string
	files  map[writerKey]*fileWriter
	closed bool
}

func (w *fileWriters) get(key writerKey) (*fileWriter, error) {
	if w.closed {
		return nil, ErrStorageClosed
	}
	if key.table == "" {
		return nil, ErrEmptyTableName
	}
	if fw, found := w.files[key]; found {
		return fw, nil
	}

	dir := w.dirFn(key.loadID)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, newFileName(key.schemaName, key.table).String())
	f, err := w.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	w.logger.Debug("file created", loglib.Fields{
		loglib.LoadIDField: key.loadID,
		loglib.TableField:  key.table,
		loglib.FileField:   path,
	})

	fw := &fileWriter{
		file:    f,
		buf:     bufio.NewWriter(f),
		metrics: WriterMetrics{CreatedAt: w.clock.Now()},
	}
	w.files[key] = fw
	return fw, nil
}

func (w *fileWriters) writeLine(key writerKey, line []byte, items int64) error {
	fw, err := w.get(key)
	if err != nil {
		return err
	}
	if _, err := fw.buf.Write(line); err != nil {
		return fmt.Errorf("writing table %s: %w", key.table, err)
	}
	if err := fw.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing table %s: %w", key.table, err)
	}
	fw.metrics = fw.metrics.add(items, int64(len(line)+1))
	return nil
}

// metrics returns the metrics aggregated per table.
func (w *fileWriters) metrics() map[string]WriterMetrics {
	metrics := make(map[string]WriterMetrics, len(w.files))
	for key, fw := range w.files {
		m, found := metrics[key.table]
		if !found {
			m.CreatedAt = fw.metrics.CreatedAt
		}
		if fw.metrics.CreatedAt.Before(m.CreatedAt) {
			m.CreatedAt = fw.metrics.CreatedAt
		}
		metrics[key.table] = m.add(fw.metrics.ItemsCount, fw.metrics.FileSize)
	}
	return metrics
}

func (w *fileWriters) close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs error
	for key, fw := range w.files {
		if err := fw.buf.Flush(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("flushing table %s: %w", key.table, err))
		}
		if err := fw.file.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("closing table %s: %w", key.table, err))
		}
	}
	return errs
}
