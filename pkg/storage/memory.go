// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"maps"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/xataio/relnorm/pkg/schema"
)

// MemoryStorage keeps items and rows in memory, per table. It implements
// both ItemStorage and RowStorage and is safe for concurrent use.
type MemoryStorage struct {
	mutex       sync.RWMutex
	clock       clockwork.Clock
	items       map[string][]any
	rows        map[string][]schema.Row
	emptyTables map[string]struct{}
	metrics     map[string]WriterMetrics
	closed      bool
}

var (
	_ ItemStorage = (*MemoryStorage)(nil)
	_ RowStorage  = (*MemoryStorage)(nil)
)

func NewMemoryStorage(clock clockwork.Clock) *MemoryStorage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStorage{
		clock:       clock,
		items:       map[string][]any{},
		rows:        map[string][]schema.Row{},
		emptyTables: map[string]struct{}{},
		metrics:     map[string]WriterMetrics{},
	}
}

func (m *MemoryStorage) WriteDataItem(_, _, table string, items []any) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(table); err != nil {
		return 0, err
	}
	m.items[table] = append(m.items[table], items...)
	m.track(table, int64(len(items)))
	return len(items), nil
}

func (m *MemoryStorage) WriteEmptyItemsFile(_, _, table string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(table); err != nil {
		return err
	}
	m.emptyTables[table] = struct{}{}
	m.track(table, 0)
	return nil
}

func (m *MemoryStorage) WriteRow(_, _, table string, row schema.Row, _ *schema.Columns) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.check(table); err != nil {
		return err
	}
	m.rows[table] = append(m.rows[table], maps.Clone(row))
	m.track(table, 1)
	return nil
}

func (m *MemoryStorage) WriteEmptyTable(_, _, table string, _ *schema.Columns) error {
	return m.WriteEmptyItemsFile("", "", table)
}

func (m *MemoryStorage) Metrics() map[string]WriterMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return maps.Clone(m.metrics)
}

func (m *MemoryStorage) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}

// Items returns the items written for the table.
func (m *MemoryStorage) Items(table string) []any {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]any(nil), m.items[table]...)
}

// Rows returns the rows written for the table.
func (m *MemoryStorage) Rows(table string) []schema.Row {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]schema.Row(nil), m.rows[table]...)
}

// Tables returns the names of the tables written to, including empty ones.
func (m *MemoryStorage) Tables() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	tables := make([]string, 0, len(m.metrics))
	for table := range m.metrics {
		tables = append(tables, table)
	}
	return tables
}

// IsEmpty reports whether the table was written as empty and got no data.
func (m *MemoryStorage) IsEmpty(table string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, empty := m.emptyTables[table]
	return empty && len(m.items[table]) == 0 && len(m.rows[table]) == 0
}

func (m *MemoryStorage) check(table string) error {
	if m.closed {
		return ErrStorageClosed
	}
	if table == "" {
		return ErrEmptyTableName
	}
	return nil
}

func (m *MemoryStorage) track(table string, items int64) {
	metrics, found := m.metrics[table]
	if !found {
		metrics.CreatedAt = m.clock.Now()
	}
	m.metrics[table] = metrics.add(items, 0)
}
