// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"time"

	"github.com/xataio/relnorm/pkg/schema"
)

// ItemStorage receives the raw items of a load at extraction time, buffered
// per table until they are normalized. Implementations are not safe for
// concurrent use unless stated otherwise.
type ItemStorage interface {
	WriteDataItem(loadID, schemaName, table string, items []any) (int, error)
	// WriteEmptyItemsFile records that the table was extracted with no items.
	WriteEmptyItemsFile(loadID, schemaName, table string) error
	Close() error
}

// RowStorage receives the normalized rows of a load.
type RowStorage interface {
	WriteRow(loadID, schemaName, table string, row schema.Row, columns *schema.Columns) error
	// WriteEmptyTable makes sure the table is created with its columns even
	// though no rows were written.
	WriteEmptyTable(loadID, schemaName, table string, columns *schema.Columns) error
	Metrics() map[string]WriterMetrics
	Close() error
}

// WriterMetrics accumulate what was written for one table.
type WriterMetrics struct {
	ItemsCount int64
	FileSize   int64
	CreatedAt  time.Time
}

func (m WriterMetrics) add(items, size int64) WriterMetrics {
	m.ItemsCount += items
	m.FileSize += size
	return m
}

var (
	ErrInvalidFileName  = errors.New("invalid load package file name")
	ErrLoadNotFound     = errors.New("load package not found")
	ErrStorageClosed    = errors.New("storage closed")
	ErrEmptyTableName   = errors.New("empty table name")
	ErrInvalidItemsLine = errors.New("invalid items line")
)
