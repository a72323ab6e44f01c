// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
)

const (
	fileExtension = "jsonl"
	fileNameSep   = "."
)

// FileName identifies a file of a load package:
// <schema>.<table>.<file id>.jsonl
type FileName struct {
	SchemaName string
	TableName  string
	FileID     string
}

func newFileName(schemaName, table string) FileName {
	return FileName{
		SchemaName: schemaName,
		TableName:  table,
		FileID:     xid.New().String(),
	}
}

func (f FileName) String() string {
	return strings.Join([]string{f.SchemaName, f.TableName, f.FileID, fileExtension}, fileNameSep)
}

// ParseFileName parses the base name of a load package file.
func ParseFileName(path string) (FileName, error) {
	parts := strings.Split(filepath.Base(path), fileNameSep)
	if len(parts) != 4 || parts[3] != fileExtension {
		return FileName{}, fmt.Errorf("%w: %s", ErrInvalidFileName, path)
	}
	for _, p := range parts[:3] {
		if p == "" {
			return FileName{}, fmt.Errorf("%w: %s", ErrInvalidFileName, path)
		}
	}
	return FileName{
		SchemaName: parts[0],
		TableName:  parts[1],
		FileID:     parts[2],
	}, nil
}
