// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/xataio/relnorm/pkg/normalizers/relational"
	"github.com/xataio/relnorm/pkg/schema"
	"github.com/xataio/relnorm/pkg/schema/file"
)

// ValidationStatus reports the problems found with a schema, either stored
// in a file or built from the pipeline configuration.
type ValidationStatus struct {
	Schema     string   `json:"schema,omitempty"`
	Version    int      `json:"version,omitempty"`
	DataTables []string `json:"data_tables,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// ValidateSchemaFile checks that the schema file can be loaded and that its
// normalizer configuration is valid.
func ValidateSchemaFile(fsys afero.Fs, path string) *ValidationStatus {
	sc, err := file.LoadFile(fsys, path)
	if err != nil {
		return &ValidationStatus{Errors: []string{err.Error()}}
	}
	return validateSchema(sc)
}

// Validate checks the pipeline schema, as loaded from the store or created
// from the configuration, with the configured normalizer settings merged in.
func (p *Pipeline) Validate(ctx context.Context) *ValidationStatus {
	sc, err := p.Schema(ctx)
	if err != nil {
		return &ValidationStatus{
			Schema: p.config.schemaName(),
			Errors: []string{err.Error()},
		}
	}
	return validateSchema(sc)
}

func validateSchema(sc *schema.Schema) *ValidationStatus {
	status := &ValidationStatus{
		Schema:     sc.Name(),
		Version:    sc.Version(),
		DataTables: sc.DataTableNames(),
	}
	if _, err := relational.GetNormalizerConfig(sc); err != nil {
		status.Errors = append(status.Errors, fmt.Sprintf("normalizer config: %v", err))
	}
	for _, name := range sc.TableNames() {
		if _, err := sc.RootTable(name); err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("table %s: %v", name, err))
		}
	}
	return status
}

func (vs *ValidationStatus) PrettyPrint() string {
	if vs == nil {
		return ""
	}

	var prettyPrint strings.Builder
	if vs.Schema != "" {
		prettyPrint.WriteString(fmt.Sprintf("Schema name: %s\n", vs.Schema))
		prettyPrint.WriteString(fmt.Sprintf("Schema version: %d\n", vs.Version))
		prettyPrint.WriteString(fmt.Sprintf("Schema data tables: %v", vs.DataTables))
	}
	if len(vs.Errors) > 0 {
		if prettyPrint.Len() > 0 {
			prettyPrint.WriteByte('\n')
		}
		prettyPrint.WriteString(fmt.Sprintf("Schema errors: %v", vs.Errors))
	}
	return prettyPrint.String()
}
