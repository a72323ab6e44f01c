// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// Status describes the stored pipeline schema and the loads of the load
// package.
type Status struct {
	Schema *SchemaStatus `json:"schema"`
	Loads  []*LoadStatus `json:"loads"`
}

type SchemaStatus struct {
	Name       string   `json:"name"`
	Exists     bool     `json:"exists"`
	Version    int      `json:"version,omitempty"`
	DataTables []string `json:"data_tables,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

type LoadStatus struct {
	LoadID          string   `json:"load_id"`
	ExtractedFiles  int      `json:"extracted_files"`
	NormalizedFiles int      `json:"normalized_files"`
	Errors          []string `json:"errors,omitempty"`
}

// Status returns the status of the pipeline schema and its loads. Problems
// found with a load or the schema are reported in the status errors.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	schemaStatus, err := p.schemaStatus(ctx)
	if err != nil {
		return nil, err
	}

	loadIDs, err := p.pkg.ListLoads()
	if err != nil {
		return nil, err
	}
	status := &Status{
		Schema: schemaStatus,
		Loads:  make([]*LoadStatus, 0, len(loadIDs)),
	}
	for _, loadID := range loadIDs {
		status.Loads = append(status.Loads, p.loadStatus(loadID))
	}
	return status, nil
}

func (p *Pipeline) schemaStatus(ctx context.Context) (*SchemaStatus, error) {
	name := p.config.schemaName()
	exists, err := p.store.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("checking schema %s: %w", name, err)
	}
	status := &SchemaStatus{Name: name, Exists: exists}
	if !exists {
		return status, nil
	}

	sc, err := p.store.Load(ctx, name)
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
		return status, nil
	}
	status.Version = sc.Version()
	status.DataTables = sc.DataTableNames()
	return status, nil
}

func (p *Pipeline) loadStatus(loadID string) *LoadStatus {
	status := &LoadStatus{LoadID: loadID}
	extracted, err := p.pkg.ListExtractedFiles(loadID)
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
	}
	normalized, err := p.pkg.ListNormalizedFiles(loadID)
	if err != nil {
		status.Errors = append(status.Errors, err.Error())
	}
	status.ExtractedFiles = len(extracted)
	status.NormalizedFiles = len(normalized)
	return status
}

// LatestLoad returns the most recent load id, or an empty string when there
// are no loads.
func (s *Status) LatestLoad() string {
	if s == nil || len(s.Loads) == 0 {
		return ""
	}
	return s.Loads[len(s.Loads)-1].LoadID
}

// GetErrors aggregates the errors of the schema and the loads, keyed by
// component.
func (s *Status) GetErrors() map[string][]string {
	if s == nil {
		return nil
	}
	errs := map[string][]string{}
	if s.Schema != nil && len(s.Schema.Errors) > 0 {
		errs["schema"] = s.Schema.Errors
	}
	for _, load := range s.Loads {
		if len(load.Errors) > 0 {
			errs["load "+load.LoadID] = load.Errors
		}
	}
	return errs
}

func (s *Status) PrettyPrint() string {
	if s == nil {
		return ""
	}

	var prettyPrint strings.Builder
	prettyPrint.WriteString(s.Schema.PrettyPrint())
	if len(s.Loads) == 0 {
		prettyPrint.WriteString("\nNo loads")
		return prettyPrint.String()
	}
	for _, load := range s.Loads {
		prettyPrint.WriteByte('\n')
		prettyPrint.WriteString(load.PrettyPrint())
	}
	return prettyPrint.String()
}

func (ss *SchemaStatus) PrettyPrint() string {
	if ss == nil {
		return ""
	}

	var prettyPrint strings.Builder
	prettyPrint.WriteString(fmt.Sprintf("Schema name: %s\n", ss.Name))
	prettyPrint.WriteString(fmt.Sprintf("Schema exists: %t", ss.Exists))
	if ss.Exists && len(ss.Errors) == 0 {
		prettyPrint.WriteString(fmt.Sprintf("\nSchema version: %d", ss.Version))
		prettyPrint.WriteString(fmt.Sprintf("\nSchema data tables: %v", ss.DataTables))
	}
	if len(ss.Errors) > 0 {
		prettyPrint.WriteString(fmt.Sprintf("\nSchema errors: %v", ss.Errors))
	}
	return prettyPrint.String()
}

func (ls *LoadStatus) PrettyPrint() string {
	if ls == nil {
		return ""
	}

	state := "extracted"
	if ls.NormalizedFiles > 0 {
		state = "normalized"
	}
	var prettyPrint strings.Builder
	prettyPrint.WriteString(fmt.Sprintf("Load %s: %s (extracted files: %d, normalized files: %d)",
		ls.LoadID, state, ls.ExtractedFiles, ls.NormalizedFiles))
	if len(ls.Errors) > 0 {
		prettyPrint.WriteString(fmt.Sprintf("\nLoad %s errors: %v", ls.LoadID, ls.Errors))
	}
	return prettyPrint.String()
}
