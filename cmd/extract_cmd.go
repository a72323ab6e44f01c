// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xataio/relnorm/pkg/pipeline"
)

var extractCmd = &cobra.Command{
	Use:    "extract",
	Short:  "Extracts the items of json documents into a new load of the load package",
	PreRun: inputFlagBinding,
	RunE:   withSignalWatcher(extract),
	Example: `
	relnorm extract -c relnorm.yaml --input orders.json --resource orders
	relnorm extract -c relnorm.env --input events.jsonl --items-path data.events
	cat orders.json | relnorm extract -c relnorm.yaml --input -`,
}

func extract(ctx context.Context) error {
	logger := newLogger()

	p, provider, err := newPipeline(logger, pipelineOptions{})
	if err != nil {
		return err
	}
	defer provider.Close()

	sources, err := inputSources(p, viper.GetStringSlice("RELNORM_INPUT"), false)
	if err != nil {
		return err
	}

	result, err := p.Extract(ctx, sources...)
	if err != nil {
		return err
	}
	printExtractResult(result)
	return nil
}

func printExtractResult(result *pipeline.ExtractResult) {
	pterm.Success.Printfln("extracted load %s into schema %s", result.LoadID, result.SchemaName)
	if len(result.TableCounts) == 0 {
		pterm.Info.Println("no items were extracted")
		return
	}

	tables := make([]string, 0, len(result.TableCounts))
	for table := range result.TableCounts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	data := pterm.TableData{{"table", "items"}}
	for _, table := range tables {
		data = append(data, []string{table, strconv.Itoa(result.TableCounts[table])})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		fmt.Println(err) //nolint:forbidigo
	}
}
