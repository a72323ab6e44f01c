// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xataio/relnorm/pkg/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalizes the extracted items of a load into relational rows",
	PreRun: func(cmd *cobra.Command, args []string) {
		normalizeFlagBinding(cmd)
		viper.BindPFlag("RELNORM_LOAD_ID", cmd.Flags().Lookup("load-id"))
		viper.BindPFlag("RELNORM_PROGRESS", cmd.Flags().Lookup("progress"))
	},
	RunE: withProfiling(withSignalWatcher(normalizeLoad)),
	Example: `
	relnorm normalize -c relnorm.yaml
	relnorm normalize -c relnorm.yaml --load-id 1700000000.123456 --workers 4 --progress`,
}

var errNoLoads = errors.New("no loads to normalize")

func normalizeLoad(ctx context.Context) error {
	logger := newLogger()

	p, provider, err := newPipeline(logger, pipelineOptions{
		progressTracking: viper.GetBool("RELNORM_PROGRESS"),
	})
	if err != nil {
		return err
	}
	defer provider.Close()

	loadID := viper.GetString("RELNORM_LOAD_ID")
	if loadID == "" {
		status, err := p.Status(ctx)
		if err != nil {
			return err
		}
		if loadID = status.LatestLoad(); loadID == "" {
			return errNoLoads
		}
	}

	result, err := p.Normalize(ctx, loadID)
	if err != nil {
		return fmt.Errorf("normalizing load %s: %w", loadID, err)
	}
	printNormalizeResult(result)
	return nil
}

func printNormalizeResult(result *normalize.Result) {
	pterm.Success.Printfln("normalized load %s in %s", result.LoadID, result.Duration)

	schemas := make([]string, 0, len(result.Schemas))
	for name := range result.Schemas {
		schemas = append(schemas, name)
	}
	sort.Strings(schemas)

	data := pterm.TableData{{"schema", "table", "rows"}}
	for _, name := range schemas {
		sr := result.Schemas[name]
		tables := make([]string, 0, len(sr.Rows))
		for table := range sr.Rows {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			data = append(data, []string{name, table, strconv.FormatInt(sr.Rows[table], 10)})
		}
		pterm.Info.Printfln("schema %s: %d files, %d schema updates, version %d", name, sr.Files, sr.SchemaUpdates, sr.Version)
	}
	if len(data) == 1 {
		return
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		fmt.Println(err) //nolint:forbidigo
	}
}
