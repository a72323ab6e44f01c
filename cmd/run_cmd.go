// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run extracts the input documents into a new load and normalizes it",
	PreRun: func(cmd *cobra.Command, args []string) {
		inputFlagBinding(cmd, args)
		normalizeFlagBinding(cmd)
		viper.BindPFlag("RELNORM_PROGRESS", cmd.Flags().Lookup("progress"))
	},
	RunE: withProfiling(withSignalWatcher(run)),
	Example: `
	relnorm run --config relnorm.yaml --input orders.json --resource orders
	relnorm run --config relnorm.env --input events.jsonl --workers 4 --progress
	relnorm run --config relnorm.yaml --log-level debug --input orders.json --profile`,
}

func run(ctx context.Context) error {
	logger := newLogger()

	showProgress := viper.GetBool("RELNORM_PROGRESS")
	p, provider, err := newPipeline(logger, pipelineOptions{
		progressTracking: showProgress,
	})
	if err != nil {
		return err
	}
	defer provider.Close()

	sources, err := inputSources(p, viper.GetStringSlice("RELNORM_INPUT"), showProgress)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx, sources...)
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}
	printExtractResult(result.Extract)
	printNormalizeResult(result.Normalize)
	return nil
}
