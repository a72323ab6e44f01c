// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xataio/relnorm/pkg/pipeline"
)

// parent command for validation subcommands
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the relnorm configuration and schema files",
}

var errNoSchemaFile = errors.New("schema file is required for schema validation")

var validateSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Validates a schema yaml file and its normalizer configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, _ := pterm.DefaultSpinner.WithText("validating relnorm schema...").Start()

		err := func() error {
			path := cmd.Flags().Lookup("file").Value.String()
			if path == "" {
				return errNoSchemaFile
			}
			return reportValidation(cmd, sp, pipeline.ValidateSchemaFile(afero.NewOsFs(), path))
		}()
		if err != nil {
			sp.Fail(err.Error())
		}

		return err
	},
	Example: `
	relnorm validate schema --file .relnorm/schemas/shop.schema.yaml
	relnorm validate schema -f shop.schema.yaml --json
	`,
}

var validateConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Validates the pipeline configuration against the stored schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, _ := pterm.DefaultSpinner.WithText("validating relnorm configuration...").Start()

		err := func() error {
			p, provider, err := newPipeline(newLogger(), pipelineOptions{})
			if err != nil {
				return err
			}
			defer provider.Close()

			return reportValidation(cmd, sp, p.Validate(context.Background()))
		}()
		if err != nil {
			sp.Fail(err.Error())
		}

		return err
	},
	Example: `
	relnorm validate config -c relnorm.yaml
	relnorm validate config -c relnorm.env --json
	`,
}

func reportValidation(cmd *cobra.Command, sp *pterm.SpinnerPrinter, status *pipeline.ValidationStatus) error {
	if len(status.Errors) == 0 {
		sp.Success("schema is valid")
	} else {
		sp.Warning("relnorm validation check identified issues: ", strings.Join(status.Errors, ", "))
	}

	if err := print(cmd, status); err != nil {
		return fmt.Errorf("failed to format relnorm validation status: %w", err)
	}
	return nil
}
