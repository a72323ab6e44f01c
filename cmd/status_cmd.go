// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/xataio/relnorm/internal/json"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the stored pipeline schema and the loads of the load package",
	RunE: func(cmd *cobra.Command, args []string) error {
		sp, _ := pterm.DefaultSpinner.WithText("checking relnorm status...").Start()

		p, provider, err := newPipeline(newLogger(), pipelineOptions{})
		if err != nil {
			sp.Fail(err.Error())
			return err
		}
		defer provider.Close()

		status, err := p.Status(context.Background())
		if err != nil {
			sp.Fail(err.Error())
			return err
		}

		statusErrs := status.GetErrors()
		if len(statusErrs) == 0 {
			sp.Success("relnorm status check encountered no issues")
		} else {
			components := make([]string, 0, len(statusErrs))
			for component := range statusErrs {
				components = append(components, component)
			}
			sort.Strings(components)
			sp.Warning("relnorm status check identified issues with ", strings.Join(components, ", "))
		}

		if err := print(cmd, status); err != nil {
			sp.Fail("failed to format relnorm status")
			return err
		}

		return nil
	},
	Example: `
	relnorm status -c relnorm.env
	relnorm status -c relnorm.yaml --json
	relnorm status --storage-dir ./loads`,
}

type printer interface {
	PrettyPrint() string
}

func print(cmd *cobra.Command, p printer) error {
	str := p.PrettyPrint()
	if boolFlag(cmd.Flags(), "json") {
		jsonData, err := json.MarshalIndent(p, "", "\t")
		if err != nil {
			return err
		}
		str = string(jsonData)
	}

	fmt.Println(str) //nolint:forbidigo
	return nil
}
