package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PatchLens/tracepoint-inject/inject"
)

func newReportCommand() *cobra.Command {
	var jsonFile, chartsFile string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a run report and optionally render its overview chart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jsonFile == "" {
				return errors.New("--json is required")
			}
			report, err := inject.ReadReportMetrics(jsonFile)
			if err != nil {
				return err
			} else if err := report.WriteCharts(chartsFile); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.String())
			if err == nil && chartsFile != "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Report file wrote: "+chartsFile)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&jsonFile, "json", "tpreport.json", "Report file written by run")
	cmd.Flags().StringVar(&chartsFile, "charts", "", "File to output the overview chart image (.png, .jpg, .svg)")
	return cmd
}
