package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PatchLens/tracepoint-inject/inject"
)

func newRestoreCommand() *cobra.Command {
	config := &inject.Config{}
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Undo in-place instrumentation using the " + inject.BackupSuffix + " backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runner := inject.NewRunner(config)
			runner.Logger = newLogger(cmd)
			restored, err := runner.Restore(cmd.Context())
			for _, path := range restored {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "restored "+path)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&config.ProjectDir, "project", ".", "Path to the project directory")
	return cmd
}
