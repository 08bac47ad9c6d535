package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/PatchLens/tracepoint-inject/inject"
)

// NewRootCommand builds the tpinject command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tpinject",
		Short:         "Inject tracepoint calls into JavaScript and TypeScript sources",
		Version:       inject.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("verbose", false, "Log every instrumented file")
	root.AddCommand(newRunCommand(), newPreviewCommand(), newRestoreCommand(), newReportCommand(), newCacheCommand())
	return root
}

// Execute runs the command tree with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
