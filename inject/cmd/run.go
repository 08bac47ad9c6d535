package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/PatchLens/tracepoint-inject/inject"
)

func newRunCommand() *cobra.Command {
	config := &inject.Config{}
	var moduleMode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Instrument every project file matched by the declaration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.ModuleMode = inject.ModuleMode(moduleMode)
			runner := inject.NewRunner(config)
			runner.Logger = newLogger(cmd)
			report, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&config.ProjectDir, "project", ".", "Path to the project directory")
	flags.StringVarP(&config.DeclarationsFile, "decls", "d", "", "Tracepoint declaration file (.yaml, .toml or .json)")
	flags.StringVar(&config.OutDir, "out", "", "Directory to write instrumented copies to")
	flags.BoolVar(&config.InPlace, "inplace", false, "Rewrite project files, keeping "+inject.BackupSuffix+" backups for restore")
	flags.BoolVar(&config.SourceMaps, "sourcemaps", false, "Write source maps for instrumented files")
	flags.BoolVar(&config.SourcesContent, "sources-content", false, "Embed the original source in source maps")
	flags.StringVar(&config.TraceFunction, "trace-fn", "", "Function called by injected statements (default from declarations, then "+inject.DefaultTraceFunction+")")
	flags.StringVar(&moduleMode, "module-mode", string(inject.ModuleModeModule), "Parse sources as: module (default), script")
	flags.StringVar(&config.CacheDir, "cache", "", "Directory of the persistent result cache, disabled when empty")
	flags.IntVar(&config.CacheMB, "cachemb", 200, "Cache memory budget in MB")
	flags.StringSliceVar(&config.Include, "include", nil, "Only instrument project paths matching these patterns")
	flags.StringVar(&config.ReportJsonFile, "json", "tpreport.json", "File to output run details")
	flags.StringVar(&config.ReportChartsFile, "charts", "", "File to output the run overview chart image (.png, .jpg, .svg)")
	_ = cmd.MarkFlagRequired("decls")
	return cmd
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
