package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/PatchLens/tracepoint-inject/inject"
)

var (
	headerColor  = color.New(color.Bold)
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed, color.Bold)
	addedColor   = color.New(color.FgGreen)
	removedColor = color.New(color.FgRed)
)

type previewOptions struct {
	projectDir, declarationsFile string
	traceFunction, dialect       string
	diff                         bool
	lines                        int
}

func newPreviewCommand() *cobra.Command {
	opts := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Show the instrumented output of one file without writing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd.OutOrStdout(), cmd, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.projectDir, "project", ".", "Project directory the declaration paths are relative to")
	flags.StringVarP(&opts.declarationsFile, "decls", "d", "", "Tracepoint declaration file (.yaml, .toml or .json)")
	flags.StringVar(&opts.traceFunction, "trace-fn", "", "Function called by injected statements")
	flags.StringVar(&opts.dialect, "dialect", "", "Force the grammar: javascript, typescript, tsx")
	flags.BoolVar(&opts.diff, "diff", false, "Print a unified diff instead of the instrumented code")
	flags.IntVar(&opts.lines, "lines", 60, "Maximum output lines to print")
	_ = cmd.MarkFlagRequired("decls")
	return cmd
}

func runPreview(w io.Writer, cmd *cobra.Command, opts *previewOptions, filename string) error {
	set, err := inject.LoadDeclarations(opts.declarationsFile)
	if err != nil {
		return err
	}
	absProj, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return err
	}
	absFile, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	relPath, err := filepath.Rel(absProj, absFile)
	if err != nil {
		return err
	}
	relPath = filepath.ToSlash(relPath)
	decls := set.DeclarationsFor(relPath)
	if len(decls) == 0 {
		return fmt.Errorf("no tracepoints declared for %s", relPath)
	}

	source, err := os.ReadFile(absFile)
	if err != nil {
		return err
	}
	traceFunction := opts.traceFunction
	if traceFunction == "" {
		traceFunction = set.TraceFunction
	}
	var injectorOpts []inject.Option
	if traceFunction != "" {
		injectorOpts = append(injectorOpts, inject.WithTraceFunction(traceFunction))
	}
	injector, err := inject.NewInjector(injectorOpts...)
	if err != nil {
		return err
	}

	result, err := injector.Inject(cmd.Context(), string(source), decls, inject.ParseOptions{
		Filename: relPath,
		Dialect:  inject.Dialect(opts.dialect),
	})
	var parseFailure *inject.ParseFailure
	if errors.As(err, &parseFailure) {
		_, _ = failureColor.Fprintf(w, "%s: %d syntax errors\n", relPath, len(parseFailure.Diagnostics))
		for _, d := range parseFailure.Diagnostics {
			_, _ = fmt.Fprintf(w, "  %s\n", d)
		}
		return err
	} else if err != nil {
		return err
	}

	summary := result.Summary()
	_, _ = headerColor.Fprintf(w, "%s (%s)\n", relPath, result.Dialect)
	_, _ = successColor.Fprintf(w, "  %d injections\n", summary.Injections)
	for _, rec := range result.Injections {
		_, _ = fmt.Fprintf(w, "    %-28s line %d -> %v %s\n", rec.Declaration.String(), rec.OriginalLine,
			rec.InjectedLines, rec.Context.NodeType)
	}
	if summary.Failures > 0 {
		_, _ = failureColor.Fprintf(w, "  %d failures\n", summary.Failures)
		for _, failure := range result.Errors {
			_, _ = failureColor.Fprintf(w, "    %s: %s\n", failure.Kind, failure.Declaration.String())
			_, _ = fmt.Fprintf(w, "      %s\n", failure.Message)
		}
	}
	_, _ = fmt.Fprintln(w)

	if !opts.diff {
		_, err = fmt.Fprintln(w, inject.LimitStringLines(result.Code, opts.lines, true))
		return err
	}
	diff, err := inject.UnifiedDiff(relPath, string(source), result.Code, 2)
	if err != nil {
		return err
	}
	return printDiff(w, inject.LimitStringLines(diff, opts.lines, true))
}

func printDiff(w io.Writer, diff string) error {
	for _, line := range splitKeepEmpty(diff) {
		var err error
		switch {
		case len(line) > 0 && line[0] == '+' && !isFileHeader(line):
			_, err = addedColor.Fprintln(w, line)
		case len(line) > 0 && line[0] == '-' && !isFileHeader(line):
			_, err = removedColor.Fprintln(w, line)
		default:
			_, err = fmt.Fprintln(w, line)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func isFileHeader(line string) bool {
	return len(line) >= 4 && (line[:4] == "+++ " || line[:4] == "--- ")
}

func splitKeepEmpty(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
