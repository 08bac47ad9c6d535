package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner instruments every matching file of a project.
type Runner struct {
	Config *Config
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewRunner creates a Runner for the configuration.
func NewRunner(config *Config) *Runner {
	return &Runner{Config: config, Logger: slog.Default()}
}

type runState struct {
	injector *Injector
	cache    *ResultCache
	decls    *DeclarationSet
}

// Run loads the declarations, instruments the matching project files, and writes the configured report files.
// Files with syntax errors are reported and skipped, file system errors abort the run.
func (r *Runner) Run(ctx context.Context) (*ReportMetrics, error) {
	startTime := time.Now()
	if err := r.Config.Prepare(); err != nil {
		return nil, err
	}
	logger := r.logger()

	decls, err := LoadDeclarations(r.Config.DeclarationsFile)
	if err != nil {
		return nil, err
	}
	state := &runState{decls: decls}

	var injectorOpts []Option
	if r.Config.TraceFunction != "" {
		injectorOpts = append(injectorOpts, WithTraceFunction(r.Config.TraceFunction))
	} else if decls.TraceFunction != "" {
		injectorOpts = append(injectorOpts, WithTraceFunction(decls.TraceFunction))
	}
	if r.Config.SourceMaps {
		injectorOpts = append(injectorOpts, WithSourceMap(r.Config.SourcesContent))
	}
	if state.injector, err = NewInjector(injectorOpts...); err != nil {
		return nil, err
	}

	if r.Config.CacheDir != "" {
		store, err := NewBadgerStorage(r.Config.CacheDir, r.Config.CacheMB)
		if err != nil {
			return nil, err
		}
		front, err := WithFrontCache(store, max(r.Config.CacheMB/4, 1))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		state.cache = NewResultCache(front)
		defer func() {
			if err := state.cache.Close(); err != nil {
				logger.Error("cache close failed", "error", err)
			}
		}()
	}

	var skipDirs []string
	if r.Config.AbsOutDir != "" {
		skipDirs = append(skipDirs, r.Config.AbsOutDir)
	}
	candidates, err := projectFiles(ctx, r.Config.AbsProjDir, skipDirs...)
	if err != nil {
		return nil, fmt.Errorf("error listing project files: %w", err)
	}
	var files, stale []string
	for _, relPath := range candidates {
		if r.Config.included(relPath) && len(decls.DeclarationsFor(relPath)) > 0 {
			files = append(files, relPath)
		} else if r.Config.InPlace && FileExists(r.absPath(relPath)+BackupSuffix) {
			stale = append(stale, relPath)
		}
	}
	logger.Info("instrumenting project", "project", r.Config.AbsProjDir,
		"source_files", len(candidates), "matched_files", len(files))

	// an earlier in place run instrumented these, put the originals back
	var restoreErrs []error
	for _, relPath := range stale {
		if err := restoreBackup(r.absPath(relPath) + BackupSuffix); err != nil {
			restoreErrs = append(restoreErrs, fmt.Errorf("restore %s failed: %w", relPath, err))
		} else {
			logger.Info("restored file no longer matched by declarations", "file", relPath)
		}
	}
	if err := errors.Join(restoreErrs...); err != nil {
		return nil, err
	}

	results := make([]FileResult, len(files))
	var injectionCount atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.NumCPU())
	for i, relPath := range files {
		eg.Go(func() error {
			result, err := r.processFile(egCtx, state, relPath)
			if err != nil {
				return fmt.Errorf("%s: %w", relPath, err)
			}
			results[i] = result
			injectionCount.Add(int64(len(result.Injections)))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	report := BuildReportMetrics(startTime, r.Config.AbsProjDir, r.Config.DeclarationsFile, results)
	report.RestoredFiles = stale
	if err := report.WriteJSON(r.Config.ReportJsonFile); err != nil {
		return nil, err
	} else if err := report.WriteCharts(r.Config.ReportChartsFile); err != nil {
		return nil, err
	}
	logger.Info("instrumentation completed", "files", report.FileCount, "injections", injectionCount.Load(),
		"failed_tracepoints", report.FailureCount, "parse_failures", report.ParseFailureCount,
		"cache_hits", report.CacheHitCount, "duration", time.Since(startTime).Round(time.Millisecond))
	return &report, nil
}

func (r *Runner) absPath(relPath string) string {
	return filepath.Join(r.Config.AbsProjDir, filepath.FromSlash(relPath))
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// processFile instruments a single file and writes its output.
func (r *Runner) processFile(ctx context.Context, state *runState, relPath string) (FileResult, error) {
	start := time.Now()
	logger := r.logger().With("file", relPath)
	decls := state.decls.DeclarationsFor(relPath)
	result := FileResult{Path: relPath, DeclarationCount: len(decls)}

	srcFile := r.absPath(relPath)
	info, err := os.Stat(srcFile)
	if err != nil {
		return result, err
	}
	source, err := readOriginal(srcFile, r.Config.InPlace)
	if err != nil {
		return result, fmt.Errorf("read failed: %w", err)
	}

	opts := ParseOptions{Filename: relPath, ModuleMode: r.Config.ModuleMode}
	var injected *Result
	if state.cache != nil {
		injected, result.CacheHit, err = state.cache.Inject(ctx, state.injector, string(source), decls, opts)
	} else {
		injected, err = state.injector.Inject(ctx, string(source), decls, opts)
	}
	var parseFailure *ParseFailure
	if errors.As(err, &parseFailure) {
		result.Dialect = parseFailure.Dialect
		result.Diagnostics = parseFailure.Diagnostics
		logger.Warn("skipping file with syntax errors", "diagnostics", len(parseFailure.Diagnostics),
			"first", parseFailure.Diagnostics[0].String())
		if r.Config.InPlace { // drop instrumentation from an earlier run
			if err := restoreBackup(srcFile + BackupSuffix); err != nil {
				return result, fmt.Errorf("restore failed: %w", err)
			}
			result.Restored = true
		}
		result.Duration = time.Since(start).Milliseconds()
		return result, nil
	} else if injected == nil {
		return result, err
	} else if err != nil { // result is usable, only the cache store failed
		logger.Warn("result not cached", "error", err)
	}

	result.Dialect = injected.Dialect
	result.Injections = injected.Injections
	result.Failures = injected.Errors
	for _, failure := range injected.Errors {
		logger.Warn("tracepoint not applied", "tracepoint", failure.Declaration.String(),
			"error_type", failure.Kind, "message", failure.Message)
	}

	if len(injected.Injections) > 0 || r.Config.InPlace { // in place output replaces any earlier instrumentation
		result.Output, err = r.writeOutput(srcFile, relPath, injected, info.Mode().Perm())
		if err != nil {
			return result, fmt.Errorf("write failed: %w", err)
		}
	}
	result.Duration = time.Since(start).Milliseconds()
	logger.Debug("file instrumented", "injections", len(injected.Injections), "cache_hit", result.CacheHit)
	return result, nil
}

// writeOutput writes the generated code, and the source map when enabled, returning the written file path.
func (r *Runner) writeOutput(srcFile, relPath string, injected *Result, perm os.FileMode) (string, error) {
	code := injected.Code
	outFile := srcFile
	if !r.Config.InPlace {
		outFile = filepath.Join(r.Config.AbsOutDir, filepath.FromSlash(relPath))
	}

	if injected.SourceMap != nil {
		var comment string
		if r.Config.InPlace { // sidecar files would be left behind by Restore
			var err error
			if comment, err = injected.SourceMap.InlineComment(); err != nil {
				return "", err
			}
		} else {
			mapJSON, err := injected.SourceMap.JSON()
			if err != nil {
				return "", err
			} else if err := writeFileAtomic(outFile+".map", mapJSON, 0644); err != nil {
				return "", err
			}
			comment = URLComment(outFile + ".map")
		}
		code = appendLine(code, comment)
	}

	return outFile, writeFileAtomic(outFile, []byte(code), perm)
}

func appendLine(code, line string) string {
	if code != "" && !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return code + line + "\n"
}

// Restore moves every backup left by in-place runs over its instrumented file, returning the restored paths.
func (r *Runner) Restore(ctx context.Context) ([]string, error) {
	if r.Config.ProjectDir == "" {
		return nil, errors.New("project directory is required")
	}
	root, err := filepath.Abs(r.Config.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("error resolving project directory: %w", err)
	}
	backups, err := backupFiles(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("error listing backups: %w", err)
	}

	restored := make([]string, len(backups))
	errs := make([]error, len(backups))
	eg := ErrGroupLimitCPU()
	for i, backup := range backups {
		eg.Go(func() error {
			if err := restoreBackup(backup); err != nil {
				errs[i] = fmt.Errorf("restore %s failed: %w", backup, err)
			} else {
				restored[i] = strings.TrimSuffix(backup, BackupSuffix)
			}
			return nil // restore as many as possible
		})
	}
	_ = eg.Wait()

	var paths []string
	for _, p := range restored {
		if p != "" {
			paths = append(paths, p)
		}
	}
	r.logger().Info("restored instrumented files", "project", root, "restored", len(paths))
	return paths, errors.Join(errs...)
}
