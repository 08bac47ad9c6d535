package inject

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runnerDecls = `traceFunction: tracer.capture
files:
  - path: src/**/*.js
    tracepoints:
      - type: entry
        functionName: checkout
        code: checkout:start
      - type: exit
        functionName: checkout
        code: checkout:end
`

const shopSource = `function checkout(cart) {
  const total = cart.total;
  return total;
}
`

const shopInstrumented = `function checkout(cart) {
  tracer.capture("checkout:start");
  const total = cart.total;
  tracer.capture("checkout:end");
  return total;
}
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		filename := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0755))
		require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	}
	return dir
}

func writeDecls(t *testing.T, content string) string {
	t.Helper()

	filename := filepath.Join(t.TempDir(), "tracepoints.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0644))
	return filename
}

func testRunner(config *Config) *Runner {
	runner := NewRunner(config)
	runner.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return runner
}

func readFile(t *testing.T, filename string) string {
	t.Helper()

	b, err := os.ReadFile(filename)
	require.NoError(t, err)
	return string(b)
}

func TestRunnerRun(t *testing.T) {
	t.Parallel()

	t.Run("out_dir", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{
			"src/shop.js":           shopSource,
			"src/empty.js":          "const x = 1;\n",
			"lib/other.js":          shopSource,
			"src/types.d.ts":        "declare function checkout(): void;\n",
			"node_modules/m/dep.js": shopSource,
		})
		outDir := filepath.Join(t.TempDir(), "out")
		reportFile := filepath.Join(t.TempDir(), "tpreport.json")

		report, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			OutDir:           outDir,
			ReportJsonFile:   reportFile,
		}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, shopInstrumented, readFile(t, filepath.Join(outDir, "src", "shop.js")))
		assert.Equal(t, shopSource, readFile(t, filepath.Join(proj, "src", "shop.js")))
		assert.NoFileExists(t, filepath.Join(outDir, "src", "empty.js"))
		assert.NoFileExists(t, filepath.Join(outDir, "lib", "other.js"))
		assert.NoFileExists(t, filepath.Join(proj, "src", "shop.js"+BackupSuffix))

		assert.Equal(t, 2, report.FileCount)
		assert.Equal(t, 1, report.InstrumentedCount)
		assert.Equal(t, 4, report.DeclarationCount)
		assert.Equal(t, 2, report.InjectionCount)
		assert.Equal(t, 2, report.FailureCount)
		assert.Equal(t, map[FailureKind]int{FailureNoFunctionFound: 2}, report.FailuresPerKind)
		assert.Equal(t, map[Kind]int{KindEntry: 1, KindExit: 1}, report.InjectionsPerKind)
		require.Len(t, report.Files, 2)
		assert.Equal(t, "src/empty.js", report.Files[0].Path)
		assert.Empty(t, report.Files[0].Output)
		assert.Equal(t, "src/shop.js", report.Files[1].Path)
		assert.Equal(t, filepath.Join(outDir, "src", "shop.js"), report.Files[1].Output)

		loaded, err := ReadReportMetrics(reportFile)
		require.NoError(t, err)
		assert.Equal(t, report.InjectionCount, loaded.InjectionCount)
		assert.Equal(t, report.FailuresPerKind, loaded.FailuresPerKind)
		assert.Len(t, loaded.Files, 2)
	})

	t.Run("out_dir_inside_project", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
		outDir := filepath.Join(proj, "build")
		decls := writeDecls(t, strings.Replace(runnerDecls, "src/**/*.js", "**/*.js", 1))

		for i := 0; i < 2; i++ {
			report, err := testRunner(&Config{
				ProjectDir:       proj,
				DeclarationsFile: decls,
				OutDir:           outDir,
			}).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, report.FileCount)
		}
		assert.Equal(t, shopInstrumented, readFile(t, filepath.Join(outDir, "src", "shop.js")))
	})

	t.Run("include_filter", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{
			"src/shop.js":       shopSource,
			"src/admin/shop.js": shopSource,
		})

		report, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			OutDir:           t.TempDir(),
			Include:          []string{"src/admin/**"},
		}).Run(context.Background())
		require.NoError(t, err)

		require.Len(t, report.Files, 1)
		assert.Equal(t, "src/admin/shop.js", report.Files[0].Path)
	})

	t.Run("trace_function_override", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
		outDir := t.TempDir()

		_, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			OutDir:           outDir,
			TraceFunction:    "monitor",
		}).Run(context.Background())
		require.NoError(t, err)

		assert.Contains(t, readFile(t, filepath.Join(outDir, "src", "shop.js")), `monitor("checkout:start");`)
	})

	t.Run("parse_failure", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{
			"src/shop.js":   shopSource,
			"src/broken.js": "function checkout(cart {\n  return cart;\n",
		})
		outDir := t.TempDir()

		report, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			OutDir:           outDir,
		}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, report.ParseFailureCount)
		assert.Equal(t, 1, report.InstrumentedCount)
		assert.Equal(t, 2, report.FailureCount)
		require.Len(t, report.Files, 2)
		broken := report.Files[0]
		assert.Equal(t, "src/broken.js", broken.Path)
		assert.True(t, broken.ParseFailed())
		assert.NotEmpty(t, broken.Diagnostics)
		assert.NoFileExists(t, filepath.Join(outDir, "src", "broken.js"))
		assert.FileExists(t, filepath.Join(outDir, "src", "shop.js"))
	})

	t.Run("source_map_sidecar", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
		outDir := t.TempDir()

		_, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			OutDir:           outDir,
			SourceMaps:       true,
		}).Run(context.Background())
		require.NoError(t, err)

		outFile := filepath.Join(outDir, "src", "shop.js")
		assert.Equal(t, shopInstrumented+"//# sourceMappingURL=shop.js.map\n", readFile(t, outFile))
		mapJSON := readFile(t, outFile+".map")
		assert.Contains(t, mapJSON, `"version":3`)
		assert.Contains(t, mapJSON, "src/shop.js")
	})

	t.Run("invalid_config", func(t *testing.T) {
		t.Parallel()

		_, err := testRunner(&Config{ProjectDir: t.TempDir()}).Run(context.Background())
		require.Error(t, err)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			OutDir:           t.TempDir(),
		}).Run(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunnerInPlace(t *testing.T) {
	t.Parallel()

	t.Run("run_rerun_restore", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{
			"src/shop.js":  shopSource,
			"src/empty.js": "const x = 1;\n",
		})
		decls := writeDecls(t, runnerDecls)
		shopFile := filepath.Join(proj, "src", "shop.js")

		for i := 0; i < 2; i++ {
			report, err := testRunner(&Config{
				ProjectDir:       proj,
				DeclarationsFile: decls,
				InPlace:          true,
			}).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, report.InjectionCount)
			assert.Equal(t, shopInstrumented, readFile(t, shopFile))
			assert.Equal(t, shopSource, readFile(t, shopFile+BackupSuffix))
		}

		restored, err := testRunner(&Config{ProjectDir: proj}).Restore(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{shopFile, filepath.Join(proj, "src", "empty.js")}, restored)
		assert.Equal(t, shopSource, readFile(t, shopFile))
		assert.NoFileExists(t, shopFile+BackupSuffix)
		assert.Equal(t, "const x = 1;\n", readFile(t, filepath.Join(proj, "src", "empty.js")))
	})

	t.Run("declarations_removed", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
		shopFile := filepath.Join(proj, "src", "shop.js")

		_, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			InPlace:          true,
		}).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, shopInstrumented, readFile(t, shopFile))

		noMatch := strings.Replace(runnerDecls, "functionName: checkout", "functionName: refund", 2)
		report, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, noMatch),
			InPlace:          true,
		}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, report.InjectionCount)
		assert.Equal(t, shopSource, readFile(t, shopFile))
	})

	t.Run("path_no_longer_matched", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{
			"src/shop.js":  shopSource,
			"src/other.js": shopSource,
		})
		shopFile := filepath.Join(proj, "src", "shop.js")

		_, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, strings.Replace(runnerDecls, "src/**/*.js", "src/shop.js", 1)),
			InPlace:          true,
		}).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, shopInstrumented, readFile(t, shopFile))

		report, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, strings.Replace(runnerDecls, "src/**/*.js", "src/other.js", 1)),
			InPlace:          true,
		}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, []string{"src/shop.js"}, report.RestoredFiles)
		assert.Equal(t, shopSource, readFile(t, shopFile))
		assert.NoFileExists(t, shopFile+BackupSuffix)
		assert.Equal(t, shopInstrumented, readFile(t, filepath.Join(proj, "src", "other.js")))
	})

	t.Run("original_now_unparseable", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
		shopFile := filepath.Join(proj, "src", "shop.js")
		decls := writeDecls(t, runnerDecls)

		_, err := testRunner(&Config{ProjectDir: proj, DeclarationsFile: decls, InPlace: true}).Run(context.Background())
		require.NoError(t, err)
		require.Equal(t, shopInstrumented, readFile(t, shopFile))

		broken := "function checkout(cart {\n  return cart.total;\n}\n"
		require.NoError(t, os.WriteFile(shopFile+BackupSuffix, []byte(broken), 0644))
		report, err := testRunner(&Config{ProjectDir: proj, DeclarationsFile: decls, InPlace: true}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, report.ParseFailureCount)
		require.Len(t, report.Files, 1)
		assert.True(t, report.Files[0].Restored)
		assert.Equal(t, broken, readFile(t, shopFile))
		assert.NoFileExists(t, shopFile+BackupSuffix)
	})

	t.Run("inline_source_map", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})

		_, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: writeDecls(t, runnerDecls),
			InPlace:          true,
			SourceMaps:       true,
			SourcesContent:   true,
		}).Run(context.Background())
		require.NoError(t, err)

		code := readFile(t, filepath.Join(proj, "src", "shop.js"))
		assert.True(t, strings.HasPrefix(code, shopInstrumented))
		assert.Contains(t, code, "//# sourceMappingURL=data:application/json;charset=utf-8;base64,")
		assert.NoFileExists(t, filepath.Join(proj, "src", "shop.js.map"))
	})

	t.Run("restore_without_backups", func(t *testing.T) {
		t.Parallel()
		proj := writeProject(t, map[string]string{"src/shop.js": shopSource})

		restored, err := testRunner(&Config{ProjectDir: proj}).Restore(context.Background())
		require.NoError(t, err)
		assert.Empty(t, restored)
	})
}

func TestRunnerCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping badger backed run in short mode")
	}
	t.Parallel()

	proj := writeProject(t, map[string]string{"src/shop.js": shopSource})
	decls := writeDecls(t, runnerDecls)
	cacheDir := t.TempDir()

	for i, expectHits := range []int{0, 1} {
		outDir := t.TempDir()
		report, err := testRunner(&Config{
			ProjectDir:       proj,
			DeclarationsFile: decls,
			OutDir:           outDir,
			CacheDir:         cacheDir,
			CacheMB:          16,
		}).Run(context.Background())
		require.NoError(t, err, "run %d", i)

		assert.Equal(t, expectHits, report.CacheHitCount, "run %d", i)
		assert.Equal(t, 2, report.InjectionCount, "run %d", i)
		assert.Equal(t, shopInstrumented, readFile(t, filepath.Join(outDir, "src", "shop.js")))
	}
}
