package inject

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

func loadGolden(t *testing.T, path string) (filename, input string, decls []TracepointDeclaration, expected string) {
	t.Helper()

	archive, err := txtar.ParseFile(path)
	require.NoError(t, err)
	for _, f := range archive.Files {
		switch {
		case strings.HasPrefix(f.Name, "input."):
			filename = f.Name
			input = string(f.Data)
		case f.Name == "decls.json":
			require.NoError(t, json.Unmarshal(f.Data, &decls))
		case strings.HasPrefix(f.Name, "output."):
			expected = string(f.Data)
		}
	}
	require.NotEmpty(t, filename)
	require.NotEmpty(t, decls)
	return filename, input, decls, expected
}

func TestInjectGolden(t *testing.T) {
	t.Parallel()

	paths, err := filepath.Glob(filepath.Join("testdata", "golden", "*.txtar"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		path := path
		t.Run(strings.TrimSuffix(filepath.Base(path), ".txtar"), func(t *testing.T) {
			t.Parallel()
			filename, input, decls, expected := loadGolden(t, path)

			result, err := Inject(context.Background(), input, decls, ParseOptions{Filename: filename})
			require.NoError(t, err)
			assert.Empty(t, result.Errors)
			assert.Equal(t, expected, result.Code)

			for _, rec := range result.Injections {
				require.Len(t, rec.InjectedLines, 1)
				lines := strings.Split(result.Code, "\n")
				require.LessOrEqual(t, rec.InjectedLines[0], len(lines))
				assert.Contains(t, lines[rec.InjectedLines[0]-1], rec.Code)
			}

			reparsed, err := Parse(context.Background(), result.Code, ParseOptions{Filename: filename})
			require.NoError(t, err)
			assert.Empty(t, reparsed.Diagnostics)
		})
	}
}
