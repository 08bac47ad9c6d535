package inject

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	assert.True(t, FileExists(dir))

	file := filepath.Join(dir, "file.txt")
	assert.False(t, FileExists(file))

	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.True(t, FileExists(file))
}

func TestFileWithinDir(t *testing.T) {
	t.Parallel()

	root1 := filepath.Join("/tmp", "rootA")
	root2 := filepath.Join("/var", "other")

	tests := []struct {
		name     string
		filePath string
		dirPath  string
		want     bool
	}{
		{"direct_child", filepath.Join(root1, "foo.js"), root1, true},
		{"nested_deeper", filepath.Join(root1, "sub", "dir", "bar.ts"), root1, true},
		{"directory_itself", root1, root1, true},
		{"outside_sibling", filepath.Join(root2, "baz.js"), root1, false},
		{"prefix_sibling", root1 + "2", root1, false},
		{"up_dir", filepath.Join(root1, "..", "other", "file"), root1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := fileWithinDir(tt.filePath, tt.dirPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestCopyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.js")
	dst := filepath.Join(dir, "dst.js")
	require.NoError(t, os.WriteFile(src, []byte("test data"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("longer existing content"), 0644))

	require.NoError(t, CopyFile(src, dst))
	assert.Equal(t, "test data", readFile(t, dst))

	require.Error(t, CopyFile(filepath.Join(dir, "missing.js"), dst))
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	filename := filepath.Join(dir, "nested", "out.js")

	require.NoError(t, writeFileAtomic(filename, []byte("first"), 0600))
	require.NoError(t, writeFileAtomic(filename, []byte("second"), 0640))

	assert.Equal(t, "second", readFile(t, filename))
	info, err := os.Stat(filename)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1) // no temp files left behind
}

func TestReadOriginal(t *testing.T) {
	t.Parallel()

	t.Run("without_backup", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "a.js")
		require.NoError(t, os.WriteFile(filename, []byte("orig"), 0644))

		b, err := readOriginal(filename, false)
		require.NoError(t, err)
		assert.Equal(t, "orig", string(b))
		assert.NoFileExists(t, filename+BackupSuffix)
	})

	t.Run("creates_backup", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "a.js")
		require.NoError(t, os.WriteFile(filename, []byte("orig"), 0644))

		b, err := readOriginal(filename, true)
		require.NoError(t, err)
		assert.Equal(t, "orig", string(b))
		assert.Equal(t, "orig", readFile(t, filename+BackupSuffix))
	})

	t.Run("prefers_backup", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "a.js")
		require.NoError(t, os.WriteFile(filename, []byte("instrumented"), 0644))
		require.NoError(t, os.WriteFile(filename+BackupSuffix, []byte("orig"), 0644))

		for _, backup := range []bool{false, true} {
			b, err := readOriginal(filename, backup)
			require.NoError(t, err)
			assert.Equal(t, "orig", string(b))
		}
	})
}

func TestIsSourceFile(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"a.js", "a.jsx", "a.mjs", "a.cjs", "a.ts", "a.tsx", "a.mts", "a.cts", "A.JS"} {
		assert.True(t, isSourceFile(name), name)
	}
	for _, name := range []string{"a.d.ts", "a.d.mts", "a.json", "a.js.map", "a.js" + BackupSuffix, "js"} {
		assert.False(t, isSourceFile(name), name)
	}
}

func TestProjectFiles(t *testing.T) {
	t.Parallel()
	proj := writeProject(t, map[string]string{
		"index.ts":                "",
		"src/b.js":                "",
		"src/a.tsx":               "",
		"src/a.js" + BackupSuffix: "",
		"src/types.d.ts":          "",
		"README.md":               "",
		"node_modules/m/dep.js":   "",
		".git/hooks/x.js":         "",
		"dist/out.js":             "",
	})
	require.NoError(t, os.Symlink(filepath.Join(proj, "src", "b.js"), filepath.Join(proj, "link.js")))

	files, err := projectFiles(context.Background(), proj, filepath.Join(proj, "dist"))
	require.NoError(t, err)
	assert.Equal(t, []string{"index.ts", "src/a.tsx", "src/b.js"}, files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = projectFiles(ctx, proj)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackupFiles(t *testing.T) {
	t.Parallel()
	proj := writeProject(t, map[string]string{
		"src/a.js":                             "",
		"src/a.js" + BackupSuffix:              "",
		"src/b.ts" + BackupSuffix:              "",
		"notes.txt" + BackupSuffix:             "",
		"node_modules/m/dep.js" + BackupSuffix: "",
	})

	backups, err := backupFiles(context.Background(), proj)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(proj, "src", "a.js"+BackupSuffix),
		filepath.Join(proj, "src", "b.ts"+BackupSuffix),
	}, backups)
}
