package inject

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// BackupSuffix is appended to a source file to keep its original content during in-place runs.
const BackupSuffix = ".bkp"

// sourceExtensions lists the file types considered for instrumentation.
var sourceExtensions = []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts"}

// skippedDirs are never descended into when collecting project files.
var skippedDirs = []string{"node_modules", ".git", ".hg", ".svn"}

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

// fileWithinDir returns true if the provided filePath is within the given directory.
func fileWithinDir(filePath, dirPath string) (bool, error) {
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absFile)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(filepath.ToSlash(rel), "../"), nil
}

// CopyFile copies the content of src to dst, creating or truncating dst.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// writeFileAtomic writes data to a temporary sibling and renames it over filename.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	} else if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	} else if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filename)
}

// readOriginal returns the uninstrumented content of a source file. If a backup from an earlier in-place run
// exists it is the original, otherwise the file itself is. When backup is set a missing backup is created first.
func readOriginal(filename string, backup bool) ([]byte, error) {
	backupFile := filename + BackupSuffix
	if FileExists(backupFile) {
		return os.ReadFile(backupFile)
	} else if backup {
		if err := CopyFile(filename, backupFile); err != nil {
			return nil, err
		}
	}
	return os.ReadFile(filename)
}

// isSourceFile reports if the name has a JavaScript or TypeScript extension, declaration files are excluded.
func isSourceFile(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".d.ts") || strings.HasSuffix(lower, ".d.mts") || strings.HasSuffix(lower, ".d.cts") {
		return false
	}
	return slices.Contains(sourceExtensions, filepath.Ext(lower))
}

// projectFiles returns the slash separated relative paths of the source files under root, sorted.
// Symlinks and the directories in skipDirs (absolute) are not followed.
func projectFiles(ctx context.Context, root string, skipDirs ...string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && (slices.Contains(skippedDirs, d.Name()) || slices.Contains(skipDirs, path)) {
				return filepath.SkipDir
			}
			return nil
		} else if !d.Type().IsRegular() || !isSourceFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	slices.Sort(files)
	return files, err
}

// backupFiles returns the absolute paths of the backups under root.
func backupFiles(ctx context.Context, root string) ([]string, error) {
	var backups []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && slices.Contains(skippedDirs, d.Name()) {
				return filepath.SkipDir
			}
		} else if strings.HasSuffix(d.Name(), BackupSuffix) && isSourceFile(strings.TrimSuffix(d.Name(), BackupSuffix)) {
			backups = append(backups, path)
		}
		return nil
	})
	return backups, err
}

// restoreBackup moves the backup over its original file.
func restoreBackup(backupFile string) error {
	return os.Rename(backupFile, strings.TrimSuffix(backupFile, BackupSuffix))
}
