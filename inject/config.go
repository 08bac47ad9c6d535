package inject

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// Config holds settings for a project Runner.
type Config struct {
	ProjectDir, DeclarationsFile string
	// OutDir receives instrumented copies mirroring the project layout, exclusive with InPlace.
	OutDir string
	// InPlace rewrites project files after saving a BackupSuffix copy.
	InPlace bool
	// SourceMaps writes a ".map" file next to each output, or an inline map comment when InPlace.
	SourceMaps, SourcesContent bool
	// TraceFunction overrides the declaration file and DefaultTraceFunction.
	TraceFunction string
	ModuleMode    ModuleMode
	// CacheDir enables the persistent result cache.
	CacheDir string
	CacheMB  int
	// Include limits the run to project paths matching any pattern, all source files when empty.
	Include                          []string
	ReportJsonFile, ReportChartsFile string
	// Computed fields
	AbsProjDir, AbsOutDir string
	// Internal state tracking
	prepared bool
}

// Prepare validates the configuration and resolves computed fields.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	}

	if c.ProjectDir == "" {
		return errors.New("project directory is required")
	} else if c.DeclarationsFile == "" {
		return errors.New("declarations file is required")
	} else if c.OutDir == "" && !c.InPlace {
		return errors.New("must specify one of: -out or -inplace")
	} else if c.OutDir != "" && c.InPlace {
		return errors.New("-out and -inplace are mutually exclusive")
	}

	absProjDir, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("error resolving project directory: %w", err)
	} else if info, err := os.Stat(absProjDir); err != nil {
		return fmt.Errorf("project directory not accessible: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("project path is not a directory: %s", absProjDir)
	}
	c.AbsProjDir = absProjDir

	if err := validateFilePath(c.DeclarationsFile); err != nil {
		return fmt.Errorf("invalid declarations file: %w", err)
	}

	if c.OutDir != "" {
		absOutDir, err := filepath.Abs(c.OutDir)
		if err != nil {
			return fmt.Errorf("error resolving output directory: %w", err)
		} else if absOutDir == absProjDir {
			return errors.New("output directory must differ from the project directory, use -inplace instead")
		} else if within, err := fileWithinDir(absProjDir, absOutDir); err != nil {
			return err
		} else if within {
			return errors.New("output directory must not contain the project directory")
		}
		c.AbsOutDir = absOutDir
	}

	if c.TraceFunction != "" && !traceFunctionPattern.MatchString(c.TraceFunction) {
		return fmt.Errorf("invalid trace function '%s', must be an identifier path like tracer.capture", c.TraceFunction)
	}
	if err := (ParseOptions{ModuleMode: c.ModuleMode}).validate(); err != nil {
		return err
	}
	if c.CacheDir != "" && (c.CacheMB < 1 || c.CacheMB > 10240) { // 10GB limit
		return fmt.Errorf("cache size must be between 1 and 10240 MB, got %d", c.CacheMB)
	}
	for _, pattern := range c.Include {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid include pattern '%s': %w", pattern, err)
		}
	}

	if c.ReportJsonFile != "" {
		if err := validateOutputPath(c.ReportJsonFile); err != nil {
			return fmt.Errorf("invalid JSON report file path: %w", err)
		}
	}
	if c.ReportChartsFile != "" {
		if _, err := chartOutputType(c.ReportChartsFile); err != nil {
			return err
		} else if err := validateOutputPath(c.ReportChartsFile); err != nil {
			return fmt.Errorf("invalid charts report file path: %w", err)
		}
	}

	c.prepared = true
	return nil
}

// included reports if a relative project path passes the Include filter.
func (c *Config) included(relPath string) bool {
	if len(c.Include) == 0 {
		return true
	}
	for _, pattern := range c.Include {
		if matchPath(pattern, relPath) {
			return true
		}
	}
	return false
}

// validateFilePath validates that a file path exists and is readable
func validateFilePath(filename string) error {
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("file does not exist or is not accessible: %w", err)
	} else if info.IsDir() {
		return errors.New("path is a directory, expected a file")
	}

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("file is not readable: %w", err)
	}
	return file.Close()
}

// validateOutputPath validates that an output file path can be written to
func validateOutputPath(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
	}

	file, err := os.CreateTemp(dir, ".write_test*")
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(file.Name())
}
