package inject

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff returns a unified diff between the original and instrumented code, empty when they are equal.
func UnifiedDiff(filename, original, instrumented string, contextLines int) (string, error) {
	if original == instrumented {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(instrumented),
		FromFile: filename,
		ToFile:   filename + " (instrumented)",
		Context:  contextLines,
	})
}
