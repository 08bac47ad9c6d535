package inject

import (
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrorLogPrefix marks error lines in command output.
const ErrorLogPrefix = "!! "

// ErrGroupLimitCPU returns an errgroup limited to NumCPU.
func ErrGroupLimitCPU() *errgroup.Group {
	errGroup := &errgroup.Group{}
	errGroup.SetLimit(runtime.NumCPU())
	return errGroup
}

// LimitStringLines keeps the first (head) or last count lines of s, noting how many lines were dropped.
func LimitStringLines(s string, count int, head bool) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= count {
		return s
	}
	dropped := len(lines) - count
	if head {
		return strings.Join(lines[:count], "\n") + "\n... (" + strconv.Itoa(dropped) + " more lines)"
	}
	return "... (" + strconv.Itoa(dropped) + " earlier lines)\n" + strings.Join(lines[dropped:], "\n")
}
