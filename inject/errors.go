package inject

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParseFailed is wrapped by every ParseFailure.
	ErrParseFailed = errors.New("source could not be parsed")
	// ErrInvalidOptions indicates injector or parse options which can not be used.
	ErrInvalidOptions = errors.New("invalid options")
)

// Diagnostic is a single syntax problem reported by the parser.
type Diagnostic struct {
	// Message describes the problem.
	Message string `json:"message"`
	// Line is 1-indexed.
	Line int `json:"line"`
	// Column is a 0-indexed byte column.
	Column int `json:"column"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Message)
}

// ParseFailure is returned when the source contains syntax errors, no injection is attempted.
type ParseFailure struct {
	Filename    string
	Dialect     Dialect
	Diagnostics []Diagnostic
}

func (e *ParseFailure) Error() string {
	var sb strings.Builder
	sb.WriteString("parse failed")
	if e.Filename != "" {
		sb.WriteString(" for ")
		sb.WriteString(e.Filename)
	}
	if e.Dialect != "" {
		sb.WriteString(" (")
		sb.WriteString(string(e.Dialect))
		sb.WriteString(")")
	}
	for i, d := range e.Diagnostics {
		if i == 3 {
			sb.WriteString(fmt.Sprintf("; and %d more", len(e.Diagnostics)-i))
			break
		}
		sb.WriteString("; ")
		sb.WriteString(d.String())
	}
	return sb.String()
}

func (e *ParseFailure) Unwrap() error {
	return ErrParseFailed
}
