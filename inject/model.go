package inject

import (
	"fmt"
	"sort"
	"strings"
)

// Version is the engine version, compared against declaration files MinEngineVersion.
const Version = "v1.2.0"

// DefaultTraceFunction is the identifier invoked by every injected statement.
const DefaultTraceFunction = "__trace__"

// Kind selects the injection strategy for a declaration.
type Kind string

const (
	// KindBefore inserts the call as the statement preceding the one starting on the target line.
	KindBefore Kind = "before"
	// KindAfter inserts the call as the statement following the one containing the target line.
	KindAfter Kind = "after"
	// KindEntry inserts the call as the first statement of the named function body.
	KindEntry Kind = "entry"
	// KindExit inserts the call before every return owned by the named function.
	KindExit Kind = "exit"
)

// Kinds lists every supported Kind in dispatch order.
var Kinds = []Kind{KindBefore, KindAfter, KindEntry, KindExit}

// FailureKind is the stable identifier of an injection failure category.
type FailureKind string

const (
	FailureMissingLineNumber   FailureKind = "MISSING_LINE_NUMBER"
	FailureLineOutOfRange      FailureKind = "LINE_OUT_OF_RANGE"
	FailureNoStatementFound    FailureKind = "NO_STATEMENT_FOUND"
	FailureMissingFunctionName FailureKind = "MISSING_FUNCTION_NAME"
	FailureNoFunctionFound     FailureKind = "NO_FUNCTION_FOUND"
	FailureInjectionFailed     FailureKind = "INJECTION_FAILED"
)

// FailureKinds lists every FailureKind.
var FailureKinds = []FailureKind{
	FailureMissingLineNumber, FailureLineOutOfRange, FailureNoStatementFound,
	FailureMissingFunctionName, FailureNoFunctionFound, FailureInjectionFailed,
}

// TracepointDeclaration describes one requested injection.
type TracepointDeclaration struct {
	// ID identifies the declaration in reports, it is not interpreted by the engine.
	ID string `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty" msgpack:"id,omitempty"`
	// Kind selects the strategy.
	Kind Kind `json:"type" yaml:"type" toml:"type" msgpack:"k" validate:"required,oneof=before after entry exit"`
	// LineNumber is the 1-indexed target line for before and after, zero when unset.
	LineNumber int `json:"lineNumber,omitempty" yaml:"lineNumber,omitempty" toml:"lineNumber,omitempty" msgpack:"l,omitempty"`
	// FunctionName is the target function for entry and exit.
	FunctionName string `json:"functionName,omitempty" yaml:"functionName,omitempty" toml:"functionName,omitempty" msgpack:"f,omitempty"`
	// Code is the opaque label passed as the single argument of the injected call.
	Code string `json:"code" yaml:"code" toml:"code" msgpack:"c"`
	// IncludeAsync is carried through for callers, it does not change matching.
	IncludeAsync bool `json:"includeAsync,omitempty" yaml:"includeAsync,omitempty" toml:"includeAsync,omitempty" msgpack:"ia,omitempty"`
	// IncludeGenerators is carried through for callers, it does not change matching.
	IncludeGenerators bool `json:"includeGenerators,omitempty" yaml:"includeGenerators,omitempty" toml:"includeGenerators,omitempty" msgpack:"ig,omitempty"`
}

// String returns a short human readable identity for the declaration.
func (d TracepointDeclaration) String() string {
	var sb strings.Builder
	sb.WriteString(string(d.Kind))
	switch d.Kind {
	case KindBefore, KindAfter:
		sb.WriteString(fmt.Sprintf(" line %d", d.LineNumber))
	case KindEntry, KindExit:
		sb.WriteString(" ")
		sb.WriteString(d.FunctionName)
	}
	if d.ID != "" {
		sb.WriteString(" [")
		sb.WriteString(d.ID)
		sb.WriteString("]")
	}
	return sb.String()
}

// InjectionContext describes the syntactic location of an injection.
type InjectionContext struct {
	// NodeType is the ESTree style name of the anchor node.
	NodeType string `json:"nodeType" msgpack:"nt"`
	// FunctionName is the matched or enclosing function name, empty at top level.
	FunctionName string `json:"functionName,omitempty" msgpack:"fn,omitempty"`
	// IsAsync reports if the function is declared async.
	IsAsync bool `json:"isAsync" msgpack:"a,omitempty"`
	// IsGenerator reports if the function is a generator.
	IsGenerator bool `json:"isGenerator" msgpack:"g,omitempty"`
}

// InjectionRecord reports one successful injection.
type InjectionRecord struct {
	// Declaration is the declaration which produced the record.
	Declaration TracepointDeclaration `json:"tracepoint" msgpack:"d"`
	// OriginalLine is the line in the input source of the anchor node.
	OriginalLine int `json:"originalLine" msgpack:"ol"`
	// InjectedLines are the 1-indexed lines of the generated code holding the injected statement.
	InjectedLines []int `json:"injectedLines" msgpack:"il"`
	// Code is the injected statement text.
	Code string `json:"code" msgpack:"c"`
	// Context describes where the call was placed.
	Context InjectionContext `json:"context" msgpack:"ctx"`
}

// InjectionFailure reports a declaration which could not be applied.
type InjectionFailure struct {
	// Declaration is the declaration which failed.
	Declaration TracepointDeclaration `json:"tracepoint" msgpack:"d"`
	// Message is a human readable description.
	Message string `json:"message" msgpack:"m"`
	// Kind is the stable failure category.
	Kind FailureKind `json:"errorType" msgpack:"k"`
	// LineNumber is the declaration line, when relevant.
	LineNumber int `json:"lineNumber,omitempty" msgpack:"l,omitempty"`
}

// Error allows a failure to be used as an error value.
func (f InjectionFailure) Error() string {
	return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Message, f.Declaration)
}

// Result is the outcome of a single Inject call.
type Result struct {
	// Code is the generated source text, equal to the input when nothing was injected.
	Code string `msgpack:"c"`
	// SourceMap is set when source maps were requested.
	SourceMap *SourceMap `msgpack:"sm,omitempty"`
	// Injections lists records in declaration order.
	Injections []InjectionRecord `msgpack:"i"`
	// Errors lists failures in declaration order.
	Errors []InjectionFailure `msgpack:"e"`
	// Dialect is the grammar used to parse the input.
	Dialect Dialect `msgpack:"dl"`
}

// ResultSummary aggregates counts from a Result.
type ResultSummary struct {
	Injections        int
	Failures          int
	InjectionsPerKind map[Kind]int
	FailuresPerKind   map[FailureKind]int
}

// Summary counts the result records and failures by kind.
func (r *Result) Summary() ResultSummary {
	s := ResultSummary{
		Injections:        len(r.Injections),
		Failures:          len(r.Errors),
		InjectionsPerKind: make(map[Kind]int),
		FailuresPerKind:   make(map[FailureKind]int),
	}
	for _, rec := range r.Injections {
		s.InjectionsPerKind[rec.Declaration.Kind]++
	}
	for _, f := range r.Errors {
		s.FailuresPerKind[f.Kind]++
	}
	return s
}

// String formats the summary on a single line.
func (s ResultSummary) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d injections, %d failures", s.Injections, s.Failures))
	if len(s.FailuresPerKind) > 0 {
		kinds := make([]string, 0, len(s.FailuresPerKind))
		for k, c := range s.FailuresPerKind {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, c))
		}
		sort.Strings(kinds)
		sb.WriteString(" (")
		sb.WriteString(strings.Join(kinds, ", "))
		sb.WriteString(")")
	}
	return sb.String()
}
