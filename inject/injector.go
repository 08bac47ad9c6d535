package inject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
)

var traceFunctionPattern = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*$`)

// Injector applies tracepoint declarations to source text.
// An Injector holds no per-call state and is safe for concurrent use.
type Injector struct {
	traceFunction  string
	sourceMap      bool
	sourcesContent bool
}

// Option configures an Injector.
type Option func(*Injector)

// WithTraceFunction sets the function invoked by injected statements, for example "__trace__" or "tracer.capture".
func WithTraceFunction(name string) Option {
	return func(i *Injector) {
		i.traceFunction = name
	}
}

// WithSourceMap enables source map generation, optionally embedding the original source.
func WithSourceMap(includeContent bool) Option {
	return func(i *Injector) {
		i.sourceMap = true
		i.sourcesContent = includeContent
	}
}

// NewInjector constructs an Injector, returning ErrInvalidOptions if the trace function is not a valid identifier path.
func NewInjector(opts ...Option) (*Injector, error) {
	i := &Injector{traceFunction: DefaultTraceFunction}
	for _, opt := range opts {
		opt(i)
	}
	if !traceFunctionPattern.MatchString(i.traceFunction) {
		return nil, fmt.Errorf("%w: trace function %q is not an identifier", ErrInvalidOptions, i.traceFunction)
	}
	return i, nil
}

// DefaultInjector injects calls to DefaultTraceFunction without source maps.
var DefaultInjector = &Injector{traceFunction: DefaultTraceFunction}

// Inject applies the declarations to the source using DefaultInjector.
func Inject(ctx context.Context, source string, decls []TracepointDeclaration, opts ParseOptions) (*Result, error) {
	return DefaultInjector.Inject(ctx, source, decls, opts)
}

// TraceFunction returns the function name used in injected statements.
func (i *Injector) TraceFunction() string {
	return i.traceFunction
}

// Inject parses the source, applies every declaration in order to a single tree, and generates the output once.
// Declarations which can not be applied are reported in Result.Errors. A *ParseFailure is returned if the source
// has syntax errors, in that case no injection is attempted.
func (i *Injector) Inject(ctx context.Context, source string, decls []TracepointDeclaration, opts ParseOptions) (*Result, error) {
	start := time.Now()
	ctx, span := startInjectSpan(ctx, opts.Filename, len(source), len(decls))
	defer span.End()

	f, err := Parse(ctx, source, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	} else if len(f.Diagnostics) > 0 {
		recordParseFailure(ctx, f.Dialect, len(f.Diagnostics))
		span.SetStatus(codes.Error, "parse failed")
		return nil, &ParseFailure{
			Filename:    opts.Filename,
			Dialect:     f.Dialect,
			Diagnostics: f.Diagnostics,
		}
	}

	b := &batch{
		injector:   i,
		file:       f,
		totalLines: f.TotalLines(),
	}
	for _, decl := range decls {
		b.apply(decl)
	}

	out := generate(f, i.sourceMap, i.sourcesContent)
	result := &Result{
		Code:       out.code,
		SourceMap:  out.sourceMap,
		Injections: make([]InjectionRecord, 0, len(b.pending)),
		Errors:     b.failures,
		Dialect:    f.Dialect,
	}
	for _, p := range b.pending {
		rec := p.record
		rec.InjectedLines = []int{p.node.outLine}
		result.Injections = append(result.Injections, rec)
	}

	setInjectSpanResult(span, result)
	recordInjectMetrics(ctx, f.Dialect, time.Since(start), result)
	return result, nil
}

// callStatement renders the injected statement for a declaration code label.
func (i *Injector) callStatement(code string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(code); err != nil {
		panic(err) // strings always encode
	}
	return i.traceFunction + "(" + strings.TrimSuffix(buf.String(), "\n") + ");"
}

type pendingRecord struct {
	record InjectionRecord
	node   *Node // synthetic statement, its output line is known after generation
}

// batch holds the state of one Inject call.
type batch struct {
	injector   *Injector
	file       *File
	totalLines int
	pending    []pendingRecord
	failures   []InjectionFailure
	created    []*Node // synthetic statements of the declaration being applied
}

func (b *batch) apply(decl TracepointDeclaration) {
	records, failure := b.dispatch(decl)
	if failure != nil {
		b.failures = append(b.failures, *failure)
		return
	}
	b.pending = append(b.pending, records...)
}

func (b *batch) dispatch(decl TracepointDeclaration) ([]pendingRecord, *InjectionFailure) {
	return b.guarded(decl, func() ([]pendingRecord, *InjectionFailure) {
		switch decl.Kind {
		case KindBefore:
			return b.injectAtLine(decl, false)
		case KindAfter:
			return b.injectAtLine(decl, true)
		case KindEntry:
			return b.injectEntry(decl)
		case KindExit:
			return b.injectExit(decl)
		default:
			return nil, b.failure(decl, FailureInjectionFailed, fmt.Sprintf("unknown tracepoint type %q", decl.Kind))
		}
	})
}

// guarded runs one declaration, converting a panic into an INJECTION_FAILED failure. Statements the declaration
// inserted before the panic are removed again, so the output never holds a call without a record.
func (b *batch) guarded(decl TracepointDeclaration,
	inject func() ([]pendingRecord, *InjectionFailure)) (records []pendingRecord, failure *InjectionFailure) {
	b.created = b.created[:0]
	defer func() {
		if r := recover(); r != nil {
			for i := len(b.created) - 1; i >= 0; i-- {
				removeStatement(b.created[i])
			}
			records = nil
			failure = b.failure(decl, FailureInjectionFailed, fmt.Sprintf("injection failed: %v", r))
		}
	}()
	return inject()
}

func (b *batch) failure(decl TracepointDeclaration, kind FailureKind, msg string) *InjectionFailure {
	return &InjectionFailure{
		Declaration: decl,
		Message:     msg,
		Kind:        kind,
		LineNumber:  decl.LineNumber,
	}
}

// newCall creates the synthetic statement for a declaration.
func (b *batch) newCall(decl TracepointDeclaration) *Node {
	stmt := newSyntheticStatement(b.injector.callStatement(decl.Code))
	b.created = append(b.created, stmt)
	return stmt
}
