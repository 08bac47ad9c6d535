package inject

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// maxDiagnostics bounds the collected diagnostics on heavily malformed input.
const maxDiagnostics = 50

// ModuleMode controls how top level import and export statements are treated.
type ModuleMode string

const (
	// ModuleModeModule parses the source as an ES module, this is the default.
	ModuleModeModule ModuleMode = "module"
	// ModuleModeScript reports top level import and export statements as diagnostics.
	ModuleModeScript ModuleMode = "script"
)

// ParseOptions provides optional hints for parsing.
type ParseOptions struct {
	// Filename is used for dialect detection and in source maps.
	Filename string
	// ModuleMode defaults to ModuleModeModule.
	ModuleMode ModuleMode
	// Dialect forces a grammar, DialectAuto detects from the filename and content.
	Dialect Dialect
}

func (o ParseOptions) validate() error {
	switch o.ModuleMode {
	case "", ModuleModeModule, ModuleModeScript:
	default:
		return fmt.Errorf("%w: unknown module mode %q", ErrInvalidOptions, o.ModuleMode)
	}
	switch o.Dialect {
	case DialectAuto, DialectJavaScript, DialectTypeScript, DialectTSX:
	default:
		return fmt.Errorf("%w: unknown dialect %q", ErrInvalidOptions, o.Dialect)
	}
	return nil
}

// Token is a leaf of the syntax tree.
type Token struct {
	Kind   string
	Text   string
	Start  int
	End    int
	Line   int
	Column int
}

// File is a parsed source file.
type File struct {
	// Source is the parsed text.
	Source []byte
	// Filename is the hint given at parse time, may be empty.
	Filename string
	// Dialect is the grammar selected for parsing.
	Dialect Dialect
	// Root is the program node.
	Root *Node
	// Diagnostics lists syntax problems, the tree is best effort when not empty.
	Diagnostics []Diagnostic
	// Tokens lists the leaf tokens in source order, comments included.
	Tokens []Token
}

// TotalLines returns the number of newline separated lines of the source.
func (f *File) TotalLines() int {
	return strings.Count(string(f.Source), "\n") + 1
}

// Parse builds a syntax tree for the source. Syntax errors are reported as diagnostics on the returned File.
func Parse(ctx context.Context, source string, opts ParseOptions) (*File, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	content := []byte(source)
	dialect := opts.Dialect
	if dialect == DialectAuto {
		dialect = DetectDialect(opts.Filename, source)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(dialect.language())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()

	f := &File{
		Source:   content,
		Filename: opts.Filename,
		Dialect:  dialect,
	}
	c := converter{file: f}
	f.Root = c.convert(tree.RootNode(), nil, "")
	if opts.ModuleMode == ModuleModeScript {
		f.checkScriptMode()
	}
	return f, nil
}

// converter copies the tree-sitter tree into owned nodes while collecting tokens and diagnostics.
type converter struct {
	file *File
}

// trackedFields are the grammar fields the strategies rely on.
var trackedFields = []string{
	"name", "body", "value", "consequence", "alternative", "initializer", "declaration", "label",
}

func (c *converter) convert(sn *sitter.Node, parent *Node, field string) *Node {
	start, end := sn.StartPoint(), sn.EndPoint()
	n := &Node{
		Kind:      sn.Type(),
		Field:     field,
		Named:     sn.IsNamed(),
		Start:     int(sn.StartByte()),
		End:       int(sn.EndByte()),
		StartLine: int(start.Row) + 1,
		EndLine:   int(end.Row) + 1,
		StartCol:  int(start.Column),
		Parent:    parent,
	}
	if sn.IsError() || sn.IsMissing() {
		c.diagnose(sn, n)
	}

	count := int(sn.ChildCount())
	if count == 0 {
		if n.End > n.Start {
			c.file.Tokens = append(c.file.Tokens, Token{
				Kind:   n.Kind,
				Text:   string(c.file.Source[n.Start:n.End]),
				Start:  n.Start,
				End:    n.End,
				Line:   n.StartLine,
				Column: n.StartCol,
			})
		}
		return n
	}

	fields := make(map[[2]uint32]string)
	for _, name := range trackedFields {
		if fc := sn.ChildByFieldName(name); fc != nil {
			fields[[2]uint32{fc.StartByte(), fc.EndByte()}] = name
		}
	}
	n.Children = make([]*Node, 0, count)
	for i := 0; i < count; i++ {
		child := sn.Child(i)
		if child == nil {
			continue
		}
		childField := fields[[2]uint32{child.StartByte(), child.EndByte()}]
		if childField != "" && !child.IsNamed() {
			childField = "" // a keyword sharing the span of a zero width field
		}
		n.Children = append(n.Children, c.convert(child, n, childField))
	}
	return n
}

func (c *converter) diagnose(sn *sitter.Node, n *Node) {
	if len(c.file.Diagnostics) >= maxDiagnostics {
		return
	}
	msg := "Syntax error"
	if sn.IsMissing() {
		msg = fmt.Sprintf("Missing %s", sn.Type())
	} else if n.End > n.Start && n.End-n.Start < 100 {
		msg = fmt.Sprintf("Unexpected: %s", limitString(string(c.file.Source[n.Start:n.End]), 50))
	}
	c.file.Diagnostics = append(c.file.Diagnostics, Diagnostic{
		Message: msg,
		Line:    n.StartLine,
		Column:  n.StartCol,
	})
}

func (f *File) checkScriptMode() {
	for _, stmt := range f.Root.Children {
		if stmt.Kind != kindImportStatement && stmt.Kind != kindExportStatement {
			continue
		} else if len(f.Diagnostics) >= maxDiagnostics {
			return
		}
		keyword := "import"
		if stmt.Kind == kindExportStatement {
			keyword = "export"
		}
		f.Diagnostics = append(f.Diagnostics, Diagnostic{
			Message: fmt.Sprintf("'%s' may appear only with module mode", keyword),
			Line:    stmt.StartLine,
			Column:  stmt.StartCol,
		})
	}
}

func limitString(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
