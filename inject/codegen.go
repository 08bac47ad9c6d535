package inject

import (
	"bytes"
	"strings"
)

type output struct {
	code      string
	sourceMap *SourceMap
}

// generate prints the tree. Original nodes are reproduced from the source text including whitespace and comments,
// synthetic statements are placed on their own line using the indentation of the neighboring statement, or inline
// separated by a single space when the neighbor shares its line.
func generate(f *File, sourceMap, sourcesContent bool) output {
	p := &printer{
		src:        f.Source,
		mapping:    sourceMap,
		indentUnit: detectIndentUnit(f.Source),
		newline:    detectNewline(f.Source),
	}
	p.out.Grow(len(f.Source) + 64)
	p.gap(0, f.Root.Start)
	p.node(f.Root)
	p.gap(f.Root.End, len(f.Source))

	result := output{code: p.out.String()}
	if sourceMap {
		result.sourceMap = newSourceMap(f, p.segments, sourcesContent)
	}
	return result
}

type printer struct {
	src        []byte
	out        strings.Builder
	line, col  int // generated position, 0-indexed byte column
	mapping    bool
	segments   []segment
	indentUnit string
	newline    string
}

func (p *printer) write(s string) {
	p.out.WriteString(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		p.line += strings.Count(s, "\n")
		p.col = len(s) - i - 1
	} else {
		p.col += len(s)
	}
}

// gap writes the original source between two offsets.
func (p *printer) gap(start, end int) {
	if start < end {
		p.write(string(p.src[start:end]))
	}
}

func (p *printer) node(n *Node) {
	if n.synthetic {
		if n.Start < 0 {
			p.statement(n)
		} else {
			p.block(n)
		}
		return
	} else if len(n.Children) == 0 {
		if p.mapping {
			p.segments = append(p.segments, segment{
				genLine: p.line,
				genCol:  p.col,
				srcLine: n.StartLine - 1,
				srcCol:  n.StartCol,
			})
		}
		p.gap(n.Start, n.End)
		return
	}

	cursor := n.Start
	for i, c := range n.Children {
		if c.synthetic && c.Start < 0 {
			cursor = p.inserted(n, i, cursor)
			continue
		}
		p.gap(cursor, c.Start)
		p.node(c)
		if c.End > cursor {
			cursor = c.End
		}
	}
	p.gap(cursor, n.End)
}

func (p *printer) statement(n *Node) {
	n.outLine = p.line + 1
	p.write(n.text)
}

// block prints a synthetic block which replaced a statement in a single statement slot.
func (p *printer) block(n *Node) {
	p.write("{ ")
	for i, c := range n.Children {
		if i > 0 {
			p.write(" ")
		}
		p.node(c)
	}
	p.write(" }")
}

// inserted lays out the synthetic statement at parent.Children[i] and returns the updated source cursor.
func (p *printer) inserted(parent *Node, i int, cursor int) int {
	stmt := parent.Children[i]
	prev, next := originalSibling(parent, i, -1), originalSibling(parent, i, 1)
	openBrace := prev != nil && prev.Kind == "{" && !prev.Named
	closeBrace := next != nil && next.Kind == "}" && !next.Named

	switch {
	case next != nil && !closeBrace && p.startsLine(next.Start):
		// own line, before next
		p.gap(cursor, next.Start)
		p.statement(stmt)
		p.write(p.newline + p.lineIndent(next.Start))
		return next.Start
	case prev != nil && !openBrace && (next == nil || next.StartLine > prev.EndLine):
		// own line, after prev
		p.write(p.newline + p.lineIndent(prev.Start))
		p.statement(stmt)
	case openBrace && closeBrace && next.StartLine > prev.EndLine:
		// empty multi line block
		p.write(p.newline + p.lineIndent(prev.Start) + p.indentUnit)
		p.statement(stmt)
	case prev != nil:
		if p.needsTerminator(prev) {
			p.write(";")
		}
		p.write(" ")
		p.statement(stmt)
		if next != nil && next.Start == cursor {
			p.write(" ")
		}
	default:
		p.statement(stmt)
		p.write(" ")
	}
	return cursor
}

// needsTerminator reports if a statement followed by another on the same line must be terminated first.
func (p *printer) needsTerminator(n *Node) bool {
	if !n.Named || n.Kind == kindComment {
		return false
	}
	text := p.src[n.Start:n.End]
	if bytes.HasSuffix(text, []byte(";")) {
		return false
	}
	return !bytes.HasSuffix(text, []byte("}")) || !blockTerminatedKinds[n.Kind]
}

// blockTerminatedKinds are statements which may be directly followed by another statement when ending in a block.
var blockTerminatedKinds = map[string]bool{
	kindStatementBlock:           true,
	kindIfStatement:              true,
	"for_statement":              true,
	"for_in_statement":           true,
	"while_statement":            true,
	"try_statement":              true,
	"switch_statement":           true,
	"with_statement":             true,
	kindLabeledStatement:         true,
	kindFunctionDeclaration:      true,
	kindGeneratorFunctionDecl:    true,
	"class_declaration":          true,
	"abstract_class_declaration": true,
	"interface_declaration":      true,
	"enum_declaration":           true,
	"module":                     true,
	"internal_module":            true,
}

func originalSibling(parent *Node, i, step int) *Node {
	for j := i + step; j >= 0 && j < len(parent.Children); j += step {
		if c := parent.Children[j]; !c.synthetic || c.Start >= 0 {
			return c
		}
	}
	return nil
}

func (p *printer) lineStart(offset int) int {
	return bytes.LastIndexByte(p.src[:offset], '\n') + 1
}

// startsLine reports if only whitespace precedes offset on its line.
func (p *printer) startsLine(offset int) bool {
	return len(bytes.TrimLeft(p.src[p.lineStart(offset):offset], " \t")) == 0
}

// lineIndent returns the leading whitespace of the line containing offset.
func (p *printer) lineIndent(offset int) string {
	start := p.lineStart(offset)
	end := start
	for end < len(p.src) && (p.src[end] == ' ' || p.src[end] == '\t') {
		end++
	}
	return string(p.src[start:end])
}

// detectIndentUnit returns the indentation of the first indented line, defaulting to two spaces.
func detectIndentUnit(src []byte) string {
	for _, line := range bytes.Split(src, []byte("\n")) {
		trimmed := bytes.TrimLeft(line, " \t")
		if len(trimmed) == 0 || len(trimmed) == len(line) {
			continue
		} else if line[0] == '\t' {
			return "\t"
		}
		width := len(line) - len(trimmed)
		if width > 8 {
			width = 8
		}
		return strings.Repeat(" ", width)
	}
	return "  "
}

// detectNewline returns the line terminator of the first line, "\r\n" or the default "\n".
func detectNewline(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}
