package inject

import (
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Dialect identifies the grammar used for a source file.
type Dialect string

const (
	// DialectAuto selects the grammar from the filename and content.
	DialectAuto Dialect = ""
	// DialectJavaScript covers modern JavaScript including JSX.
	DialectJavaScript Dialect = "javascript"
	// DialectTypeScript covers TypeScript without JSX.
	DialectTypeScript Dialect = "typescript"
	// DialectTSX covers TypeScript with JSX.
	DialectTSX Dialect = "tsx"
)

func (d Dialect) language() *sitter.Language {
	switch d {
	case DialectTypeScript:
		return typescript.GetLanguage()
	case DialectTSX:
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

var typeScriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*(export\s+)?(declare\s+)?interface\s+[A-Za-z_$][\w$]*`),
	regexp.MustCompile(`(?m)^\s*(export\s+)?(declare\s+)?type\s+[A-Za-z_$][\w$]*\s*(<[^>]*>)?\s*=`),
	regexp.MustCompile(`(?m)^\s*(export\s+)?(declare\s+)?(const\s+)?enum\s+[A-Za-z_$][\w$]*\s*\{`),
	regexp.MustCompile(`(?m)^\s*(export\s+)?declare\s+(const|let|var|function|class|module|namespace|global)\b`),
	regexp.MustCompile(`(?m)^\s*(export\s+)?namespace\s+[A-Za-z_$][\w$.]*\s*\{`),
	regexp.MustCompile(`[\w$)\]]\s*\??:\s*(string|number|boolean|any|unknown|void|never|bigint|symbol)\b\s*[,;=)\[\]{}|&>]`),
	regexp.MustCompile(`\)\s*:\s*(Promise|Array|Record|Map|Set|Partial|Readonly)\s*<`),
	regexp.MustCompile(`\bas\s+(const|string|number|boolean|any|unknown)\b`),
	regexp.MustCompile(`(?m)^\s*(public|private|protected|readonly)\s+[A-Za-z_$][\w$]*\s*[:;=(?]`),
	regexp.MustCompile(`\bclass\s+[A-Za-z_$][\w$]*(\s*<[^>]*>)?(\s+extends\s+[\w$.]+(<[^>]*>)?)?\s+implements\s`),
	regexp.MustCompile(`\bimport\s+type\s`),
	regexp.MustCompile(`\babstract\s+class\b`),
	regexp.MustCompile(`\bfunction\s*\*?\s*[A-Za-z_$][\w$]*\s*<[A-Za-z_$][\w$]*(\s+extends\s[^>]+)?(\s*,\s*[A-Za-z_$][\w$]*)*>\s*\(`),
	regexp.MustCompile(`[\w$)\]]!\.[A-Za-z_$]`),
}

var jsxPatterns = []*regexp.Regexp{
	regexp.MustCompile(`</[A-Za-z][\w.:-]*\s*>`),
	regexp.MustCompile(`<[A-Za-z][\w.:-]*(\s+[^<>]*)?/>`),
	regexp.MustCompile(`(return|=>|[=(?:,]|&&|\|\|)\s*<[A-Za-z][\w.]*(\s+[\w:-]+(=|\s|>|/)|>)`),
	regexp.MustCompile(`<>|</>`),
}

// DetectDialect selects a grammar for the source. TypeScript file extensions are decisive, otherwise the
// content is scanned for type-only syntax and JSX.
func DetectDialect(filename, source string) Dialect {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ts", ".mts", ".cts":
		return DialectTypeScript
	case ".tsx":
		return DialectTSX
	}

	typed := matchesAny(typeScriptPatterns, source)
	if matchesAny(jsxPatterns, source) {
		if typed {
			return DialectTSX
		}
		return DialectJavaScript // the javascript grammar includes jsx
	} else if typed {
		return DialectTypeScript
	}
	return DialectJavaScript
}

func matchesAny(patterns []*regexp.Regexp, source string) bool {
	for _, p := range patterns {
		if p.MatchString(source) {
			return true
		}
	}
	return false
}
