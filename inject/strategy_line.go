package inject

import (
	"fmt"
)

// injectAtLine handles before and after declarations. Statements are searched in pre-order so the outermost
// statement matching the line is selected. Before requires the statement to start on the line, after only
// requires the statement to span it.
func (b *batch) injectAtLine(decl TracepointDeclaration, after bool) ([]pendingRecord, *InjectionFailure) {
	if decl.LineNumber == 0 {
		return nil, b.failure(decl, FailureMissingLineNumber,
			fmt.Sprintf("line number is required for %s tracepoints", decl.Kind))
	} else if decl.LineNumber < 1 || decl.LineNumber > b.totalLines {
		return nil, b.failure(decl, FailureLineOutOfRange,
			fmt.Sprintf("line %d is out of range (file has %d lines)", decl.LineNumber, b.totalLines))
	}

	anchor := findStatementAtLine(b.file.Root, decl.LineNumber, after)
	if anchor == nil {
		return nil, b.failure(decl, FailureNoStatementFound,
			fmt.Sprintf("no statement found at line %d", decl.LineNumber))
	}

	ctx := InjectionContext{NodeType: estreeName(anchor)}
	if fn := enclosingFunction(anchor); fn != nil {
		ctx.FunctionName = functionName(fn, b.file.Source)
		ctx.IsAsync = isAsyncFunction(fn)
		ctx.IsGenerator = isGeneratorFunction(fn)
	}

	stmt := b.newCall(decl)
	insertStatement(anchor, stmt, after)
	return []pendingRecord{{
		record: InjectionRecord{
			Declaration:  decl,
			OriginalLine: anchor.StartLine,
			Code:         stmt.text,
			Context:      ctx,
		},
		node: stmt,
	}}, nil
}

func findStatementAtLine(root *Node, line int, contains bool) *Node {
	var found *Node
	walk(root, func(n *Node) walkAction {
		if n.Kind == kindComment || (!n.synthetic && (line < n.StartLine || line > n.EndLine)) {
			return walkSkipChildren
		} else if !inStatementPosition(n) {
			return walkContinue
		}
		if (contains && line >= n.StartLine && line <= n.EndLine) || n.StartLine == line {
			found = n
			return walkStop
		}
		return walkContinue
	})
	return found
}
