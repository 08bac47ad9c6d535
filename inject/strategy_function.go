package inject

import (
	"fmt"
)

// resolvedFunction is a function matched by name with a block body.
type resolvedFunction struct {
	node     *Node // function node, the boundary for the return walk
	body     *Node
	nodeType string
}

// resolveFunction searches in pre-order for the first function declaration, block bodied arrow function assigned
// to a variable, or class method with the given name. Arrow functions with an expression body are skipped.
func resolveFunction(root *Node, name string, source []byte) *resolvedFunction {
	var found *resolvedFunction
	walk(root, func(n *Node) walkAction {
		if !n.Named || n.synthetic {
			return walkContinue
		}
		switch n.Kind {
		case kindFunctionDeclaration, kindGeneratorFunctionDecl:
			if id := n.ChildByField("name"); id != nil && id.Text(source) == name {
				if body := n.ChildByField("body"); body != nil {
					found = &resolvedFunction{node: n, body: body, nodeType: "FunctionDeclaration"}
					return walkStop
				}
			}
		case kindVariableDeclarator:
			id := n.ChildByField("name")
			value := n.ChildByField("value")
			if id == nil || value == nil || id.Kind != kindIdentifier || value.Kind != kindArrowFunction ||
				id.Text(source) != name {
				break
			}
			if body := value.ChildByField("body"); body != nil && body.Kind == kindStatementBlock {
				found = &resolvedFunction{node: value, body: body, nodeType: "ArrowFunctionExpression"}
				return walkStop
			}
		case kindMethodDefinition:
			if n.Parent == nil || n.Parent.Kind != kindClassBody {
				break // object literal methods are not matched
			}
			if id := n.ChildByField("name"); id != nil && id.Kind == kindPropertyIdentifier && id.Text(source) == name {
				if body := n.ChildByField("body"); body != nil {
					found = &resolvedFunction{node: n, body: body, nodeType: "ClassMethod"}
					return walkStop
				}
			}
		}
		return walkContinue
	})
	return found
}

func (b *batch) resolve(decl TracepointDeclaration) (*resolvedFunction, *InjectionFailure) {
	if decl.FunctionName == "" {
		return nil, b.failure(decl, FailureMissingFunctionName,
			fmt.Sprintf("function name is required for %s tracepoints", decl.Kind))
	}
	fn := resolveFunction(b.file.Root, decl.FunctionName, b.file.Source)
	if fn == nil {
		return nil, b.failure(decl, FailureNoFunctionFound,
			fmt.Sprintf("function %q not found", decl.FunctionName))
	}
	return fn, nil
}

func (b *batch) injectEntry(decl TracepointDeclaration) ([]pendingRecord, *InjectionFailure) {
	fn, failure := b.resolve(decl)
	if failure != nil {
		return nil, failure
	}

	stmt := b.newCall(decl)
	prependToBody(fn.body, stmt)
	return []pendingRecord{{
		record: InjectionRecord{
			Declaration:  decl,
			OriginalLine: fn.node.StartLine,
			Code:         stmt.text,
			Context: InjectionContext{
				NodeType:     fn.nodeType,
				FunctionName: decl.FunctionName,
				IsAsync:      isAsyncFunction(fn.node),
				IsGenerator:  isGeneratorFunction(fn.node),
			},
		},
		node: stmt,
	}}, nil
}

func (b *batch) injectExit(decl TracepointDeclaration) ([]pendingRecord, *InjectionFailure) {
	fn, failure := b.resolve(decl)
	if failure != nil {
		return nil, failure
	}

	returns := ownedReturns(fn)
	records := make([]pendingRecord, 0, len(returns))
	for _, ret := range returns {
		stmt := b.newCall(decl)
		insertStatement(ret, stmt, false)
		records = append(records, pendingRecord{
			record: InjectionRecord{
				Declaration:  decl,
				OriginalLine: ret.StartLine,
				Code:         stmt.text,
				Context: InjectionContext{
					NodeType:     "ReturnStatement",
					FunctionName: decl.FunctionName,
					IsAsync:      isAsyncFunction(fn.node),
					IsGenerator:  isGeneratorFunction(fn.node),
				},
			},
			node: stmt,
		})
	}
	return records, nil
}

// ownedReturns collects the return statements of the function body in pre-order, excluding returns which belong
// to a nested function. Ownership is decided by walking the parent chain to the first function boundary.
func ownedReturns(fn *resolvedFunction) []*Node {
	var returns []*Node
	walk(fn.body, func(n *Node) walkAction {
		if n.Kind == kindReturnStatement && n.Named && !n.synthetic && enclosingFunction(n) == fn.node {
			returns = append(returns, n)
		}
		return walkContinue
	})
	return returns
}
