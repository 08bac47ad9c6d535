package inject

import (
	"strings"
)

// grammar node kinds referenced by the strategies
const (
	kindProgram               = "program"
	kindComment               = "comment"
	kindStatementBlock        = "statement_block"
	kindExpressionStatement   = "expression_statement"
	kindImportStatement       = "import_statement"
	kindExportStatement       = "export_statement"
	kindReturnStatement       = "return_statement"
	kindSwitchCase            = "switch_case"
	kindSwitchDefault         = "switch_default"
	kindElseClause            = "else_clause"
	kindIfStatement           = "if_statement"
	kindLabeledStatement      = "labeled_statement"
	kindFunctionDeclaration   = "function_declaration"
	kindGeneratorFunctionDecl = "generator_function_declaration"
	kindFunctionExpression    = "function_expression"
	kindFunction              = "function"
	kindGeneratorFunction     = "generator_function"
	kindArrowFunction         = "arrow_function"
	kindMethodDefinition      = "method_definition"
	kindClassBody             = "class_body"
	kindVariableDeclarator    = "variable_declarator"
	kindIdentifier            = "identifier"
	kindPropertyIdentifier    = "property_identifier"
	kindPair                  = "pair"
	kindAssignmentExpression  = "assignment_expression"
)

// statementKinds are the node kinds which are statements or declarations in statement position.
var statementKinds = map[string]bool{
	kindExpressionStatement:   true,
	"variable_declaration":    true,
	"lexical_declaration":     true,
	kindFunctionDeclaration:   true,
	kindGeneratorFunctionDecl: true,
	"class_declaration":       true,
	kindImportStatement:       true,
	kindExportStatement:       true,
	kindStatementBlock:        true,
	kindIfStatement:           true,
	"switch_statement":        true,
	"for_statement":           true,
	"for_in_statement":        true,
	"while_statement":         true,
	"do_statement":            true,
	"try_statement":           true,
	"with_statement":          true,
	"break_statement":         true,
	"continue_statement":      true,
	kindReturnStatement:       true,
	"throw_statement":         true,
	"empty_statement":         true,
	kindLabeledStatement:      true,
	"debugger_statement":      true,
	// typescript
	"interface_declaration":      true,
	"type_alias_declaration":     true,
	"enum_declaration":           true,
	"abstract_class_declaration": true,
	"module":                     true,
	"internal_module":            true,
	"ambient_declaration":        true,
	"import_alias":               true,
	"function_signature":         true,
}

// singleStatementSlots maps statement kinds to the field holding a single nested statement.
var singleStatementSlots = map[string]string{
	kindIfStatement:    "consequence",
	"for_statement":    "body",
	"for_in_statement": "body",
	"while_statement":  "body",
	"do_statement":     "body",
	"with_statement":   "body",
}

// functionKinds are the nodes which start a new function scope.
var functionKinds = map[string]bool{
	kindFunctionDeclaration:   true,
	kindGeneratorFunctionDecl: true,
	kindFunctionExpression:    true,
	kindFunction:              true,
	kindGeneratorFunction:     true,
	kindArrowFunction:         true,
	kindMethodDefinition:      true,
}

// estreeNames overrides the generated ESTree names where the grammar naming differs.
var estreeNames = map[string]string{
	"lexical_declaration":        "VariableDeclaration",
	kindStatementBlock:           "BlockStatement",
	"for_in_statement":           "ForInStatement",
	"do_statement":               "DoWhileStatement",
	kindGeneratorFunctionDecl:    "FunctionDeclaration",
	kindImportStatement:          "ImportDeclaration",
	"class_declaration":          "ClassDeclaration",
	"abstract_class_declaration": "ClassDeclaration",
	"interface_declaration":      "TSInterfaceDeclaration",
	"type_alias_declaration":     "TSTypeAliasDeclaration",
	"enum_declaration":           "TSEnumDeclaration",
	"module":                     "TSModuleDeclaration",
	"internal_module":            "TSModuleDeclaration",
	"ambient_declaration":        "TSDeclareFunction",
	"import_alias":               "TSImportEqualsDeclaration",
	"function_signature":         "TSDeclareFunction",
	kindExportStatement:          "ExportNamedDeclaration",
	kindMethodDefinition:         "ClassMethod",
	kindArrowFunction:            "ArrowFunctionExpression",
	kindFunctionExpression:       "FunctionExpression",
	kindFunction:                 "FunctionExpression",
	kindGeneratorFunction:        "FunctionExpression",
}

// estreeName converts a grammar kind to the ESTree style node name, for example if_statement to IfStatement.
func estreeName(n *Node) string {
	if n.Kind == kindExportStatement {
		for _, c := range n.Children {
			if c.Kind == "default" && !c.Named {
				return "ExportDefaultDeclaration"
			} else if c.Kind == "*" && !c.Named {
				return "ExportAllDeclaration"
			}
		}
	}
	if name, ok := estreeNames[n.Kind]; ok {
		return name
	}
	parts := strings.Split(n.Kind, "_")
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}

func isStatementList(n *Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case kindProgram, kindStatementBlock, kindSwitchCase, kindSwitchDefault:
		return true
	}
	return false
}

// inStatementPosition reports if n is a statement which may receive a sibling statement.
func inStatementPosition(n *Node) bool {
	if n.synthetic || !n.Named || !statementKinds[n.Kind] {
		return false
	}
	parent := n.Parent
	if parent == nil {
		return false
	} else if isStatementList(parent) {
		return true
	} else if parent.Kind == kindElseClause {
		return true
	}
	slot, ok := singleStatementSlots[parent.Kind]
	return ok && n.Field == slot
}

// enclosingFunction returns the nearest function node containing n, or nil at top level.
func enclosingFunction(n *Node) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Named && functionKinds[p.Kind] {
			return p
		}
	}
	return nil
}

// functionName resolves the name a function is known by, including names bound through declarators,
// assignments and object properties.
func functionName(fn *Node, source []byte) string {
	if name := fn.ChildByField("name"); name != nil {
		return name.Text(source)
	}
	parent := fn.Parent
	if parent == nil {
		return ""
	}
	switch parent.Kind {
	case kindVariableDeclarator:
		if name := parent.ChildByField("name"); name != nil && name.Kind == kindIdentifier {
			return name.Text(source)
		}
	case kindPair, kindAssignmentExpression:
		if named := parent.NamedChildren(); len(named) > 0 && named[0] != fn {
			return named[0].Text(source)
		}
	}
	return ""
}

func isAsyncFunction(fn *Node) bool {
	for _, c := range fn.Children {
		if c.Kind == "async" && !c.Named {
			return true
		}
	}
	return false
}

func isGeneratorFunction(fn *Node) bool {
	switch fn.Kind {
	case kindGeneratorFunctionDecl, kindGeneratorFunction:
		return true
	}
	for _, c := range fn.Children {
		if c.Kind == "*" && !c.Named {
			return true
		}
	}
	return false
}
