package inject

// Node is a syntax node of a parsed File. The tree is owned by the File and mutated in place by injections.
type Node struct {
	// Kind is the grammar node type, or the literal text for anonymous tokens.
	Kind string
	// Field is the field name of the node within its parent, if any.
	Field string
	// Named is false for punctuation and keyword tokens.
	Named bool
	// Start and End are byte offsets into the source, End is exclusive.
	Start, End int
	// StartLine and EndLine are 1-indexed.
	StartLine, EndLine int
	// StartCol is a 0-indexed byte column.
	StartCol int
	// Children in source order, synthetic nodes included.
	Children []*Node
	// Parent is nil for the root.
	Parent *Node

	synthetic bool
	text      string // statement text of synthetic nodes
	outLine   int    // generated line of synthetic nodes, set by the printer
}

// Synthetic reports if the node was created by an injection rather than parsed.
func (n *Node) Synthetic() bool {
	return n.synthetic
}

// IsLeaf reports if the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// ChildByField returns the first child with the given field name.
func (n *Node) ChildByField(field string) *Node {
	for _, c := range n.Children {
		if c.Field == field {
			return c
		}
	}
	return nil
}

// ChildOfKind returns the first child of the given kind.
func (n *Node) ChildOfKind(kind string) *Node {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// NamedChildren returns the named children excluding comments.
func (n *Node) NamedChildren() []*Node {
	var result []*Node
	for _, c := range n.Children {
		if c.Named && c.Kind != kindComment {
			result = append(result, c)
		}
	}
	return result
}

// Text returns the source text of the node.
func (n *Node) Text(source []byte) string {
	if n.synthetic {
		return n.text
	}
	return string(source[n.Start:n.End])
}

func (n *Node) indexInParent() int {
	if n.Parent == nil {
		return -1
	}
	for i, c := range n.Parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

type walkAction int

const (
	walkContinue walkAction = iota
	walkSkipChildren
	walkStop
)

// walk visits n and its descendants in pre-order, it returns false if the visit was stopped.
func walk(n *Node, visit func(*Node) walkAction) bool {
	switch visit(n) {
	case walkStop:
		return false
	case walkSkipChildren:
		return true
	}
	for _, c := range n.Children {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func newSyntheticStatement(text string) *Node {
	return &Node{
		Kind:      kindExpressionStatement,
		Named:     true,
		Start:     -1,
		End:       -1,
		synthetic: true,
		text:      text,
	}
}

// insertAt splices a synthetic statement into the children list of parent at the given index.
func insertAt(parent *Node, index int, stmt *Node) {
	stmt.Parent = parent
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[index+1:], parent.Children[index:])
	parent.Children[index] = stmt
}

// wrapInBlock replaces anchor with a synthetic block containing the anchor, returning the block.
func wrapInBlock(anchor *Node) *Node {
	parent := anchor.Parent
	idx := anchor.indexInParent()
	block := &Node{
		Kind:      kindStatementBlock,
		Field:     anchor.Field,
		Named:     true,
		Start:     anchor.Start,
		End:       anchor.End,
		StartLine: anchor.StartLine,
		EndLine:   anchor.EndLine,
		StartCol:  anchor.StartCol,
		Children:  []*Node{anchor},
		Parent:    parent,
		synthetic: true,
	}
	parent.Children[idx] = block
	anchor.Parent = block
	anchor.Field = ""
	return block
}

// insertStatement places stmt next to anchor, wrapping the anchor when it occupies a single statement slot.
func insertStatement(anchor, stmt *Node, after bool) {
	parent := anchor.Parent
	if !isStatementList(parent) {
		parent = wrapInBlock(anchor)
	}
	idx := anchor.indexInParent()
	if after {
		idx++
	}
	insertAt(parent, idx, stmt)
}

// prependToBody inserts stmt as the first statement of a block body, after any directive prologue.
func prependToBody(body, stmt *Node) {
	idx := 0
	for i, c := range body.Children {
		if c.Kind == "{" && !c.Named {
			idx = i + 1
			break
		}
	}
	for i := idx; i < len(body.Children); i++ {
		c := body.Children[i]
		if isDirective(c) {
			idx = i + 1
		} else if c.Kind != kindComment {
			break
		}
	}
	insertAt(body, idx, stmt)
}

// isDirective reports if n is a prologue directive such as "use strict", an expression statement of a lone string.
func isDirective(n *Node) bool {
	if n.Kind != kindExpressionStatement || n.synthetic {
		return false
	}
	var expr *Node
	for _, c := range n.Children {
		if !c.Named || c.Kind == kindComment {
			continue
		} else if expr != nil {
			return false
		}
		expr = c
	}
	return expr != nil && expr.Kind == "string"
}

// removeStatement detaches a synthetic statement. A block created to hold it is unwrapped once its anchor is
// alone again.
func removeStatement(stmt *Node) {
	parent := stmt.Parent
	idx := stmt.indexInParent()
	if idx < 0 {
		return
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	stmt.Parent = nil
	if parent.synthetic && parent.Start >= 0 && len(parent.Children) == 1 && parent.Parent != nil {
		anchor := parent.Children[0]
		grand := parent.Parent
		grand.Children[parent.indexInParent()] = anchor
		anchor.Parent, anchor.Field = grand, parent.Field
	}
}
