// Package expr implements a safe arithmetic/logic evaluator for rule
// pre-filters. It is a hand-written lexer/parser/evaluator over a
// closed grammar: no attribute access, no indexing beyond list
// literals, no function calls, and no name resolution outside the
// supplied variable map. This is deliberate — general-purpose
// expression libraries expose attribute/subscript access with a history
// of sandbox escapes; see DESIGN.md for the libraries considered and
// rejected for this reason.
package expr

// Node is a parsed expression AST node.
type Node interface{ isNode() }

type NumberLit struct{ Value float64 }
type StringLit struct{ Value string }
type BoolLit struct{ Value bool }
type ListLit struct{ Items []Node }
type NameRef struct{ Name string }

type UnaryOp struct {
	Op      string // "not", "-"
	Operand Node
}

type BinaryOp struct {
	Op          string // + - * / % > < >= <= == != and or in
	Left, Right Node
}

func (NumberLit) isNode() {}
func (StringLit) isNode() {}
func (BoolLit) isNode()   {}
func (ListLit) isNode()   {}
func (NameRef) isNode()   {}
func (UnaryOp) isNode()   {}
func (BinaryOp) isNode()  {}
