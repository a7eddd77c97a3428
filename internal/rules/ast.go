package rules

// ValueType is the static type of an expression node.
type ValueType int

const (
	TUnknown ValueType = iota
	TBool
	TNumber
	TString
	TRegex
	// TDynamic is the type of a relation-metadata path (`meta.foo.bar`)
	// or of @relation_meta(...): its JSON-extracted value is compared
	// against whatever type the other side of the comparison is.
	TDynamic
)

func (t ValueType) String() string {
	switch t {
	case TBool:
		return "bool"
	case TNumber:
		return "number"
	case TString:
		return "string"
	case TRegex:
		return "regex"
	case TDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Node is any expression in the parsed AST.
type Node interface {
	Type() ValueType
	Pos() int
}

type base struct {
	pos int
	typ ValueType
}

func (b base) Pos() int      { return b.pos }
func (b base) Type() ValueType { return b.typ }

// BoolLit, NumberLit, StringLit, RegexLit are literal leaves.
type BoolLit struct {
	base
	Value bool
}

type NumberLit struct {
	base
	Value float64
}

type StringLit struct {
	base
	Value string
}

type RegexLit struct {
	base
	Value string
}

// Identifier names an object attribute or a `meta.`-prefixed
// relation-metadata path.
type Identifier struct {
	base
	Name string
	Path []string // dotted segments after the root, empty for plain attributes
}

// Call is a builtin function invocation, e.g. @has_symbol("ARCHIVE").
type Call struct {
	base
	Name string
	Args []Node
}

// NotExpr negates a boolean operand.
type NotExpr struct {
	base
	X Node
}

// Logical is an `and`/`or` combination with short-circuit semantics.
type Logical struct {
	base
	Op   Kind // And or Or
	X, Y Node
}

// Compare is a binary comparison between two typed operands.
type Compare struct {
	base
	Op   Kind // Eq, Ne, Lt, Le, Gt, Ge, Match
	X, Y Node
}
