package rules

import "fmt"

// QueryType selects which of the three fixed templates a compiled
// rule is meant to be appended to.
type QueryType int

const (
	Search QueryType = iota
	ScenarioLocal
	ScenarioGlobal
)

// Compiled is the result of ParseToSQL: a WHERE-style fragment, an
// optional CTE preamble, the parameter values in placeholder order,
// and the compiler version the rule was compiled against.
type Compiled struct {
	SQL        string
	WithClause string
	Args       []any
	Version    string
}

// fragment is an intermediate SQL expression plus the ordered
// parameter values its placeholders refer to.
type fragment struct {
	expr string
	args []any
}

func lit(expr string, args ...any) fragment {
	return fragment{expr: expr, args: args}
}

// lowerer walks a type-checked AST and emits parameterized SQL. The
// object-row alias is always "obj"; the inbound-relation alias is
// always "rel" — present (possibly all-NULL-metadata) for every
// object because grapher inserts a synthetic root relation
// (parent_object_id IS NULL) when it commits a work's root object,
// so "meta.*" paths are always resolvable through one join shape.
type lowerer struct {
	queryType QueryType
}

func (lw *lowerer) lower(n Node) (fragment, error) {
	switch v := n.(type) {
	case *BoolLit:
		if v.Value {
			return lit("?", 1), nil
		}
		return lit("?", 0), nil
	case *NumberLit:
		return lit("?", v.Value), nil
	case *StringLit:
		return lit("?", v.Value), nil
	case *RegexLit:
		return lit("?", v.Value), nil
	case *Identifier:
		return lw.lowerIdentifier(v)
	case *Call:
		return lw.lowerCall(v)
	case *NotExpr:
		x, err := lw.lower(v.X)
		if err != nil {
			return fragment{}, err
		}
		return fragment{expr: "NOT (" + x.expr + ")", args: x.args}, nil
	case *Logical:
		x, err := lw.lower(v.X)
		if err != nil {
			return fragment{}, err
		}
		y, err := lw.lower(v.Y)
		if err != nil {
			return fragment{}, err
		}
		op := "AND"
		if v.Op == Or {
			op = "OR"
		}
		return fragment{
			expr: fmt.Sprintf("(%s) %s (%s)", x.expr, op, y.expr),
			args: append(append([]any{}, x.args...), y.args...),
		}, nil
	case *Compare:
		return lw.lowerCompare(v)
	default:
		return fragment{}, fmt.Errorf("rules: unhandled node type %T", n)
	}
}

func (lw *lowerer) lowerIdentifier(id *Identifier) (fragment, error) {
	if len(id.Path) > 0 {
		return metaExtractExpr("rel.metadata", id.Path), nil
	}
	attr, ok := objectAttributes[id.Name]
	if !ok {
		return fragment{}, fmt.Errorf("rules: unknown identifier %q", id.Name)
	}
	return lit(attr.column), nil
}

// metaExtractExpr renders a JSON-path extraction against a metadata
// column for the given dotted path segments. The path comes from
// user-authored rule text, so it is always bound as a placeholder
// argument, never interpolated into the SQL text itself - a literal
// segment containing a quote must not be able to break out of the
// json_extract path string.
func metaExtractExpr(column string, path []string) fragment {
	jsonPath := "$"
	for _, seg := range path {
		jsonPath += "." + seg
	}
	return lit(fmt.Sprintf("json_extract(%s, ?)", column), jsonPath)
}

// builtinColumnAliases maps the zero-arg builtin spelling of an
// object attribute (e.g. "@object_size()") to the bare-identifier key
// objectAttributes is keyed by (e.g. "size"): the two surface forms
// name the same column.
var builtinColumnAliases = map[string]string{
	"object_size":    "size",
	"object_type":    "object_type",
	"object_subtype": "object_subtype",
	"org":            "org",
	"ctime":          "ctime",
}

func (lw *lowerer) lowerCall(c *Call) (fragment, error) {
	if col, ok := builtinColumnAliases[c.Name]; ok {
		return lit(objectAttributes[col].column), nil
	}
	switch c.Name {
	case "has_symbol":
		sym, ok := c.Args[0].(*StringLit)
		if !ok {
			return lw.lowerSymbolExistsDynamic(c.Args[0])
		}
		return lit(symbolExistsSQL(), sym.Value), nil
	case "match_clamav_sig":
		sig, ok := c.Args[0].(*StringLit)
		if !ok {
			return lw.lowerSymbolExistsDynamic(c.Args[0])
		}
		return lit(symbolExistsSQL(), sig.Value), nil
	case "match_yara":
		rule, ok := c.Args[0].(*StringLit)
		if !ok {
			return lw.lowerSymbolExistsDynamic(c.Args[0])
		}
		return lit(symbolExistsSQL(), "YARA:"+rule.Value), nil
	case "relation_meta":
		pathLit, ok := c.Args[0].(*StringLit)
		if !ok {
			return fragment{}, fmt.Errorf("rules: %s requires a literal path", c.Name)
		}
		return metaExtractExpr("rel.metadata", splitDotted(pathLit.Value)), nil
	case "match_object_meta":
		pathLit, ok := c.Args[0].(*StringLit)
		if !ok {
			return fragment{}, fmt.Errorf("rules: %s requires a literal path", c.Name)
		}
		patternArg, err := lw.lower(c.Args[1])
		if err != nil {
			return fragment{}, err
		}
		metaFrag := metaExtractExpr("rel.metadata", splitDotted(pathLit.Value))
		expr := fmt.Sprintf("REGEXP_MATCH(%s, %s)", metaFrag.expr, patternArg.expr)
		return fragment{expr: expr, args: append(append([]any{}, metaFrag.args...), patternArg.args...)}, nil
	default:
		return fragment{}, fmt.Errorf("rules: unhandled builtin %q", c.Name)
	}
}

func (lw *lowerer) lowerSymbolExistsDynamic(n Node) (fragment, error) {
	arg, err := lw.lower(n)
	if err != nil {
		return fragment{}, err
	}
	return fragment{expr: symbolExistsSQL(), args: arg.args}, nil
}

func symbolExistsSQL() string {
	return "EXISTS (SELECT 1 FROM object_symbols os WHERE os.object_id = obj.object_id AND os.symbol = ?)"
}

func (lw *lowerer) lowerCompare(cmp *Compare) (fragment, error) {
	if cmp.Op == Match {
		x, err := lw.lower(cmp.X)
		if err != nil {
			return fragment{}, err
		}
		re, ok := cmp.Y.(*RegexLit)
		if !ok {
			return fragment{}, fmt.Errorf("rules: ~ requires a regex literal")
		}
		return fragment{
			expr: fmt.Sprintf("REGEXP_MATCH(%s, ?)", x.expr),
			args: append(append([]any{}, x.args...), re.Value),
		}, nil
	}

	x, err := lw.lower(cmp.X)
	if err != nil {
		return fragment{}, err
	}
	y, err := lw.lower(cmp.Y)
	if err != nil {
		return fragment{}, err
	}
	x.expr = castForComparison(x.expr, cmp.X.Type(), cmp.Y.Type())
	y.expr = castForComparison(y.expr, cmp.Y.Type(), cmp.X.Type())

	op := sqlOperator(cmp.Op)
	return fragment{
		expr: fmt.Sprintf("%s %s %s", x.expr, op, y.expr),
		args: append(append([]any{}, x.args...), y.args...),
	}, nil
}

// castForComparison wraps a Dynamic (json_extract) operand with a
// numeric cast when compared against a Number, so "meta.count > 3"
// compares numerically rather than lexicographically.
func castForComparison(expr string, selfType, otherType ValueType) string {
	if selfType == TDynamic && otherType == TNumber {
		return "CAST(" + expr + " AS REAL)"
	}
	return expr
}

func sqlOperator(k Kind) string {
	switch k {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "="
	}
}

// queryTemplates documents (for humans, not executed here) how each
// Compiled fragment is meant to be appended by the caller:
//
//	Search:         SELECT obj.* FROM objects obj
//	                LEFT JOIN relations rel ON rel.child_object_id = obj.object_id
//	                WHERE <SQL>
//	ScenarioLocal:  SELECT obj.* FROM objects obj
//	                JOIN relations rel ON rel.child_object_id = obj.object_id
//	                WHERE rel.work_id = ? AND (<SQL>)
//	ScenarioGlobal: SELECT 1 WHERE <SQL>   -- <SQL> itself is the EXISTS-wrapped tree predicate
func compileForQueryType(root Node, qt QueryType) (fragment, error) {
	lw := &lowerer{queryType: qt}
	frag, err := lw.lower(root)
	if err != nil {
		return fragment{}, err
	}
	if qt != ScenarioGlobal {
		return frag, nil
	}
	// ScenarioGlobal predicates are existential over the work's full
	// tree: "some object in this work satisfies the local predicate".
	// This closes an Open Question the source left implicit (how
	// aggregate context composes with per-object predicates).
	wrapped := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM objects obj JOIN relations rel ON rel.child_object_id = obj.object_id WHERE rel.work_id = ? AND (%s))",
		frag.expr,
	)
	return fragment{expr: wrapped, args: append([]any{workIDPlaceholder{}}, frag.args...)}, nil
}

// workIDPlaceholder marks the position where the caller must splice
// in the evaluated work_id; ParseToSQL never knows the work id itself
// (it is a pure function of the rule text), so it leaves this marker
// in Args for the caller (director) to replace before execution.
type workIDPlaceholder struct{}
