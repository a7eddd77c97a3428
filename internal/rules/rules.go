// Package rules implements the scenario/search rule language: a small
// typed boolean-expression DSL that compiles to parameterized SQL
// fragments instead of being interpreted. The grammar is kept as data
// (token.go, schema.go) and walked by a hand-written precedence
// parser (lexer.go, parser.go) so that extending the language is a
// table edit, not a new code path.
package rules

// ParseToSQL lexes, parses, type-checks and SQL-lowers a rule,
// returning a Compiled fragment ready to be spliced into one of the
// three fixed query templates documented next to compileForQueryType.
//
// ScenarioGlobal fragments carry a workIDPlaceholder in Args at the
// position the work id belongs; callers must run the result through
// BindWorkID before executing it.
func ParseToSQL(text string, queryType QueryType) (Compiled, error) {
	toks, diag := newLexer(text).Tokenize()
	if diag != nil {
		return Compiled{}, diag
	}
	root, diag := newParser(toks).parseExpr()
	if diag != nil {
		return Compiled{}, diag
	}
	if root.Type() != TBool {
		return Compiled{}, errAt(root.Pos(), 1, "rule must be a boolean expression, got %s", root.Type())
	}

	frag, err := compileForQueryType(root, queryType)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{
		SQL:     frag.expr,
		Args:    frag.args,
		Version: CurrentVersion,
	}, nil
}

// BindWorkID substitutes a concrete work id into the first
// workIDPlaceholder found in c.Args (ScenarioGlobal compiles leave
// exactly one). Calling it on a fragment with no placeholder is a
// no-op.
func BindWorkID(c Compiled, workID string) Compiled {
	bound := make([]any, len(c.Args))
	for i, a := range c.Args {
		if _, ok := a.(workIDPlaceholder); ok {
			bound[i] = workID
			continue
		}
		bound[i] = a
	}
	c.Args = bound
	return c
}
