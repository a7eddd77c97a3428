package rules

// GetCodeCompletion suggests what could legally follow the given
// (possibly incomplete) rule text, by lexing and parsing it and
// reading the Expected set off of whatever Diagnostic that produces.
// It never needs a dedicated completion grammar: the same parser that
// rejects bad rules also says, at the point it gave up, which token
// kinds it would have accepted — error recovery and completion are
// the same code path.
func GetCodeCompletion(text string) ([]string, error) {
	toks, diag := newLexer(text).Tokenize()
	if diag != nil {
		return expectedToSuggestions(nil, diag), nil
	}

	_, diag = newParser(toks).parseExpr()
	if diag == nil {
		// A complete, valid expression: the only legal continuations
		// are the boolean combinators.
		return []string{"and", "or"}, nil
	}
	return expectedToSuggestions(diag.Expected, diag), nil
}

func expectedToSuggestions(expected []Kind, diag *Diagnostic) []string {
	if len(expected) == 0 {
		// Lexical errors (bad escape, unterminated literal, stray
		// character) have no token-kind alternative to suggest.
		return nil
	}
	var out []string
	for _, k := range expected {
		switch k {
		case Ident:
			out = append(out, identifierNames()...)
		case Builtin:
			out = append(out, builtinNames()...)
		case And, Or, Not, Eq, Ne, Lt, Le, Gt, Ge, Match, True, False, LParen, RParen, Comma:
			out = append(out, k.String())
		case Number, String, RawString, Regex:
			// no finite literal set to suggest
		case EOF:
			out = append(out, "")
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
