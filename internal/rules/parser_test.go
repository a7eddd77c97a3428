package rules

import "testing"

func mustParse(t *testing.T, src string) Node {
	t.Helper()
	toks, diag := newLexer(src).Tokenize()
	if diag != nil {
		t.Fatalf("lex error for %q: %v", src, diag)
	}
	node, diag := newParser(toks).parseExpr()
	if diag != nil {
		t.Fatalf("parse error for %q: %v", src, diag)
	}
	return node
}

func TestParserValidExpressions(t *testing.T) {
	srcs := []string{
		`size > 100`,
		`object_type = "Archive"`,
		`not (org eq "acme")`,
		`size > 100 and object_type = "Archive"`,
		`@has_symbol("MIME:ZIP") or @has_symbol("MIME:RAR")`,
		`meta.filename ~ /\.exe$/`,
		`@match_clamav_sig("Sig.Test.1")`,
		`@relation_meta("archive.entry_count") gt 10`,
	}
	for _, src := range srcs {
		node := mustParse(t, src)
		if node.Type() != TBool {
			t.Errorf("%q: expected bool expression, got %s", src, node.Type())
		}
	}
}

func TestParserTypeMismatchRejected(t *testing.T) {
	srcs := []string{
		`size = "100"`,              // number vs string
		`object_type ~ "not-a-regex"`, // match requires a regex literal rhs
		`true < false`,                // bool only supports eq/ne
		`size and object_type`,        // non-bool operands to 'and'
	}
	for _, src := range srcs {
		toks, diag := newLexer(src).Tokenize()
		if diag != nil {
			continue // lexical rejection also satisfies "must not parse"
		}
		if _, diag := newParser(toks).parseExpr(); diag == nil {
			t.Errorf("%q: expected a type error, parsed successfully", src)
		}
	}
}

func TestParserUnknownIdentifierIsDiagnosticWithPosition(t *testing.T) {
	_, diag := newParser(mustTokenize(t, `bogus_field = 1`)).parseExpr()
	if diag == nil {
		t.Fatal("expected a diagnostic")
	}
	if diag.Position != 0 {
		t.Errorf("expected diagnostic at position 0, got %d", diag.Position)
	}
}

func TestParserBuiltinWrongArityIsDiagnostic(t *testing.T) {
	_, diag := newParser(mustTokenize(t, `@has_symbol("a", "b")`)).parseExpr()
	if diag == nil {
		t.Fatal("expected an arity diagnostic")
	}
}

func mustTokenize(t *testing.T, src string) []Token {
	t.Helper()
	toks, diag := newLexer(src).Tokenize()
	if diag != nil {
		t.Fatalf("lex error: %v", diag)
	}
	return toks
}
