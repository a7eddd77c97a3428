package rules

// ParseAndExtractClamSignatures parses a rule and returns every
// ClamAV/YARA signature literal it references via a builtin flagged
// isSignatureMatcher in schema.go (match_clamav_sig, match_yara),
// in first-occurrence order with duplicates removed. sigmgr uses this
// to know which signatures a scenario's rules need deployed to clamd
// before the scenario can ever match.
func ParseAndExtractClamSignatures(ruleText string) ([]string, error) {
	toks, diag := newLexer(ruleText).Tokenize()
	if diag != nil {
		return nil, diag
	}
	root, diag := newParser(toks).parseExpr()
	if diag != nil {
		return nil, diag
	}

	var sigs []string
	seen := make(map[string]bool)
	walkCalls(root, func(c *Call) {
		sig, ok := builtins[c.Name]
		if !ok || !sig.isSignatureMatcher || len(c.Args) == 0 {
			return
		}
		lit, ok := c.Args[0].(*StringLit)
		if !ok {
			return
		}
		name := lit.Value
		if c.Name == "match_yara" {
			name = "YARA:" + name
		}
		if seen[name] {
			return
		}
		seen[name] = true
		sigs = append(sigs, name)
	})
	return sigs, nil
}

// walkCalls visits every Call node reachable from n, depth-first,
// left-to-right — the same order the rule text lists them in.
func walkCalls(n Node, visit func(*Call)) {
	switch v := n.(type) {
	case *Call:
		visit(v)
		for _, arg := range v.Args {
			walkCalls(arg, visit)
		}
	case *NotExpr:
		walkCalls(v.X, visit)
	case *Logical:
		walkCalls(v.X, visit)
		walkCalls(v.Y, visit)
	case *Compare:
		walkCalls(v.X, visit)
		walkCalls(v.Y, visit)
	}
}
