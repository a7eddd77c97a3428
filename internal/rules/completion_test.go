package rules

import "testing"

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func TestGetCodeCompletionAfterOperatorSuggestsPrimaries(t *testing.T) {
	sugg, err := GetCodeCompletion(`size > `)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A primary expression is expected here (no literal set to enumerate
	// for numbers/strings, but identifiers and builtins do suggest).
	if contains(sugg, "and") || contains(sugg, "or") {
		t.Fatalf("and/or are not valid at the start of a primary expression, got %v", sugg)
	}
	if !contains(sugg, "size") {
		t.Errorf("expected %q among suggestions, got %v", "size", sugg)
	}
}

func TestGetCodeCompletionAtExpressionStartSuggestsIdentifiersAndBuiltins(t *testing.T) {
	sugg, err := GetCodeCompletion(``)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(sugg, "size") {
		t.Errorf("expected %q among suggestions, got %v", "size", sugg)
	}
	if !contains(sugg, "@has_symbol") {
		t.Errorf("expected %q among suggestions, got %v", "@has_symbol", sugg)
	}
}

func TestGetCodeCompletionAfterValidExpressionSuggestsCombinators(t *testing.T) {
	sugg, err := GetCodeCompletion(`size > 10`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(sugg, "and") || !contains(sugg, "or") {
		t.Fatalf("expected and/or as valid continuations, got %v", sugg)
	}
}

func TestGetCodeCompletionInsideUnclosedCallSuggestsNothingFatal(t *testing.T) {
	if _, err := GetCodeCompletion(`@has_symbol(`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
