package rules

import (
	"reflect"
	"testing"
)

func TestParseAndExtractClamSignaturesOrderAndDedup(t *testing.T) {
	sigs, err := ParseAndExtractClamSignatures(
		`@match_clamav_sig("Sig.A") or (@match_clamav_sig("Sig.B") and @match_clamav_sig("Sig.A"))`,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Sig.A", "Sig.B"}
	if !reflect.DeepEqual(sigs, want) {
		t.Fatalf("got %v, want %v", sigs, want)
	}
}

func TestParseAndExtractClamSignaturesYaraPrefixed(t *testing.T) {
	sigs, err := ParseAndExtractClamSignatures(`@match_yara("SuspiciousMacro")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sigs) != 1 || sigs[0] != "YARA:SuspiciousMacro" {
		t.Fatalf("expected a YARA:-prefixed signature, got %v", sigs)
	}
}

func TestParseAndExtractClamSignaturesNoneFound(t *testing.T) {
	sigs, err := ParseAndExtractClamSignatures(`size > 0 and @has_symbol("MIME:ZIP")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("expected no signatures, got %v", sigs)
	}
}
