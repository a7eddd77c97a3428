package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

// buildFixturePDF generates a tiny single-page PDF using fpdf - the
// pack's only PDF writer, exercised here as a fixture generator since
// pdfcpu itself has no API to author content.
func buildFixturePDF(t *testing.T, dir, text string) string {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, text)

	path := filepath.Join(dir, "fixture.pdf")
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("write fixture pdf: %v", err)
	}
	return path
}

func TestAnalyzeExtractsPageText(t *testing.T) {
	dir := t.TempDir()
	path := buildFixturePDF(t, dir, "hello from ctxpipe")

	reply, err := analyze(wireproto.BackendRequest{ObjectPath: path}, dir, arbor.NewLogger())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(reply.Symbols) == 0 || reply.Symbols[0] != "PDF_DOCUMENT" {
		t.Fatalf("unexpected symbols: %+v", reply.Symbols)
	}

	found := false
	for _, c := range reply.Children {
		if c.ForcedType == "TEXT" {
			found = true
			data, err := os.ReadFile(c.Path)
			if err != nil {
				t.Fatalf("read staged text child: %v", err)
			}
			if !strings.Contains(string(data), "hello") {
				t.Fatalf("expected extracted text to contain source text, got %q", string(data))
			}
		}
	}
	if !found {
		t.Fatal("expected a TEXT child for the page text")
	}
}

func TestAnalyzeReturnsSymbolOnUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "not-a-pdf.bin")
	if err := os.WriteFile(badPath, []byte("not a pdf"), 0o644); err != nil {
		t.Fatalf("write bad fixture: %v", err)
	}

	reply, err := analyze(wireproto.BackendRequest{ObjectPath: badPath}, dir, arbor.NewLogger())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(reply.Symbols) == 0 || reply.Symbols[0] != "PDF_UNREADABLE" {
		t.Fatalf("expected PDF_UNREADABLE symbol, got %+v", reply.Symbols)
	}
}
