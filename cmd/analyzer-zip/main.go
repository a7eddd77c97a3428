// cmd/analyzer-zip is a reference analyzer backend: it enumerates a
// zip archive's entries as children, one relation per entry path,
// using archive/zip (no third-party zip reader appears anywhere in
// the example pack, so the standard library is the grounded choice
// here - see DESIGN.md).
package main

import (
	"archive/zip"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

var (
	addr     = flag.String("addr", "127.0.0.1:9101", "Listen address")
	stageDir = flag.String("stage-dir", "", "Directory to stage extracted children in (defaults to os.TempDir())")
)

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	dir := *stageDir
	if dir == "" {
		dir = os.TempDir()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	logger.Info().Str("addr", *addr).Msg("analyzer-zip ready")
	if err := wireproto.ListenAndServe(ctx, *addr, logger, func(ctx context.Context, req wireproto.BackendRequest) (wireproto.BackendReply, error) {
		return analyze(req, dir)
	}); err != nil {
		logger.Fatal().Err(err).Msg("analyzer-zip stopped")
	}
}

func analyze(req wireproto.BackendRequest, stageDir string) (wireproto.BackendReply, error) {
	reader, err := zip.OpenReader(req.ObjectPath)
	if err != nil {
		return wireproto.BackendReply{Symbols: []string{"ZIP_UNREADABLE"}}, nil
	}
	defer reader.Close()

	children := make([]wireproto.BackendChild, 0, len(reader.File))
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		path, err := extractEntry(entry, stageDir)
		if err != nil {
			children = append(children, wireproto.BackendChild{
				Symbols:          []string{"ZIP_ENTRY_UNREADABLE"},
				RelationMetadata: map[string]any{"path": entry.Name},
				FailReason:       "zip: " + err.Error(),
			})
			continue
		}
		children = append(children, wireproto.BackendChild{
			Path:             path,
			RelationMetadata: map[string]any{"path": entry.Name, "compressed_size": entry.CompressedSize64},
		})
	}

	return wireproto.BackendReply{
		Symbols:        []string{"ZIP_ARCHIVE"},
		ObjectMetadata: map[string]any{"entry_count": len(reader.File)},
		Children:       children,
	}, nil
}

func extractEntry(entry *zip.File, stageDir string) (string, error) {
	src, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open entry: %w", err)
	}
	defer src.Close()

	out, err := os.CreateTemp(stageDir, "ctx-zip-entry-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("extract %s: %w", filepath.Base(entry.Name), err)
	}
	return out.Name(), nil
}
