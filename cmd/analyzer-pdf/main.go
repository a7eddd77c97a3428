// cmd/analyzer-pdf is a reference analyzer backend for PDF objects: it
// extracts embedded images as children and concatenated page text as a
// single text child, grounded on the teacher's
// internal/services/pdf/extractor.go use of github.com/pdfcpu/pdfcpu.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

var (
	addr     = flag.String("addr", "127.0.0.1:9103", "Listen address")
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

	logger.Info().Str("addr", *addr).Msg("analyzer-pdf ready")
	if err := wireproto.ListenAndServe(ctx, *addr, logger, func(ctx context.Context, req wireproto.BackendRequest) (wireproto.BackendReply, error) {
		return analyze(req, dir, logger)
	}); err != nil {
		logger.Fatal().Err(err).Msg("analyzer-pdf stopped")
	}
}

func analyze(req wireproto.BackendRequest, stageDir string, logger arbor.ILogger) (wireproto.BackendReply, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(req.ObjectPath)
	if err != nil {
		return wireproto.BackendReply{Symbols: []string{"PDF_UNREADABLE"}}, nil
	}

	var children []wireproto.BackendChild

	if textPath, err := extractPageText(req.ObjectPath, pdfCtx.PageCount, conf, stageDir); err == nil && textPath != "" {
		children = append(children, wireproto.BackendChild{
			Path:             textPath,
			ForcedType:       "TEXT",
			Symbols:          []string{"PDF_TEXT"},
			RelationMetadata: map[string]any{"part": "text"},
		})
	} else if err != nil {
		logger.Warn().Err(err).Msg("analyzer-pdf: page text extraction failed")
	}

	imgDir, err := os.MkdirTemp(stageDir, "ctx-pdf-images-*")
	if err == nil {
		defer os.RemoveAll(imgDir)
		if err := api.ExtractImagesFile(req.ObjectPath, imgDir, nil, conf); err != nil {
			logger.Warn().Err(err).Msg("analyzer-pdf: image extraction failed")
		} else {
			entries, _ := os.ReadDir(imgDir)
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				staged, err := stageCopy(filepath.Join(imgDir, entry.Name()), stageDir, "ctx-pdf-image-*"+filepath.Ext(entry.Name()))
				if err != nil {
					continue
				}
				children = append(children, wireproto.BackendChild{
					Path:             staged,
					Symbols:          []string{"PDF_IMAGE"},
					RelationMetadata: map[string]any{"source_file": entry.Name()},
				})
			}
		}
	}

	return wireproto.BackendReply{
		Symbols:        []string{"PDF_DOCUMENT"},
		ObjectMetadata: map[string]any{"page_count": pdfCtx.PageCount, "encrypted": pdfCtx.Encrypt != nil},
		Children:       children,
	}, nil
}

func extractPageText(pdfPath string, pageCount int, conf *model.Configuration, stageDir string) (string, error) {
	outDir, err := os.MkdirTemp(stageDir, "ctx-pdf-pages-*")
	if err != nil {
		return "", fmt.Errorf("create page staging dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(pdfPath, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	pageTexts := make(map[int]string)
	entries, _ := os.ReadDir(outDir)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(entry.Name(), "Content_page_%d", &pageNum); err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, entry.Name()))
		if err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var full strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text, ok := pageTexts[pageNum]
		if !ok {
			continue
		}
		if full.Len() > 0 {
			fmt.Fprintf(&full, "\n\n--- Page %d ---\n\n", pageNum)
		}
		full.WriteString(text)
	}
	if full.Len() == 0 {
		return "", nil
	}

	out, err := os.CreateTemp(stageDir, "ctx-pdf-text-*")
	if err != nil {
		return "", fmt.Errorf("create text staging file: %w", err)
	}
	defer out.Close()
	if _, err := out.WriteString(full.String()); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("write page text: %w", err)
	}
	return out.Name(), nil
}

func stageCopy(srcPath, stageDir, pattern string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	out, err := os.CreateTemp(stageDir, pattern)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := out.Write(data); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}
