// cmd/analyzer-mail is a reference analyzer backend for
// message/rfc822 objects: it decomposes a mail message into a single
// body-text child plus one child per attachment, grounded on the
// teacher's internal/services/imap/service.go::parseMessageBody use of
// github.com/emersion/go-message/mail.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

var (
	addr     = flag.String("addr", "127.0.0.1:9102", "Listen address")
	stageDir = flag.String("stage-dir", "", "Directory to stage decoded children in (defaults to os.TempDir())")
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

	logger.Info().Str("addr", *addr).Msg("analyzer-mail ready")
	if err := wireproto.ListenAndServe(ctx, *addr, logger, func(ctx context.Context, req wireproto.BackendRequest) (wireproto.BackendReply, error) {
		return analyze(req, dir)
	}); err != nil {
		logger.Fatal().Err(err).Msg("analyzer-mail stopped")
	}
}

func analyze(req wireproto.BackendRequest, stageDir string) (wireproto.BackendReply, error) {
	f, err := os.Open(req.ObjectPath)
	if err != nil {
		return wireproto.BackendReply{Symbols: []string{"MAIL_UNREADABLE"}}, nil
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil {
		return wireproto.BackendReply{Symbols: []string{"MAIL_UNREADABLE"}}, nil
	}

	var bodyText strings.Builder
	var children []wireproto.BackendChild

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			children = append(children, wireproto.BackendChild{
				Symbols:    []string{"MAIL_PART_UNREADABLE"},
				FailReason: "mail: " + err.Error(),
			})
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				b, err := io.ReadAll(part.Body)
				if err == nil {
					if bodyText.Len() > 0 {
						bodyText.WriteString("\n")
					}
					bodyText.Write(b)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			path, err := stageAttachment(part.Body, stageDir)
			if err != nil {
				children = append(children, wireproto.BackendChild{
					Symbols:          []string{"MAIL_ATTACHMENT_UNREADABLE"},
					RelationMetadata: map[string]any{"filename": filename},
					FailReason:       "mail: " + err.Error(),
				})
				continue
			}
			children = append(children, wireproto.BackendChild{
				Path:             path,
				Symbols:          []string{"MAIL_ATTACHMENT"},
				RelationMetadata: map[string]any{"filename": filename, "content_type": contentType},
			})
		}
	}

	if bodyText.Len() > 0 {
		path, err := stageText(bodyText.String(), stageDir)
		if err == nil {
			children = append([]wireproto.BackendChild{{
				Path:             path,
				ForcedType:       "TEXT",
				Symbols:          []string{"MAIL_BODY"},
				RelationMetadata: map[string]any{"part": "body"},
			}}, children...)
		}
	}

	return wireproto.BackendReply{
		Symbols:  []string{"MESSAGE_RFC822"},
		Children: children,
	}, nil
}

func stageAttachment(r io.Reader, dir string) (string, error) {
	out, err := os.CreateTemp(dir, "ctx-mail-attach-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("copy attachment: %w", err)
	}
	return out.Name(), nil
}

func stageText(text string, dir string) (string, error) {
	out, err := os.CreateTemp(dir, "ctx-mail-body-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer out.Close()
	if _, err := out.WriteString(text); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("write body text: %w", err)
	}
	return out.Name(), nil
}
