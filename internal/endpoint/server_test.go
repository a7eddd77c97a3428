package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	logger := arbor.NewLogger()
	dbCfg := graphdb.DefaultConfig(filepath.Join(t.TempDir(), "graph.db"))
	db, err := graphdb.Open(context.Background(), logger, dbCfg)
	if err != nil {
		t.Fatalf("open graphdb: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Storage.ObjectsPath = t.TempDir()
	cfg.Server.Port = 0

	reg := queue.NewRegistry(db.Conn())
	bus := broker.NewBus()
	s := New(cfg, db, reg, bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go s.publisher.Run(ctx)

	return s, func() {
		cancel()
		db.Close()
	}
}

func multipartUpload(t *testing.T, fieldFile string, content []byte, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", fieldFile)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for k, v := range extra {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func TestHandleSubmitEnqueuesJobAndReturnsWorkID(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	body, contentType := multipartUpload(t, "note.txt", []byte("hello world"), map[string]string{"object_type": "TEXT"})

	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.instrument(s.routes()).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.WorkID == "" {
		t.Fatal("expected a non-empty work id")
	}

	mgr, err := s.queues.For("CTX-JobReq-TEXT")
	if err != nil {
		t.Fatalf("bind queue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		msg, done, recvErr := mgr.Receive(context.Background())
		if recvErr == nil && msg != nil {
			_ = done()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a queued job, got none (last err: %v)", recvErr)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHandleSearchRejectsMissingQuery(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	s.instrument(s.routes()).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleActionsReturnsNotFoundForUnknownWork(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/actions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.instrument(s.routes()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
