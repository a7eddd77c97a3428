package frontend

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/ternarybob/ctxpipe/internal/common"
	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/queue"
	"github.com/ternarybob/ctxpipe/internal/wireproto"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "frontend.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// startBackend runs a TCP listener that replies with reply to every
// request it reads to EOF, looping for every connection accepted.
func startBackend(t *testing.T, reply wireproto.BackendReply) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go wireproto.Serve(context.Background(), conn, func(ctx context.Context, req wireproto.BackendRequest) (wireproto.BackendReply, error) {
				return reply, nil
			})
		}
	}()
	return ln.Addr().String()
}

func freshJob(t *testing.T, objectID, objectType string) ctxmodel.QueuedJob {
	t.Helper()
	return ctxmodel.QueuedJob{
		WorkID: "work-1",
		Depth:  0,
		Request: ctxmodel.JobRequest{
			Object: ctxmodel.Info{
				ObjectID:       objectID,
				ObjectType:     objectType,
				CreateTimeUnix: float64(time.Now().Unix()),
			},
			MaxRecursion:    10,
			TTLDeadlineUnix: float64(time.Now().Add(time.Minute).Unix()),
		},
	}
}

func TestManagerAggregatesLeafJobWithNoChildren(t *testing.T) {
	db := openTestDB(t)
	reg := queue.NewRegistry(db)
	waiters := NewWaitRegistry()
	logger := arbor.NewLogger()

	backendAddr := startBackend(t, wireproto.BackendReply{Symbols: []string{"CLEAN"}})
	objectsPath := t.TempDir()

	cfg := DefaultConfig("TEXT", backendAddr, objectsPath)
	mgr, err := NewManager(cfg, reg, waiters, logger)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	qj := freshJob(t, "obj-leaf", "TEXT")
	payload, _ := json.Marshal(qj)
	corrID := common.NewCorrelationID()

	if err := mgr.handle(context.Background(), &queue.Message{CorrelationID: corrID, Payload: payload}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	resultsQueue, err := reg.For(ctxmodel.ResultsQueueName)
	if err != nil {
		t.Fatalf("results queue: %v", err)
	}
	msg, _, err := resultsQueue.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive result: %v", err)
	}

	var env ctxmodel.JobResultEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.WorkID != "work-1" {
		t.Fatalf("expected work-1, got %s", env.WorkID)
	}
	if len(env.Result.Symbols) != 1 || env.Result.Symbols[0] != "CLEAN" {
		t.Fatalf("unexpected symbols: %+v", env.Result.Symbols)
	}
	if len(env.Result.Children) != 0 {
		t.Fatalf("expected no children, got %d", len(env.Result.Children))
	}
}

func TestManagerRecursesIntoChildType(t *testing.T) {
	db := openTestDB(t)
	reg := queue.NewRegistry(db)
	waiters := NewWaitRegistry()
	logger := arbor.NewLogger()
	objectsPath := t.TempDir()

	childPath := filepath.Join(objectsPath, "child-tmp")
	if err := os.WriteFile(childPath, []byte("child bytes"), 0o644); err != nil {
		t.Fatalf("write child temp: %v", err)
	}

	zipBackend := startBackend(t, wireproto.BackendReply{
		Symbols: []string{"ARCHIVE"},
		Children: []wireproto.BackendChild{
			{Path: childPath, ForcedType: "TEXT", Symbols: []string{"ENTRY"}},
		},
	})
	textBackend := startBackend(t, wireproto.BackendReply{Symbols: []string{"SCANNED"}})

	zipCfg := DefaultConfig("ZIP", zipBackend, objectsPath)
	zipMgr, err := NewManager(zipCfg, reg, waiters, logger)
	if err != nil {
		t.Fatalf("new zip manager: %v", err)
	}
	textCfg := DefaultConfig("TEXT", textBackend, objectsPath)
	textCfg.PollInterval = 20 * time.Millisecond
	textMgr, err := NewManager(textCfg, reg, waiters, logger)
	if err != nil {
		t.Fatalf("new text manager: %v", err)
	}
	textMgr.Start()
	defer textMgr.Stop()

	qj := freshJob(t, "obj-root", "ZIP")
	payload, _ := json.Marshal(qj)
	if err := zipMgr.handle(context.Background(), &queue.Message{CorrelationID: common.NewCorrelationID(), Payload: payload}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	resultsQueue, err := reg.For(ctxmodel.ResultsQueueName)
	if err != nil {
		t.Fatalf("results queue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg, _, err := resultsQueue.Receive(context.Background())
		if err == nil {
			var env ctxmodel.JobResultEnvelope
			if jerr := json.Unmarshal(msg.Payload, &env); jerr != nil {
				t.Fatalf("unmarshal envelope: %v", jerr)
			}
			if len(env.Result.Children) != 1 {
				t.Fatalf("expected 1 child, got %d", len(env.Result.Children))
			}
			child := env.Result.Children[0]
			if child.Failed != nil {
				t.Fatalf("expected successful child, got failed: %+v", child.Failed)
			}
			if child.Result == nil || len(child.Result.Symbols) != 1 || child.Result.Symbols[0] != "SCANNED" {
				t.Fatalf("unexpected nested child result: %+v", child.Result)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for root result to appear on CTX-JobRes")
}
