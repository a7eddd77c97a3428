package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnqueueReceiveDeleteRoundTrip(t *testing.T) {
	db := openTestDB(t)
	mgr, err := NewManager(db, "CTX-JobReq-TEST")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"object_id": "abc123"})
	if err := mgr.Enqueue(context.Background(), Message{ObjectType: "TEST", CorrelationID: "corr-1", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msg, deleteFn, err := mgr.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.CorrelationID != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %q", msg.CorrelationID)
	}
	if err := deleteFn(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, _, err := mgr.Receive(context.Background()); err != ErrNoMessage {
		t.Fatalf("expected ErrNoMessage on empty queue, got %v", err)
	}
}

func TestWorkerPoolDeliversEachMessageOnce(t *testing.T) {
	db := openTestDB(t)
	mgr, err := NewManager(db, "CTX-JobReq-TEST")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"i": i})
		if err := mgr.Enqueue(context.Background(), Message{CorrelationID: "c", Payload: payload}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := 0
	handler := func(ctx context.Context, msg *Message) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	}

	cfg := Config{PollInterval: 20 * time.Millisecond, Concurrency: 2}
	pool := NewWorkerPool(mgr, handler, cfg, arbor.NewLogger())
	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := seen == n
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != n {
		t.Fatalf("expected %d messages processed, got %d", n, seen)
	}
}

func TestWorkerPoolLeavesFailedMessagesForRedelivery(t *testing.T) {
	db := openTestDB(t)
	mgr, err := NewManager(db, "CTX-JobReq-TEST")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	payload, _ := json.Marshal(map[string]string{})
	if err := mgr.Enqueue(context.Background(), Message{CorrelationID: "c", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var attempts int32
	handler := func(ctx context.Context, msg *Message) error {
		attempts++
		if attempts == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}

	cfg := Config{PollInterval: 5 * time.Millisecond, Concurrency: 1, VisibilityTimeout: time.Millisecond}
	pool := NewWorkerPool(mgr, handler, cfg, arbor.NewLogger())
	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && attempts < 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if attempts < 1 {
		t.Fatal("expected at least one delivery attempt")
	}
}
