package graphdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "graph.db"))
	cfg.WALMode = false
	db, err := Open(context.Background(), arbor.NewLogger(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRejectsSchemaVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	cfg := DefaultConfig(path)
	cfg.WALMode = false
	ctx := context.Background()

	db, err := Open(ctx, arbor.NewLogger(), cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := db.Conn().ExecContext(ctx, `UPDATE schema_info SET version = 9999`); err != nil {
		t.Fatalf("corrupt version: %v", err)
	}
	db.Close()

	if _, err := Open(ctx, arbor.NewLogger(), cfg); err == nil {
		t.Fatal("expected Open to refuse a mismatched schema version")
	}
}

func TestObjectAndRelationRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	root := ObjectRow{ObjectID: "obj-root", ObjectType: "Email", Size: 100, Ctime: time.Now()}
	if err := db.UpsertObject(ctx, tx, root); err != nil {
		t.Fatalf("upsert root: %v", err)
	}
	work := WorkRoot{
		WorkID: "work-1", RootObjectID: root.ObjectID,
		CreatedAt: time.Now(), Deadline: time.Now().Add(time.Hour), RecursionBudget: 24,
	}
	if err := db.InsertWork(ctx, tx, work); err != nil {
		t.Fatalf("insert work: %v", err)
	}
	child := ObjectRow{ObjectID: "obj-child", ObjectType: "Archive", Size: 50, Ctime: time.Now()}
	if err := db.UpsertObject(ctx, tx, child); err != nil {
		t.Fatalf("upsert child: %v", err)
	}
	if err := db.LinkChild(ctx, tx, work.WorkID, root.ObjectID, child.ObjectID, ctxmodel.Metadata{"filename": "a.zip"}); err != nil {
		t.Fatalf("link child: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Re-inserting the same object_id must be a silent no-op (content-addressed).
	tx2, _ := db.BeginTx(ctx)
	if err := db.UpsertObject(ctx, tx2, root); err != nil {
		t.Fatalf("re-upsert root: %v", err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestEvalLocalFindsMatchingObject(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx, _ := db.BeginTx(ctx)
	root := ObjectRow{ObjectID: "obj-1", ObjectType: "Archive", Size: 2048, Ctime: time.Now()}
	if err := db.UpsertObject(ctx, tx, root); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	work := WorkRoot{WorkID: "w1", RootObjectID: root.ObjectID, CreatedAt: time.Now(), Deadline: time.Now().Add(time.Hour), RecursionBudget: 24}
	if err := db.InsertWork(ctx, tx, work); err != nil {
		t.Fatalf("insert work: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	hit, err := db.EvalLocal(ctx, "obj.object_type = ? AND obj.size > ?", []any{"Archive", 1024}, work.WorkID, root.ObjectID)
	if err != nil {
		t.Fatalf("eval local: %v", err)
	}
	if !hit {
		t.Fatal("expected the local predicate to match")
	}

	miss, err := db.EvalLocal(ctx, "obj.object_type = ?", []any{"Email"}, work.WorkID, root.ObjectID)
	if err != nil {
		t.Fatalf("eval local: %v", err)
	}
	if miss {
		t.Fatal("expected the local predicate not to match")
	}
}
