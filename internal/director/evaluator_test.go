package director

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/queue"
	"github.com/ternarybob/ctxpipe/internal/rules"
)

func openTestGraph(t *testing.T) *graphdb.DB {
	t.Helper()
	logger := arbor.NewLogger()
	cfg := graphdb.DefaultConfig(filepath.Join(t.TempDir(), "graph.db"))
	db, err := graphdb.Open(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("open graphdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedWork inserts a minimal committed work (one root object carrying
// a CLEAN symbol) directly through the DAO, bypassing the grapher.
func seedWork(t *testing.T, db *graphdb.DB, workID, objectID string) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if err := db.UpsertObject(ctx, tx, graphdb.ObjectRow{ObjectID: objectID, ObjectType: "TEXT", Ctime: now}); err != nil {
		t.Fatalf("upsert object: %v", err)
	}
	if err := db.InsertWork(ctx, tx, graphdb.WorkRoot{
		WorkID: workID, RootObjectID: objectID, CreatedAt: now,
		Deadline: now.Add(time.Hour), RecursionBudget: ctxmodel.MaxWorkDepth,
	}); err != nil {
		t.Fatalf("insert work: %v", err)
	}
	if err := db.AddSymbol(ctx, tx, objectID, "CLEAN"); err != nil {
		t.Fatalf("add symbol: %v", err)
	}
	if err := db.LinkChild(ctx, tx, workID, "", objectID, nil); err != nil {
		t.Fatalf("link child: %v", err)
	}
	if err := db.CompleteWork(ctx, tx, workID, now); err != nil {
		t.Fatalf("complete work: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedScenario(t *testing.T, db *graphdb.DB, scenarioID, action, ruleText string) {
	t.Helper()
	compiled, err := rules.ParseToSQL(ruleText, rules.ScenarioLocal)
	if err != nil {
		t.Fatalf("compile rule %q: %v", ruleText, err)
	}
	err = db.UpsertScenario(context.Background(), graphdb.CompiledScenario{
		ScenarioID:      scenarioID,
		Name:            scenarioID,
		RuleText:        ruleText,
		QueryType:       "local",
		CompiledSQL:     compiled.SQL,
		CompiledArgs:    compiled.Args,
		CompiledVersion: compiled.Version,
		Action:          action,
		Enabled:         true,
	})
	if err != nil {
		t.Fatalf("upsert scenario: %v", err)
	}
}

func TestEvaluatorFiresActionForMatchingLocalScenario(t *testing.T) {
	db := openTestGraph(t)
	reg := queue.NewRegistry(db.Conn())
	bus := broker.NewBus()
	logger := arbor.NewLogger()

	seedWork(t, db, "work-1", "obj-1")
	seedScenario(t, db, "scenario-clean", "notify:clean", `@has_symbol("CLEAN")`)

	e, err := NewEvaluator(context.Background(), db, reg, bus, queue.NewDefaultConfig(ctxmodel.DirectorQueueName), DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	if err := e.evaluate(context.Background(), "work-1"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var count int
	row := db.Conn().QueryRow(`SELECT COUNT(*) FROM work_actions WHERE work_id = ? AND scenario_id = ?`, "work-1", "scenario-clean")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded action, got %d", count)
	}
}

func TestEvaluatorSkipsIncompatibleScenario(t *testing.T) {
	db := openTestGraph(t)
	reg := queue.NewRegistry(db.Conn())
	bus := broker.NewBus()
	logger := arbor.NewLogger()

	seedWork(t, db, "work-2", "obj-2")

	compiled, err := rules.ParseToSQL(`@has_symbol("CLEAN")`, rules.ScenarioLocal)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	err = db.UpsertScenario(context.Background(), graphdb.CompiledScenario{
		ScenarioID: "scenario-future", Name: "scenario-future", QueryType: "local",
		CompiledSQL: compiled.SQL, CompiledArgs: compiled.Args, CompiledVersion: compiled.Version,
		CompatMin: "99.0.0", Action: "unreachable", Enabled: true,
	})
	if err != nil {
		t.Fatalf("upsert scenario: %v", err)
	}

	e, err := NewEvaluator(context.Background(), db, reg, bus, queue.NewDefaultConfig(ctxmodel.DirectorQueueName), DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}
	if err := e.evaluate(context.Background(), "work-2"); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var count int
	row := db.Conn().QueryRow(`SELECT COUNT(*) FROM work_actions WHERE work_id = ?`, "work-2")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no actions for an incompatible scenario, got %d", count)
	}
}
