package sigmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
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

func seedScenario(t *testing.T, db *graphdb.DB, scenarioID, ruleText string) {
	t.Helper()
	compiled, err := rules.ParseToSQL(ruleText, rules.ScenarioLocal)
	if err != nil {
		t.Fatalf("compile %q: %v", ruleText, err)
	}
	err = db.UpsertScenario(context.Background(), graphdb.CompiledScenario{
		ScenarioID: scenarioID, Name: scenarioID, QueryType: "local",
		RuleText: ruleText, CompiledSQL: compiled.SQL, CompiledArgs: compiled.Args,
		CompiledVersion: compiled.Version, Enabled: true,
	})
	if err != nil {
		t.Fatalf("upsert scenario: %v", err)
	}
}

func TestReconcileWritesNDBFileForExtractedSignatures(t *testing.T) {
	db := openTestGraph(t)
	seedScenario(t, db, "scenario-eicar", `@match_clamav_sig("EICAR_TEST")`)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.NDBPath = filepath.Join(dir, "scenarios.ndb")
	cfg.SigCachePath = filepath.Join(dir, "sigcache")
	cfg.ClamdAddr = "127.0.0.1:1" // unreachable: reconcile must still write the file before pinging

	mgr, err := NewManager(db, broker.NewBus(), *cfg, arbor.NewLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.cache.Close()

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	data, err := os.ReadFile(cfg.NDBPath)
	if err != nil {
		t.Fatalf("read ndb file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty ndb file")
	}
}

func TestReconcileSkipsRedeployWhenSignatureSetUnchanged(t *testing.T) {
	db := openTestGraph(t)
	seedScenario(t, db, "scenario-eicar", `@match_clamav_sig("EICAR_TEST")`)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.NDBPath = filepath.Join(dir, "scenarios.ndb")
	cfg.SigCachePath = filepath.Join(dir, "sigcache")
	cfg.ClamdAddr = "127.0.0.1:1"

	mgr, err := NewManager(db, broker.NewBus(), *cfg, arbor.NewLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.cache.Close()

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	info1, err := os.Stat(cfg.NDBPath)
	if err != nil {
		t.Fatalf("stat ndb file: %v", err)
	}

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	info2, err := os.Stat(cfg.NDBPath)
	if err != nil {
		t.Fatalf("stat ndb file again: %v", err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatal("expected the ndb file not to be rewritten when the signature set is unchanged")
	}
}
