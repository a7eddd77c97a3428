package graphdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
)

// ObjectRow is the persisted form of an object's identity columns;
// object bodies themselves are addressed by object_id in the blob
// store the endpoint/frontend write through (outside this package —
// the graph only tracks identity, lineage, and searchable metadata).
type ObjectRow struct {
	ObjectID      string
	ObjectType    string
	ObjectSubtype string
	Org           string
	Size          int64
	Ctime         time.Time
}

// UpsertObject inserts an object row if it is not already present.
// Objects are content-addressed, so a second insert of the same
// object_id is a no-op rather than an error — the same bytes were
// simply seen again.
func (d *DB) UpsertObject(ctx context.Context, tx *sql.Tx, o ObjectRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO objects (object_id, object_type, object_subtype, org, size, ctime)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (object_id) DO NOTHING
	`, o.ObjectID, o.ObjectType, o.ObjectSubtype, o.Org, o.Size, o.Ctime.Unix())
	if err != nil {
		return fmt.Errorf("graphdb: upsert object %s: %w", o.ObjectID, err)
	}
	return nil
}

func (d *DB) AddSymbol(ctx context.Context, tx *sql.Tx, objectID, symbol string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO object_symbols (object_id, symbol) VALUES (?, ?)
		ON CONFLICT (object_id, symbol) DO NOTHING
	`, objectID, symbol)
	if err != nil {
		return fmt.Errorf("graphdb: add symbol %s to %s: %w", symbol, objectID, err)
	}
	return nil
}

// WorkRoot describes the root of a new work tree, as known at
// submission time, before any per-object job bookkeeping exists.
type WorkRoot struct {
	WorkID          string
	RootObjectID    string
	Org             string
	CreatedAt       time.Time
	Deadline        time.Time
	RecursionBudget uint32
}

// InsertWork records a new work tree's root. The grapher calls it
// once per work when it commits the root result; every object subsequently
// discovered while processing the tree links back to this work_id.
func (d *DB) InsertWork(ctx context.Context, tx *sql.Tx, w WorkRoot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO works (work_id, root_object_id, org, created_at, deadline_at, recursion_budget)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.WorkID, w.RootObjectID, w.Org, w.CreatedAt.Unix(), w.Deadline.Unix(), w.RecursionBudget)
	if err != nil {
		return fmt.Errorf("graphdb: insert work %s: %w", w.WorkID, err)
	}
	// Synthetic root relation: no parent, empty metadata, so that
	// "meta.*" rule paths always have a rel row to extract from.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relations (work_id, parent_object_id, child_object_id, metadata, created_at)
		VALUES (?, NULL, ?, '{}', ?)
	`, w.WorkID, w.RootObjectID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("graphdb: insert root relation for work %s: %w", w.WorkID, err)
	}
	return nil
}

func (d *DB) CompleteWork(ctx context.Context, tx *sql.Tx, workID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE works SET completed_at = ? WHERE work_id = ?`, at.Unix(), workID)
	if err != nil {
		return fmt.Errorf("graphdb: complete work %s: %w", workID, err)
	}
	return nil
}

// LinkChild records a parent→child edge discovered while processing
// a job, with the child's already-bubbled metadata attached to the
// edge (not the object, since the same object can appear at different
// points of different trees with different inherited metadata). An
// empty parentObjectID is stored as SQL NULL: the synthetic relation
// a work's root object gets, so "meta.*"/relation_meta() rule paths
// always have a rel row to extract from, even for the root.
func (d *DB) LinkChild(ctx context.Context, tx *sql.Tx, workID, parentObjectID, childObjectID string, metadata ctxmodel.Metadata) error {
	meta := metadata
	if meta == nil {
		meta = ctxmodel.Metadata{}
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("graphdb: marshal relation metadata: %w", err)
	}
	var parentArg any
	if parentObjectID != "" {
		parentArg = parentObjectID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relations (work_id, parent_object_id, child_object_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, workID, parentArg, childObjectID, string(blob), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("graphdb: link child %s->%s: %w", parentObjectID, childObjectID, err)
	}
	return nil
}

// CompiledScenario is one (scenario_id, query_type) row plus its
// already-compiled SQL, as loaded by the director on startup and on
// every hot-reload tick. A scenario with both a local and a global
// rule yields two CompiledScenario rows sharing ScenarioID.
type CompiledScenario struct {
	ScenarioID      string
	Name            string
	RuleText        string
	QueryType       string // "local" or "global"
	CompiledSQL     string
	CompiledArgs    []any
	CompiledVersion string
	CompatMin       string
	CompatMax       string
	Action          string
	Enabled         bool
}

func (d *DB) UpsertScenario(ctx context.Context, s CompiledScenario) error {
	argsBlob, err := json.Marshal(s.CompiledArgs)
	if err != nil {
		return fmt.Errorf("graphdb: marshal compiled args for %s/%s: %w", s.ScenarioID, s.QueryType, err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO scenarios (scenario_id, query_type, name, rule_text, compiled_sql, compiled_args, compiled_version, compat_min, compat_max, action, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scenario_id, query_type) DO UPDATE SET
			name = excluded.name,
			rule_text = excluded.rule_text,
			compiled_sql = excluded.compiled_sql,
			compiled_args = excluded.compiled_args,
			compiled_version = excluded.compiled_version,
			compat_min = excluded.compat_min,
			compat_max = excluded.compat_max,
			action = excluded.action,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, s.ScenarioID, s.QueryType, s.Name, s.RuleText, s.CompiledSQL, string(argsBlob), s.CompiledVersion, s.CompatMin, s.CompatMax, s.Action, s.Enabled, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("graphdb: upsert scenario %s/%s: %w", s.ScenarioID, s.QueryType, err)
	}
	return nil
}

// DeleteScenario removes both the local and global rows for a
// scenario id.
func (d *DB) DeleteScenario(ctx context.Context, scenarioID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM scenarios WHERE scenario_id = ?`, scenarioID)
	if err != nil {
		return fmt.Errorf("graphdb: delete scenario %s: %w", scenarioID, err)
	}
	return nil
}

// LoadScenarios returns every enabled scenario row, for the
// director's atomic-snapshot hot reload.
func (d *DB) LoadScenarios(ctx context.Context) ([]CompiledScenario, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT scenario_id, query_type, name, rule_text, compiled_sql, compiled_args, compiled_version, compat_min, compat_max, action, enabled
		FROM scenarios WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("graphdb: load scenarios: %w", err)
	}
	defer rows.Close()

	var out []CompiledScenario
	for rows.Next() {
		var s CompiledScenario
		var enabled int
		var argsBlob string
		if err := rows.Scan(&s.ScenarioID, &s.QueryType, &s.Name, &s.RuleText, &s.CompiledSQL, &argsBlob, &s.CompiledVersion, &s.CompatMin, &s.CompatMax, &s.Action, &enabled); err != nil {
			return nil, fmt.Errorf("graphdb: scan scenario: %w", err)
		}
		if err := json.Unmarshal([]byte(argsBlob), &s.CompiledArgs); err != nil {
			return nil, fmt.Errorf("graphdb: unmarshal compiled args for %s/%s: %w", s.ScenarioID, s.QueryType, err)
		}
		s.Enabled = enabled != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// WorkObjectIDs returns every object id reachable from workID (root
// plus every descendant), for the director's per-object local-rule
// evaluation pass.
func (d *DB) WorkObjectIDs(ctx context.Context, workID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT child_object_id FROM relations WHERE work_id = ?
	`, workID)
	if err != nil {
		return nil, fmt.Errorf("graphdb: list work objects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("graphdb: scan work object id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordAction persists one fired WorkAction for audit/replay.
func (d *DB) RecordAction(ctx context.Context, workID, scenarioID string, action ctxmodel.WorkAction) error {
	blob, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("graphdb: marshal work action: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO work_actions (work_id, scenario_id, action, fired_at) VALUES (?, ?, ?, ?)
	`, workID, scenarioID, string(blob), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("graphdb: record action for work %s: %w", workID, err)
	}
	return nil
}

// EvalLocal runs a ScenarioLocal compiled fragment against a single
// (object, relation) pair identified by objectID within workID.
func (d *DB) EvalLocal(ctx context.Context, compiledSQL string, args []any, workID, objectID string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT 1 FROM objects obj
		JOIN relations rel ON rel.child_object_id = obj.object_id
		WHERE rel.work_id = ? AND obj.object_id = ? AND (%s)
		LIMIT 1
	`, compiledSQL)
	allArgs := append([]any{workID, objectID}, args...)
	row := d.db.QueryRowContext(ctx, query, allArgs...)
	var hit int
	if err := row.Scan(&hit); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("graphdb: eval local scenario: %w", err)
	}
	return true, nil
}

// BumpScenarioReload increments the cross-process reload generation
// counter inside tx. Its caller is the endpoint's /reload handler;
// another process notices the bump on its next
// ScenarioReloadGeneration poll.
func (d *DB) BumpScenarioReload(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE scenario_reload SET generation = generation + 1 WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("graphdb: bump scenario reload generation: %w", err)
	}
	return nil
}

// ScenarioReloadGeneration reads the current generation counter, for
// a poller to compare against its last-seen value.
func (d *DB) ScenarioReloadGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := d.db.QueryRowContext(ctx, `SELECT generation FROM scenario_reload WHERE id = 1`).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("graphdb: read scenario reload generation: %w", err)
	}
	return gen, nil
}

// Search runs a Search-compiled fragment against every object in the
// graph (no work_id scoping — the search endpoint queries across all
// works) and returns at most limit matches, most recent first.
func (d *DB) Search(ctx context.Context, compiledSQL string, args []any, limit int) ([]ObjectRow, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT obj.object_id, obj.object_type, obj.object_subtype, obj.org, obj.size, obj.ctime
		FROM objects obj
		LEFT JOIN relations rel ON rel.child_object_id = obj.object_id
		WHERE %s
		ORDER BY obj.ctime DESC
		LIMIT ?
	`, compiledSQL)
	rows, err := d.db.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("graphdb: search: %w", err)
	}
	defer rows.Close()

	var out []ObjectRow
	for rows.Next() {
		var o ObjectRow
		var ctime int64
		if err := rows.Scan(&o.ObjectID, &o.ObjectType, &o.ObjectSubtype, &o.Org, &o.Size, &ctime); err != nil {
			return nil, fmt.Errorf("graphdb: scan search result: %w", err)
		}
		o.Ctime = time.Unix(ctime, 0)
		out = append(out, o)
	}
	return out, rows.Err()
}

// WorkStatus reports whether workID exists and, if so, whether it has
// completed.
func (d *DB) WorkStatus(ctx context.Context, workID string) (exists, completed bool, err error) {
	var completedAt sql.NullInt64
	row := d.db.QueryRowContext(ctx, `SELECT completed_at FROM works WHERE work_id = ?`, workID)
	if scanErr := row.Scan(&completedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return false, false, nil
		}
		return false, false, fmt.Errorf("graphdb: work status %s: %w", workID, scanErr)
	}
	return true, completedAt.Valid, nil
}

// GetWorkActions returns every action the director has fired for
// workID, oldest first.
func (d *DB) GetWorkActions(ctx context.Context, workID string, limit int) ([]ctxmodel.WorkAction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT action FROM work_actions WHERE work_id = ? ORDER BY fired_at ASC LIMIT ?
	`, workID, limit)
	if err != nil {
		return nil, fmt.Errorf("graphdb: list work actions for %s: %w", workID, err)
	}
	defer rows.Close()

	var out []ctxmodel.WorkAction
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("graphdb: scan work action: %w", err)
		}
		var a ctxmodel.WorkAction
		if err := json.Unmarshal([]byte(blob), &a); err != nil {
			return nil, fmt.Errorf("graphdb: unmarshal work action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AllScenarioIDs returns every distinct scenario_id currently stored.
func (d *DB) AllScenarioIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT scenario_id FROM scenarios`)
	if err != nil {
		return nil, fmt.Errorf("graphdb: list scenario ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("graphdb: scan scenario id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EvalGlobal runs a ScenarioGlobal compiled fragment (already an
// EXISTS-wrapped tree predicate, with its workIDPlaceholder already
// bound via rules.BindWorkID) and reports whether it is satisfied.
func (d *DB) EvalGlobal(ctx context.Context, compiledSQL string, args []any) (bool, error) {
	query := fmt.Sprintf(`SELECT %s`, compiledSQL)
	row := d.db.QueryRowContext(ctx, query, args...)
	var hit int
	if err := row.Scan(&hit); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("graphdb: eval global scenario: %w", err)
	}
	return hit != 0, nil
}
