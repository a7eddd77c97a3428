package graphdb

// schemaVersion is the single integer gate the pipeline uses to
// decide whether a database written by an older (or newer) build may
// be reprocessed against. Per the deliberately conservative Open
// Question decision, a mismatch refuses to start rather than
// attempting any kind of migration.
const schemaVersion = 1

// ddl is applied on every Open; each statement is idempotent
// (IF NOT EXISTS, INSERT OR IGNORE). The goqite queue table is
// set up separately by goqite.Setup, the same way the teacher's
// connection layer does it — the content-addressed object graph and
// goqite's own delivery queue share one SQLite file but own schemas.
const ddl = `
CREATE TABLE IF NOT EXISTS schema_info (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS objects (
	object_id      TEXT PRIMARY KEY,
	object_type    TEXT NOT NULL,
	object_subtype TEXT NOT NULL DEFAULT '',
	org            TEXT NOT NULL DEFAULT '',
	size           INTEGER NOT NULL DEFAULT 0,
	ctime          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS object_symbols (
	object_id TEXT NOT NULL REFERENCES objects(object_id) ON DELETE CASCADE,
	symbol    TEXT NOT NULL,
	PRIMARY KEY (object_id, symbol)
);

CREATE TABLE IF NOT EXISTS works (
	work_id          TEXT PRIMARY KEY,
	root_object_id   TEXT NOT NULL REFERENCES objects(object_id),
	org              TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	deadline_at      INTEGER NOT NULL,
	recursion_budget INTEGER NOT NULL,
	completed_at     INTEGER
);

-- Every object reachable from a work is linked to its parent via a
-- relation row; the root object gets a synthetic relation with
-- parent_object_id NULL so that "meta.*" rule paths always have a
-- rel row to extract from, even for the root (see internal/rules).
CREATE TABLE IF NOT EXISTS relations (
	relation_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	work_id          TEXT NOT NULL REFERENCES works(work_id) ON DELETE CASCADE,
	parent_object_id TEXT REFERENCES objects(object_id),
	child_object_id  TEXT NOT NULL REFERENCES objects(object_id),
	metadata         TEXT NOT NULL DEFAULT '{}', -- JSON, bubbled _global already merged in
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_work ON relations(work_id);
CREATE INDEX IF NOT EXISTS idx_relations_child ON relations(child_object_id);

-- A scenario can carry a local rule, a global rule, or both, and each
-- compiles against a different rules.QueryType template, so the two
-- live as separate rows sharing scenario_id — the primary key is the
-- (scenario_id, query_type) pair, not scenario_id alone.
CREATE TABLE IF NOT EXISTS scenarios (
	scenario_id      TEXT NOT NULL,
	query_type       TEXT NOT NULL, -- "local" or "global"
	name             TEXT NOT NULL,
	rule_text        TEXT NOT NULL,
	compiled_sql     TEXT NOT NULL,
	compiled_args    TEXT NOT NULL DEFAULT '[]', -- JSON array, rules.Compiled.Args in placeholder order
	compiled_version TEXT NOT NULL,
	compat_min       TEXT NOT NULL DEFAULT '',
	compat_max       TEXT NOT NULL DEFAULT '',
	action           TEXT NOT NULL DEFAULT '',
	enabled          INTEGER NOT NULL DEFAULT 1,
	updated_at       INTEGER NOT NULL,
	PRIMARY KEY (scenario_id, query_type)
);

-- scenario_reload holds a single row whose generation counter the
-- endpoint's /reload bumps and the director polls to notice changes
-- made by another process — the cross-process half of ctx.screload;
-- the in-process half is internal/broker's Bus.
CREATE TABLE IF NOT EXISTS scenario_reload (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	generation INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO scenario_reload (id, generation) VALUES (1, 0);

-- scenario_id is not a foreign key here: it identifies a scenario
-- logically across its local/global rows, which together have no
-- single-column unique key to reference.
CREATE TABLE IF NOT EXISTS work_actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	work_id     TEXT NOT NULL REFERENCES works(work_id) ON DELETE CASCADE,
	scenario_id TEXT NOT NULL,
	action      TEXT NOT NULL, -- JSON-encoded ctxmodel.WorkAction
	fired_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_work_actions_work ON work_actions(work_id);
`
