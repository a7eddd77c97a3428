package graphdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ternarybob/arbor"
	sqlite "modernc.org/sqlite"
	"maragu.dev/goqite"
)

// DB wraps the object-graph SQLite connection. Every service process
// (endpoint, frontend, grapher, director, sigmgr) opens its own DB
// against the same file; SQLite's single-writer model is accepted the
// same way the teacher's storage layer accepts it, by capping the
// pool to one connection.
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
}

// Config mirrors the teacher's SQLiteConfig shape, trimmed to the
// fields this module actually uses.
type Config struct {
	Path            string
	BusyTimeoutMS   int
	CacheSizeMB     int
	WALMode         bool
	ResetOnStartup  bool
	Environment     string
}

func DefaultConfig(path string) *Config {
	return &Config{
		Path:          path,
		BusyTimeoutMS: 5000,
		CacheSizeMB:   64,
		WALMode:       true,
		Environment:   "production",
	}
}

// Open creates (or reuses) the SQLite-backed object graph, registers
// the REGEXP_MATCH scalar function the rules package's ~ operator and
// @match_object_meta builtin lower to, runs the object-graph DDL, sets
// up goqite's own queue tables in the same file, and refuses to start
// on any schema-version mismatch — deliberately no migration path.
func Open(ctx context.Context, logger arbor.ILogger, cfg *Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("graphdb: create directory: %w", err)
	}

	if cfg.ResetOnStartup {
		if cfg.Environment != "development" {
			logger.Warn().Msg("graphdb: reset_on_startup ignored outside development")
		} else if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("graphdb: reset database: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("graphdb: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := registerRegexpMatch(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMS),
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheSizeMB*1024),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("graphdb: pragma %q: %w", p, err)
		}
	}

	if err := goqite.Setup(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("graphdb: goqite setup: %w", err)
	}

	d := &DB{db: sqlDB, logger: logger}
	if err := d.initSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) initSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("graphdb: apply ddl: %w", err)
	}

	var current sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `SELECT version FROM schema_info WHERE id = 1`).Scan(&current); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("graphdb: read schema version: %w", err)
	}
	if !current.Valid {
		if _, err := d.db.ExecContext(ctx, `INSERT INTO schema_info (id, version) VALUES (1, ?)`, schemaVersion); err != nil {
			return fmt.Errorf("graphdb: stamp schema version: %w", err)
		}
		return nil
	}
	if int(current.Int64) != schemaVersion {
		return fmt.Errorf("graphdb: database schema version %d does not match binary version %d; refusing to start (no migration path)", current.Int64, schemaVersion)
	}
	return nil
}

func (d *DB) Conn() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.db.BeginTx(ctx, nil)
}

// regexpCompileCache avoids recompiling the same pattern on every row
// of a scan; scenario rule sets reuse a small, stable set of patterns.
var regexpCompileCache sync.Map // string -> *regexp.Regexp

// registerRegexpMatch installs the REGEXP_MATCH(text, pattern) scalar
// function the rules package's ~ operator and @match_object_meta
// builtin lower to. modernc.org/sqlite has no built-in REGEXP
// operator; this mirrors how the pack registers custom scalar
// functions against the same driver (vector_distance_cos).
func registerRegexpMatch() error {
	return sqlite.RegisterDeterministicScalarFunction("REGEXP_MATCH", 2, regexpMatch)
}

func regexpMatch(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("REGEXP_MATCH expects 2 arguments")
	}
	text, ok := args[0].(string)
	if !ok {
		return false, nil
	}
	pattern, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("REGEXP_MATCH: pattern must be a string")
	}
	var re *regexp.Regexp
	if cached, ok := regexpCompileCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("REGEXP_MATCH: %w", err)
		}
		regexpCompileCache.Store(pattern, compiled)
		re = compiled
	}
	return re.MatchString(text), nil
}
