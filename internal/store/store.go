// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists projects, claims, references, and the links
// between them. It is the single writer of the global reference table:
// uniqueness of reference identity is enforced here with database
// constraints so that concurrent batches upsert instead of duplicating.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// sqliteParams enables WAL, foreign keys, and immediate write locks so
// that a batch transaction holds the write lock from its first statement.
const sqliteParams = "_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

const defaultMaxResults = 50

// ErrBatchExists is returned by Tx.RecordBatch when the project already has
// a batch under the same idempotency key.
var ErrBatchExists = errors.New("batch already recorded")

// Store is a database/sql handle plus the dialect it speaks.
type Store struct {
	db         *sql.DB
	driver     types.StoreDriver
	logger     *zap.Logger
	maxResults int
}

// Open connects to the configured database and creates the schema if it
// does not exist. SQLite parent directories are created as needed.
func Open(ctx context.Context, cfg types.StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := cfg.Driver
	if driver == "" {
		driver = types.DriverSQLite
	}

	dsn := cfg.DSN
	switch driver {
	case types.DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("store dsn is required")
		}
		if dir := filepath.Dir(dsnPath(dsn)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + sqliteParams
		} else {
			dsn += "?" + sqliteParams
		}
	case types.DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("store dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{
		db:         db,
		driver:     driver,
		logger:     logger.With(zap.String("component", "store")),
		maxResults: defaultMaxResults,
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Debug("store opened", zap.String("driver", string(driver)))
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which dialect the store speaks.
func (s *Store) Driver() types.StoreDriver {
	return s.driver
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func dsnPath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// schemaStatements use placeholders for the few column types that differ
// between SQLite and Postgres; see dialectTypes.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id {{serial}},
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refs (
		id {{serial}},
		title TEXT NOT NULL,
		authors TEXT,
		year INTEGER,
		source TEXT,
		doi TEXT,
		url TEXT,
		doi_key TEXT UNIQUE,
		title_key TEXT,
		identity_key TEXT UNIQUE,
		created_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_title_key ON refs(title_key)`,
	`CREATE TABLE IF NOT EXISTS extraction_batches (
		id TEXT PRIMARY KEY,
		project_id {{bigint}} NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		idempotency_key TEXT,
		claims_created INTEGER NOT NULL,
		references_created INTEGER NOT NULL,
		references_deduplicated INTEGER NOT NULL,
		created_at {{ts}} NOT NULL,
		UNIQUE (project_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS claims (
		id {{serial}},
		project_id {{bigint}} NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		claim_type TEXT NOT NULL,
		page_number INTEGER,
		paragraph_index INTEGER,
		verification_status TEXT NOT NULL DEFAULT 'unverified',
		batch_id TEXT,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_project_id ON claims(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_batch_id ON claims(batch_id)`,
	`CREATE TABLE IF NOT EXISTS claim_refs (
		id {{serial}},
		claim_id {{bigint}} NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
		reference_id {{bigint}} NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
		relevance_score {{real}} CHECK (relevance_score IS NULL OR (relevance_score >= 0 AND relevance_score <= 1)),
		context TEXT,
		UNIQUE (claim_id, reference_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claim_refs_reference_id ON claim_refs(reference_id)`,
	`CREATE TABLE IF NOT EXISTS batch_refs (
		batch_id TEXT NOT NULL REFERENCES extraction_batches(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		reference_id {{bigint}} NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
		PRIMARY KEY (batch_id, ordinal)
	)`,
}

var dialectTypes = map[types.StoreDriver]*strings.Replacer{
	types.DriverSQLite: strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{bigint}}", "INTEGER",
		"{{ts}}", "TIMESTAMP",
		"{{real}}", "REAL",
	),
	types.DriverPostgres: strings.NewReplacer(
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
		"{{bigint}}", "BIGINT",
		"{{ts}}", "TIMESTAMPTZ",
		"{{real}}", "DOUBLE PRECISION",
	),
}

func (s *Store) createSchema(ctx context.Context) error {
	r := dialectTypes[s.driver]
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres. Queries in
// this package never contain a literal question mark.
func rebind(driver types.StoreDriver, query string) string {
	if driver != types.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isUniqueViolation reports whether err is a unique constraint failure
// from either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// querier is the subset of *sql.DB and *sql.Tx the read helpers need.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func now() time.Time {
	return time.Now().UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
