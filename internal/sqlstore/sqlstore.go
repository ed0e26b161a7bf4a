// Package sqlstore is the database access layer WebAPI handlers call into:
// ExecSQL, ExecSQLParams, GetJSONResponse, GetRecord and HasRows, each
// hiding pooling behind database/sql. It is a supporting collaborator, not
// part of the concurrent request-processing core, so it favors simplicity:
// one *sql.DB per logical database name, relying on database/sql's own
// pool rather than reimplementing the original's fixed five-connection
// array (sql.h's dbconns, MAX_CONNS=5).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver, registers "pgx"
	_ "modernc.org/sqlite"             // pure-Go sqlite driver, registers "sqlite"
)

// Store holds one *sql.DB per logical database name ("AUDITDB", "LOGINDB",
// ...), as configured via internal/config.Snapshot.Databases.
type Store struct {
	dbs map[string]*sql.DB
}

// Open connects every named DSN in dsns, choosing the pgx driver for
// "postgres://"/"postgresql://" DSNs and the sqlite driver for everything
// else (file paths, "file:", ":memory:" — primarily for tests).
func Open(dsns map[string]string) (*Store, error) {
	s := &Store{dbs: make(map[string]*sql.DB, len(dsns))}
	for name, dsn := range dsns {
		db, err := sql.Open(driverFor(dsn), dsn)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("sqlstore: opening %s: %w", name, err)
		}
		s.dbs[name] = db
	}
	return s, nil
}

func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx"
	}
	return "sqlite"
}

// Close closes every open database handle.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) handle(name string) (*sql.DB, error) {
	db, ok := s.dbs[name]
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown database %q", name)
	}
	return db, nil
}

// ExecSQL runs a statement with no parameters and no result rows expected
// (an INSERT/UPDATE/CALL against a procedure with no result set).
func (s *Store) ExecSQL(ctx context.Context, name, query string) error {
	db, err := s.handle(name)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query)
	return err
}

// ExecSQLParams runs a parameterized statement, as the audit drain does for
// every record it writes.
func (s *Store) ExecSQLParams(ctx context.Context, name, query string, args ...any) error {
	db, err := s.handle(name)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

// GetJSONResponse runs query and returns the single text/json column of its
// first row verbatim — the convention every built-in WebAPI stored
// procedure follows: "select api.fn_whatever(...) as json".
func (s *Store) GetJSONResponse(ctx context.Context, name, query string) (string, error) {
	db, err := s.handle(name)
	if err != nil {
		return "", err
	}
	row := db.QueryRowContext(ctx, query)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return payload, nil
}

// GetRecord runs query and returns its first row as a column-name -> string
// map, used by handlers that need individual fields rather than a
// pre-built JSON blob.
func (s *Store) GetRecord(ctx context.Context, name, query string) (map[string]string, error) {
	db, err := s.handle(name)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}

	values := make([]any, len(cols))
	scanTargets := make([]any, len(cols))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := rows.Scan(scanTargets...); err != nil {
		return nil, err
	}

	record := make(map[string]string, len(cols))
	for i, col := range cols {
		record[col] = stringify(values[i])
	}
	return record, nil
}

// HasRows reports whether query returns at least one row, used for
// existence checks (login lookups, uniqueness checks).
func (s *Store) HasRows(ctx context.Context, name, query string) (bool, error) {
	db, err := s.handle(name)
	if err != nil {
		return false, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
