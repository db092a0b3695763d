// Package store persists entities and run ledger entries in Postgres or SQLite.
//
// Queries are written once with "?" placeholders; the Postgres adapter rebinds
// them to "$n" before execution. Every driver error that signals a missing row
// is normalised to ErrNotFound.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = eris.New("store: not found")

// Row is a single-row query result.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a multi-row query result. Close must be called when done.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Querier executes SQL within a connection or a transaction.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// DB is a database handle able to run transactions and migrate its schema.
type DB interface {
	Querier
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(Querier) error) error
	Migrate(ctx context.Context) error
	Driver() string
	Close() error
}

// Open connects to the database selected by driver.
func Open(ctx context.Context, driver, dsn string, maxConns int32) (DB, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgres(ctx, dsn, maxConns)
	case DriverSQLite:
		return NewSQLite(dsn)
	}
	return nil, eris.Errorf("store: unknown driver %q", driver)
}

// IsUniqueViolation reports whether err was caused by a unique or primary
// key constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// scan reads row into dest, mapping a missing row to ErrNotFound.
func scan(row Row, what string, dest ...any) error {
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return eris.Wrap(ErrNotFound, what)
	}
	return eris.Wrap(err, "store: "+what)
}

// rebind rewrites "?" placeholders to Postgres positional parameters.
func rebind(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + n*2)
	i := 0
	for _, r := range query {
		if r == '?' {
			i++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(i))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
