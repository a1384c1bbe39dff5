// Package sqldb implements the storage interfaces over database/sql with
// two dialects: PostgreSQL (via pgx) for production and SQLite (via
// modernc.org/sqlite) for local development and tests. Queries are written
// once with `?` placeholders and rebound to `$N` for postgres.
package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
	gateway "github.com/himmiroute/himmi/internal"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Dialect selects SQL variants that differ between backends.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Store implements storage.Store.
type Store struct {
	write   *sql.DB
	read    *sql.DB
	dialect Dialect
}

// Open connects to the database named by dsn, runs migrations, and returns
// a Store. A dsn starting with postgres:// or postgresql:// selects the
// pgx driver; anything else is treated as a SQLite path (":memory:" for an
// in-memory database).
func Open(dsn string) (*Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return openPostgres(dsn)
	}
	return openSQLite(dsn)
}

func openPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(max(16, runtime.NumCPU()*4))
	db.SetMaxIdleConns(8)

	s := &Store{write: db, read: db, dialect: DialectPostgres}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return s, nil
}

func openSQLite(dsn string) (*Store, error) {
	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	// For :memory: databases, use shared cache so read/write pools share
	// the same data.
	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	s := &Store{write: write, read: read, dialect: DialectSQLite}
	if err := s.runMigrations(); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return s, nil
}

// runMigrations applies the embedded SQL migrations for the active dialect.
// fs.Sub strips the directory prefix so goose sees files at the FS root.
func (s *Store) runMigrations() error {
	dir, gd := "migrations/sqlite", goose.DialectSQLite3
	if s.dialect == DialectPostgres {
		dir, gd = "migrations/postgres", goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(gd, s.write, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping verifies database connectivity by pinging the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes the database connections.
func (s *Store) Close() error {
	if s.read == s.write {
		return s.write.Close()
	}
	return errors.Join(s.write.Close(), s.read.Close())
}

// q rewrites `?` placeholders to `$N` for postgres. Queries contain no
// literal question marks, so a plain scan is sufficient.
func (s *Store) q(query string) string {
	if s.dialect != DialectPostgres {
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

// forUpdate returns the row-lock clause for the active dialect. SQLite has
// no FOR UPDATE; its single-writer connection already serializes write
// transactions.
func (s *Store) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr translates sql.ErrNoRows to gateway.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

// conflictErr translates unique-violation errors to gateway.ErrConflict.
// Postgres reports SQLSTATE 23505; SQLite reports "UNIQUE constraint failed".
func conflictErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %s", gateway.ErrConflict, msg)
	}
	return err
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, gateway.ErrNotFound)
	}
	return nil
}
