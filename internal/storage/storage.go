package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and migration set.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
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

// DB is a database handle tagged with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Rebind adapts a ?-style query to the handle's dialect.
func (db *DB) Rebind(query string) string {
	return db.Dialect.Rebind(query)
}

// Config describes how to open the database.
type Config struct {
	Driver       string
	DSN          string
	SQLitePath   string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// ErrUnsupportedDriver is returned for drivers other than postgres and sqlite.
var ErrUnsupportedDriver = errors.New("storage: unsupported driver")

// Open connects and verifies the database. SQLite is pinned to a single
// connection with foreign keys enabled.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		sqlDriver string
		dsn       string
		dialect   Dialect
	)
	switch driver {
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, errors.New("storage: postgres requires a DSN")
		}
		sqlDriver, dsn, dialect = "pgx", cfg.DSN, DialectPostgres
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = cfg.DSN
		}
		if path == "" {
			return nil, errors.New("storage: sqlite requires a path")
		}
		sqlDriver, dsn, dialect = "sqlite", SQLiteDSN(path), DialectSQLite
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	switch dialect {
	case DialectSQLite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}
	return &DB{DB: db, Dialect: dialect}, nil
}

// SQLiteDSN builds a modernc DSN for a file path.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Millis converts an instant to epoch milliseconds for storage.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts stored epoch milliseconds back to UTC.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullFloat wraps an optional float for a query argument.
func NullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// FloatPtr unwraps a scanned optional float.
func FloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
