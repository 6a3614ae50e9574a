package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

func Open(ctx context.Context, driver, databaseURL string) (*sql.DB, error) {
	dsn := databaseURL
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(databaseURL)
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == DriverSQLite {
		// one connection keeps writers serialized and in-memory databases alive
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func sqliteDSN(databaseURL string) string {
	dsn := strings.TrimSpace(databaseURL)
	if dsn == "" || dsn == ":memory:" {
		dsn = "file::memory:"
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_pragma=foreign_keys(1)"
	}
	return dsn + "?_pragma=foreign_keys(1)"
}
