package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Connect opens a database/sql handle for the given driver and verifies it with a ping.
func Connect(driver, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database handle: %w", err)
	}

	if driver == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY on the write path.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database within %v: %w", timeout, err)
	}

	return db, nil
}

// SQLiteDSN builds a modernc sqlite DSN for a file path with a busy timeout.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// OpenSQLite opens a sqlite file database (created when missing) as a Querier.
func OpenSQLite(path string, timeout time.Duration) (*SQLQuerier, error) {
	sqlDB, err := Connect("sqlite", SQLiteDSN(path), timeout)
	if err != nil {
		return nil, err
	}
	return NewSQLQuerier(sqlDB, DialectSQLite, timeout), nil
}
