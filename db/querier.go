package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Querier runs parameterized SQL against the configured backend. Queries are
// written with "?" placeholders; backends that need another style rebind them.
type Querier interface {
	// Query runs a SELECT and decodes the rows into dst, a pointer to a slice of
	// structs whose json tags name the result columns.
	Query(ctx context.Context, dst any, query string, args ...any) error
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Transactor is implemented by backends that can run several statements atomically.
type Transactor interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// Dialect selects placeholder style and the service name used in errors.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type sqlExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLQuerier adapts a database/sql handle (postgres or sqlite) to Querier.
type SQLQuerier struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

// NewSQLQuerier wraps db. Every call is bounded by timeout.
func NewSQLQuerier(db *sql.DB, dialect Dialect, timeout time.Duration) *SQLQuerier {
	return &SQLQuerier{db: db, dialect: dialect, timeout: timeout}
}

func (q *SQLQuerier) Query(ctx context.Context, dst any, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return runQuery(ctx, q.db, q.dialect, dst, query, args...)
}

func (q *SQLQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return runExec(ctx, q.db, q.dialect, query, args...)
}

// InTx runs fn inside a transaction. The transaction is rolled back when fn fails.
func (q *SQLQuerier) InTx(ctx context.Context, fn func(Querier) error) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(string(q.dialect), 0, err)
	}
	if err := fn(&txQuerier{tx: tx, dialect: q.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(string(q.dialect), 0, err)
	}
	return nil
}

func (q *SQLQuerier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	return classify(string(q.dialect), 0, q.db.PingContext(ctx))
}

// Close closes the underlying handle.
func (q *SQLQuerier) Close() error {
	return q.db.Close()
}

type txQuerier struct {
	tx      *sql.Tx
	dialect Dialect
}

func (q *txQuerier) Query(ctx context.Context, dst any, query string, args ...any) error {
	return runQuery(ctx, q.tx, q.dialect, dst, query, args...)
}

func (q *txQuerier) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return runExec(ctx, q.tx, q.dialect, query, args...)
}

func runQuery(ctx context.Context, exec sqlExecutor, dialect Dialect, dst any, query string, args ...any) error {
	rows, err := exec.QueryContext(ctx, rebind(dialect, query), args...)
	if err != nil {
		return classify(string(dialect), 0, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return classify(string(dialect), 0, err)
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return classify(string(dialect), 0, err)
		}
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				record[column] = string(b)
				continue
			}
			record[column] = values[i]
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return classify(string(dialect), 0, err)
	}

	return decodeRecords(records, dst)
}

func runExec(ctx context.Context, exec sqlExecutor, dialect Dialect, query string, args ...any) (int64, error) {
	result, err := exec.ExecContext(ctx, rebind(dialect, query), args...)
	if err != nil {
		return 0, classify(string(dialect), 0, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return affected, nil
}

// decodeRecords maps column records onto dst through their json representation,
// which is the same path rows coming from the D1 API take.
func decodeRecords(records any, dst any) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for postgres. Quoted literals are left alone.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
