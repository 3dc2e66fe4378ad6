// Package executor runs compiled query text against ClickHouse and returns
// dynamically typed rows.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	_ "github.com/ClickHouse/clickhouse-go" // registers the "clickhouse" driver

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

const DriverName = "clickhouse"

type Interface interface {
	Query(ctx context.Context, query string) ([]model.Row, error)
	Ping(ctx context.Context) error
}

type Executor struct {
	logger   *slog.Logger
	db       *sql.DB
	startNow func() time.Time // for tests
}

// Open connects with a clickhouse-go DSN such as tcp://host:9000?database=pivot.
func Open(logger *slog.Logger, dsn string) (*Executor, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(logger, db), nil
}

func New(logger *slog.Logger, db *sql.DB) *Executor {
	return &Executor{logger: logger, db: db, startNow: time.Now}
}

// Query runs one statement and scans every row into a column-name keyed map.
// Values are converted with model.ValueOf after scanning into each column's driver type.
func (e *Executor) Query(ctx context.Context, query string) ([]model.Row, error) {
	start := e.startNow()
	e.logger.DebugContext(ctx, "executing query", "sql", query)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("exec query: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	out := make([]model.Row, 0, 16)
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = scanTarget(ct)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := make(model.Row, len(types))
		for i, ct := range types {
			row[ct.Name()] = model.ValueOf(reflect.ValueOf(dest[i]).Elem().Interface())
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	e.logger.DebugContext(ctx, "query done",
		"rows", len(out),
		"duration", time.Since(start).String())
	return out, nil
}

var anyType = reflect.TypeOf((*any)(nil)).Elem()

func scanTarget(ct *sql.ColumnType) any {
	t := ct.ScanType()
	if t == nil {
		t = anyType
	}
	return reflect.New(t).Interface()
}

func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}

func (e *Executor) Close() error {
	return e.db.Close()
}
