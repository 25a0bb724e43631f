package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	MaxOpenConnections = 40
	MaxIdleConnections = 10

	queryTimeout = 10 * time.Second
)

var ErrNoRows = sql.ErrNoRows

var registerOnce sync.Once

type Client struct {
	db   *sqlx.DB
	Goqu *goqu.Database
}

type sqlResult struct {
	lastInsertId int64
	rowsAffected int64
}

func (r sqlResult) LastInsertId() (int64, error) { return r.lastInsertId, nil }
func (r sqlResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

func registerDialect() {
	registerOnce.Do(func() {
		dialectOptions := postgres.DialectOptions()
		dialectOptions.SupportsWithCTE = true
		goqu.RegisterDialect("default", dialectOptions)
		goqu.SetDefaultPrepared(true)
	})
}

func NewDB(dsn string) (*Client, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(MaxOpenConnections)
	db.SetMaxIdleConns(MaxIdleConnections)
	db.SetConnMaxIdleTime(time.Minute * 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db.DB), nil
}

// NewFromDB wraps an already opened postgres connection pool.
func NewFromDB(sqlDB *sql.DB) *Client {
	registerDialect()
	db := sqlx.NewDb(sqlDB, "postgres")
	return &Client{db: db, Goqu: goqu.New("default", db)}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) QueryRow(ctx context.Context, dest any, query *goqu.SelectDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := c.db.QueryRowxContext(ctx, q, args...)

	outType := reflect.TypeOf(dest)
	if outType.Kind() == reflect.Ptr {
		outType = outType.Elem()
	}

	var scanErr error
	if outType.Kind() == reflect.Struct && !isScanner(dest) {
		scanErr = row.StructScan(dest)
	} else {
		scanErr = row.Scan(dest)
	}

	if errors.Is(scanErr, sql.ErrNoRows) {
		return ErrNoRows
	}

	if scanErr != nil {
		return fmt.Errorf("unable to scan row: %w", scanErr)
	}

	return nil
}

func isScanner(dest any) bool {
	_, ok := dest.(sql.Scanner)
	return ok
}

func (c *Client) Select(ctx context.Context, dest any, query *goqu.SelectDataset) error {
	q, args, err := query.ToSQL()
	if err != nil {
		return fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := c.db.SelectContext(ctx, dest, q, args...); err != nil {
		return fmt.Errorf("unable to execute select query: %w", err)
	}
	return nil
}

// Insert executes a single-row insert and returns the generated numeric id.
func (c *Client) Insert(ctx context.Context, query *goqu.InsertDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var lastInsertId int64
	row := c.db.QueryRowContext(ctx, q+" RETURNING id", args...)
	if err := row.Scan(&lastInsertId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("insert succeeded but returned no id")
		}
		return nil, fmt.Errorf("failed to scan inserted id: %w", err)
	}

	return sqlResult{
		lastInsertId: lastInsertId,
		rowsAffected: 1,
	}, nil
}

// InsertBatch executes a multi-row insert as one statement.
func (c *Client) InsertBatch(ctx context.Context, query *goqu.InsertDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to execute batch insert: %w", err)
	}
	return res, nil
}

func (c *Client) Update(ctx context.Context, query *goqu.UpdateDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to execute update query: %w", err)
	}
	return res, nil
}

func (c *Client) Delete(ctx context.Context, query *goqu.DeleteDataset) (sql.Result, error) {
	q, args, err := query.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("unable to build query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to execute delete query: %w", err)
	}
	return res, nil
}
