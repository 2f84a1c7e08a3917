// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package db provides the gorp-backed database wrapper shared by every
// store in the placement engine: connection setup, table/index
// registration, and liveness checking.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver, test path only

	"github.com/sapcc/placement-engine/internal/conf"
)

// Index describes a non-primary-key index to create alongside a table.
type Index struct {
	Name        string
	ColumnNames []string
}

// Table is implemented by every persisted row type.
type Table interface {
	// TableName returns the SQL table this row type is stored in.
	TableName() string
	// Indexes returns the secondary indexes this table needs.
	Indexes() []Index
}

// DB wraps a gorp.DbMap with table/index bookkeeping and liveness checks.
type DB struct {
	*gorp.DbMap
	reconnect conf.DBReconnectConfig
	monitor   Monitor
}

// NewPostgresDB opens a connection to postgres and waits for it to become
// reachable before returning.
func NewPostgresDB(ctx context.Context, c conf.DBConfig, monitor Monitor) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database,
	)
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	dbmap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
	d := &DB{DbMap: dbmap, reconnect: c.Reconnect, monitor: monitor}

	slog.Info("db: waiting for database to be ready...")
	var lastErr error
	attempts := c.Reconnect.MaxRetries
	if attempts <= 0 {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		monitor.connectionAttempts.Inc()
		if lastErr = sqlDB.PingContext(ctx); lastErr == nil {
			slog.Info("db: ready")
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("db: not ready after %d attempts: %w", attempts, lastErr)
}

// NewSqliteDB opens a sqlite database at path (":memory:" for an ephemeral
// one), used exclusively by the fast unit test path.
func NewSqliteDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	dbmap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
	return &DB{DbMap: dbmap}, nil
}

// AddTable registers a Table with gorp, keyed by its declared primary-key
// tags, without creating it in the database yet.
func (d *DB) AddTable(t Table) Table {
	d.DbMap.AddTableWithName(t, t.TableName())
	return t
}

// CreateTable creates the given table (if it doesn't exist yet) and its
// declared indexes. Call as d.CreateTable(d.AddTable(MyRow{})).
func (d *DB) CreateTable(t Table) error {
	if err := d.DbMap.CreateTablesIfNotExists(); err != nil {
		return err
	}
	for _, idx := range t.Indexes() {
		if err := d.createIndex(t.TableName(), idx); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) createIndex(table string, idx Index) error {
	cols := ""
	for i, c := range idx.ColumnNames {
		if i > 0 {
			cols += ", "
		}
		cols += c
	}
	query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.Name, table, cols)
	_, err := d.DbMap.Exec(query)
	return err
}

// TableExists reports whether the given table already exists.
func (d *DB) TableExists(t Table) bool {
	switch d.DbMap.Dialect.(type) {
	case gorp.SqliteDialect:
		var name string
		err := d.DbMap.SelectOne(&name,
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", t.TableName())
		return err == nil
	default:
		var exists bool
		err := d.DbMap.SelectOne(&exists,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", t.TableName())
		return err == nil && exists
	}
}

// CheckLivenessPeriodically pings the database on the configured interval
// and panics after MaxRetries consecutive failures.
func (d *DB) CheckLivenessPeriodically(ctx context.Context) {
	interval := time.Duration(d.reconnect.LivenessPingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	retryInterval := time.Duration(d.reconnect.RetryIntervalSeconds) * time.Second
	if retryInterval <= 0 {
		retryInterval = time.Second
	}
	maxRetries := d.reconnect.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var failures int
			for failures < maxRetries {
				if err := d.DbMap.Db.PingContext(ctx); err == nil {
					break
				}
				failures++
				slog.Warn("db: liveness ping failed", "attempt", failures)
				time.Sleep(retryInterval)
			}
			if failures >= maxRetries {
				panic("db: lost connection to database")
			}
		}
	}
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.DbMap.Db.Close()
}
