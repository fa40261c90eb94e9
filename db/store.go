// Package db is the relational store for publishes, items, tasks, published
// paths and queued messages. Queries are built with goqu so the same code
// runs on sqlite3, postgres and mysql.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
)

func init() {
	// Bind parameters instead of interpolating them; message bodies are binary.
	goqu.SetDefaultPrepared(true)
}

// querier is the dataset factory shared by *goqu.Database and *goqu.TxDatabase
type querier interface {
	From(from ...interface{}) *goqu.SelectDataset
	Insert(table interface{}) *goqu.InsertDataset
	Update(table interface{}) *goqu.UpdateDataset
	Delete(table interface{}) *goqu.DeleteDataset
}

// Queries holds every read and write the services need. It runs either
// directly against the pool (Store) or inside a transaction (Tx).
type Queries struct {
	q      querier
	driver string
	now    func() time.Time
}

// Store owns the connection pool
type Store struct {
	Queries
	db    *goqu.Database
	sqlDB *sql.DB
}

// Tx is a Queries bound to one database transaction
type Tx struct {
	Queries
	tx *goqu.TxDatabase
}

// Open connects to the configured database and applies the schema
func Open(ctx context.Context, config cfg.DatabaseConfiguration) (*Store, error) {
	dsn := config.DSN
	isMemoryDB := config.Driver == "sqlite3" && strings.Contains(dsn, ":memory:")

	if config.Driver == "sqlite3" && !isMemoryDB {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", sep, config.BusyTimeoutMS)
	}

	sqlDB, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Driver, err)
	}

	switch {
	case isMemoryDB:
		// Every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	case config.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxOpenConns)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", config.Driver, err)
	}

	store, err := NewStore(config.Driver, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Info().Str("driver", config.Driver).Msg("Opened relational store")

	return store, nil
}

// NewStore wraps an already opened connection pool
func NewStore(driver string, sqlDB *sql.DB) (*Store, error) {
	if _, err := Schemas(driver); err != nil {
		return nil, err
	}
	gdb := goqu.New(driver, sqlDB)
	return &Store{
		Queries: Queries{q: gdb, driver: driver, now: time.Now},
		db:      gdb,
		sqlDB:   sqlDB,
	}, nil
}

// Migrate creates missing tables and indexes
func (s *Store) Migrate(ctx context.Context) error {
	schemas, err := Schemas(s.driver)
	if err != nil {
		return err
	}
	for _, schema := range schemas {
		if _, err := s.sqlDB.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Driver returns the database driver name
func (s *Store) Driver() string {
	return s.driver
}

// SetClock overrides the clock used for updated timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// WithTx runs fn inside a transaction, committing when fn returns nil
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	gtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{
		Queries: Queries{q: gtx, driver: s.driver, now: s.now},
		tx:      gtx,
	}

	defer func() {
		if p := recover(); p != nil {
			gtx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := gtx.Rollback(); rbErr != nil {
			log.Warn().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := gtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// chunks splits values so IN lists stay below driver parameter limits
func chunks[T any](values []T, size int) [][]T {
	var out [][]T
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}

const chunkSize = 500
