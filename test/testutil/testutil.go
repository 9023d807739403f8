// Package testutil provides shared test utilities for tenantsql integration
// tests: a PostgreSQL container, per-test databases cloned from a template
// holding the fixture schema, and tenant data factories.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

//go:embed testdata/schema.sql
var schemaSQL string

// Singleton server state
var (
	singletonOnce sync.Once
	singletonDSN  string
	singletonErr  error

	templateOnce sync.Once
	templateName string
	templateErr  error
)

// ensureSingleton returns the admin DSN of the test server. DATABASE_URL or
// DATABASE_HOST select an existing server; otherwise a PostgreSQL container
// is started once per test binary.
func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		if cfg := GetDatabaseConfig(); cfg.URL != "" {
			singletonDSN = cfg.URL
			return
		}

		ctx := context.Background()

		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_INITDB_ARGS": "--auth-host=trust",
			}),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}

		singletonDSN = dsn
		// Container is not stored - ryuk will handle cleanup automatically
	})

	return singletonDSN, singletonErr
}

// ensureTemplate creates the template database holding the fixture schema.
func ensureTemplate(adminDSN string) (string, error) {
	templateOnce.Do(func() {
		templateName = uniqueDBName("tenantsql_template")

		if err := createDatabase(adminDSN, templateName, ""); err != nil {
			templateErr = fmt.Errorf("create template database: %w", err)
			return
		}

		if err := applySchema(replaceDBName(adminDSN, templateName)); err != nil {
			templateErr = err
			return
		}

		// Non-fatal: copying works without the template flag, only slower.
		_ = markAsTemplate(adminDSN, templateName)
	})

	return templateName, templateErr
}

// DB returns a connection to a fresh database holding the fixture schema.
// The database is dropped when the test completes.
func DB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, _ := open(tb, "test", true)
	return db
}

// DSN is like DB but also returns the connection string, for code that
// opens its own connections.
func DSN(tb testing.TB) (*sql.DB, string) {
	tb.Helper()
	return open(tb, "test", true)
}

// EmptyDB returns a connection to a fresh empty database.
func EmptyDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, _ := open(tb, "empty", false)
	return db
}

func open(tb testing.TB, prefix string, fromTemplate bool) (*sql.DB, string) {
	tb.Helper()

	adminDSN, err := ensureSingleton()
	require.NoError(tb, err, "failed to start PostgreSQL")

	var tmpl string
	if fromTemplate {
		tmpl, err = ensureTemplate(adminDSN)
		require.NoError(tb, err, "failed to create template database")
	}

	dbName := uniqueDBName(prefix)
	err = createDatabase(adminDSN, dbName, tmpl)
	require.NoError(tb, err, "failed to create database %s", dbName)

	dsn := replaceDBName(adminDSN, dbName)
	db, err := sql.Open("pgx", dsn)
	require.NoError(tb, err, "failed to connect to %s", dbName)
	require.NoError(tb, db.Ping(), "failed to ping %s", dbName)

	tb.Cleanup(func() {
		_ = db.Close()

		// Drop in the background so cleanup does not block the test.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = dropDatabase(ctx, adminDSN, dbName)
		}()
	})

	return db, dsn
}

func applySchema(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply fixture schema: %w", err)
	}
	return nil
}

// SchemaSQL returns the embedded fixture schema.
func SchemaSQL() string {
	return schemaSQL
}

func uniqueDBName(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// admin runs fn on a short-lived connection to the admin database.
func admin(adminDSN string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

// terminateQuery disconnects every other session of a database.
const terminateQuery = `
	SELECT pg_terminate_backend(pid)
	FROM pg_stat_activity
	WHERE datname = $1 AND pid <> pg_backend_pid()`

func createDatabase(adminDSN, name, template string) error {
	return admin(adminDSN, func(db *sql.DB) error {
		stmt := "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
		if template != "" {
			// The template must have no other sessions.
			_, _ = db.Exec(terminateQuery, template)
			stmt += " WITH TEMPLATE " + pgx.Identifier{template}.Sanitize()
		}
		_, err := db.Exec(stmt)
		return err
	})
}

func markAsTemplate(adminDSN, name string) error {
	return admin(adminDSN, func(db *sql.DB) error {
		_, _ = db.Exec(terminateQuery, name)
		_, err := db.Exec("ALTER DATABASE " + pgx.Identifier{name}.Sanitize() + " WITH is_template = true")
		return err
	})
}

func dropDatabase(ctx context.Context, adminDSN, name string) error {
	return admin(adminDSN, func(db *sql.DB) error {
		_, _ = db.ExecContext(ctx, terminateQuery, name)
		_, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize())
		return err
	})
}

// replaceDBName replaces the database name in a postgres:// URL.
func replaceDBName(dsn, newDB string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	u.Path = "/" + newDB
	return u.String()
}
