/*
Package dbtest sets up throwaway databases for tests.

An Env is one isolated database: an in-memory SQLite database, or a freshly
created Postgres schema or MySQL database with a random name. Setup creates
it, applies migrations, and arranges for Teardown to drop it when the test
ends. Tests that want to run against every available backend use ForEach.

SQLite is always available. Postgres and MySQL tests run only when
SQLRT_TEST_POSTGRES or SQLRT_TEST_MYSQL is set, and connect using the
settings in src/config.
*/
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"git.handmade.network/hmn/sqlrt/src/config"
	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/migration"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/require"
)

type Backend string

const (
	SQLite      Backend = "sqlite"
	PostgresPgx Backend = "postgres-pgx"
	PostgresPQ  Backend = "postgres-pq"
	MySQL       Backend = "mysql"
)

var AllBackends = []Backend{SQLite, PostgresPgx, PostgresPQ, MySQL}

// The name of the per-dialect schema directory for this backend.
func (b Backend) SchemaDir() string {
	switch b {
	case PostgresPgx, PostgresPQ:
		return "postgresql"
	}
	return string(b)
}

// Migrations against MySQL are split into statements, since the driver
// rejects multi-statement batches unless told otherwise.
func (b Backend) Strategy() migration.Strategy {
	if b == MySQL {
		return migration.Split
	}
	return migration.SingleBatch
}

// Whether the environment enables this backend.
func (b Backend) Available() bool {
	switch b {
	case SQLite:
		return true
	case PostgresPgx, PostgresPQ:
		return os.Getenv("SQLRT_TEST_POSTGRES") != ""
	case MySQL:
		return os.Getenv("SQLRT_TEST_MYSQL") != ""
	}
	return false
}

type Env struct {
	Backend Backend
	Conn    db.Conn
	Async   *db.AsyncConn
	// The Postgres schema or MySQL database created for this environment.
	// Empty for SQLite.
	Namespace string

	mu        sync.Mutex
	teardowns []func(ctx context.Context) error
	tornDown  bool
}

func (e *Env) onTeardown(f func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardowns = append(e.teardowns, f)
}

// Applies migrations using the backend's strategy.
func (e *Env) Migrate(ctx context.Context, paths ...string) ([]*migration.Migration, error) {
	return migration.NewApplier(e.Backend.Strategy()).Apply(ctx, e.Conn, paths...)
}

/*
Closes connections and drops whatever Open created, in reverse order of
creation. Every step runs even if an earlier one fails; the failures are
logged and returned together. Calling Teardown again does nothing.
*/
func (e *Env) Teardown(ctx context.Context) error {
	e.mu.Lock()
	if e.tornDown {
		e.mu.Unlock()
		return nil
	}
	e.tornDown = true
	teardowns := e.teardowns
	e.teardowns = nil
	e.mu.Unlock()

	var errs []error
	for i := len(teardowns) - 1; i >= 0; i-- {
		if err := teardowns[i](ctx); err != nil {
			logging.ExtractLogger(ctx).Warn().
				Err(err).
				Str("backend", string(e.Backend)).
				Str("namespace", e.Namespace).
				Msg("Failed to tear down test database")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Creates an isolated database on the given backend. If setup fails partway,
// whatever was already created is torn down before returning.
func Open(ctx context.Context, b Backend) (env *Env, err error) {
	env = &Env{Backend: b}
	defer func() {
		if err != nil {
			err = errors.Join(err, env.Teardown(context.WithoutCancel(ctx)))
			env = nil
		}
	}()

	switch b {
	case SQLite:
		err = openSQLite(ctx, env)
	case PostgresPgx:
		err = openPostgresPgx(ctx, env, config.Config.Postgres)
	case PostgresPQ:
		err = openPostgresPQ(ctx, env, config.Config.Postgres)
	case MySQL:
		err = openMySQL(ctx, env, config.Config.MySQL)
	default:
		err = oops.New(nil, "unknown test backend %q", b)
	}
	if err != nil {
		return env, err
	}

	env.Async = db.Async(env.Conn)
	env.onTeardown(func(ctx context.Context) error {
		if unfinished := env.Async.Shutdown(asyncShutdownTimeout); len(unfinished) > 0 {
			return oops.New(nil, "async calls still running: %s", strings.Join(unfinished, ", "))
		}
		return nil
	})
	return env, nil
}

// How long Teardown waits for outstanding async calls before closing
// connections under them.
const asyncShutdownTimeout = 10 * time.Second

/*
Opens an environment for a test and applies the given migrations. The test is
skipped if the backend is not enabled, and fails if setup fails. Teardown
runs automatically when the test finishes.
*/
func Setup(t testing.TB, b Backend, migrations ...string) *Env {
	t.Helper()
	if !b.Available() {
		t.Skipf("%s tests are not enabled", b)
	}

	ctx := context.Background()
	env, err := Open(ctx, b)
	require.NoError(t, err, "failed to set up %s", b)
	t.Cleanup(func() {
		if err := env.Teardown(context.Background()); err != nil {
			t.Errorf("failed to tear down %s: %v", b, err)
		}
	})

	if len(migrations) > 0 {
		_, err := env.Migrate(ctx, migrations...)
		require.NoError(t, err, "failed to migrate %s", b)
	}
	return env
}

// Runs fn as a subtest against every enabled backend. Each backend gets a
// fresh environment with the migrations in schemaRoot/<backend.SchemaDir()>
// applied.
func ForEach(t *testing.T, schemaRoot string, fn func(t *testing.T, env *Env)) {
	for _, b := range AllBackends {
		t.Run(string(b), func(t *testing.T) {
			env := Setup(t, b, filepath.Join(schemaRoot, b.SchemaDir()))
			fn(t, env)
		})
	}
}

func newNamespace() string {
	return "sqltest_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func openSQLite(ctx context.Context, env *Env) error {
	// Named in-memory databases with a shared cache live as long as one
	// connection to them is open. Holding the pool at one connection keeps
	// the database alive and serializes access.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	sdb, err := db.OpenSQL(ctx, "sqlite3", dsn)
	if err != nil {
		return err
	}
	sdb.SetMaxOpenConns(1)
	env.onTeardown(func(ctx context.Context) error {
		return sdb.Close()
	})

	env.Conn = db.SQL(sdb)
	return nil
}

// Waits for the database to accept connections. Containers started right
// before the tests often take a few seconds.
func waitFor(ctx context.Context, what string, ping func(ctx context.Context) error) error {
	boff := backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
	}
	deadline := time.Now().Add(30 * time.Second)

	for {
		err := ping(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return oops.New(err, "%s never became ready", what)
		}

		dur := boff.Duration()
		logging.ExtractLogger(ctx).Debug().
			Err(err).
			Dur("retrying after", dur).
			Msgf("Waiting for %s", what)

		timer := time.NewTimer(dur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func openPostgresPgx(ctx context.Context, env *Env, cfg config.PostgresConfig) error {
	admin, err := connectPostgresAdmin(ctx, env, cfg)
	if err != nil {
		return err
	}

	schema := newNamespace()
	if err := createSchema(ctx, env, admin, schema); err != nil {
		return err
	}

	pool, err := db.NewConnPoolWithConfig(ctx, cfg, schema)
	if err != nil {
		return err
	}
	env.onTeardown(func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	env.Conn = db.Pgx(pool)
	return nil
}

func openPostgresPQ(ctx context.Context, env *Env, cfg config.PostgresConfig) error {
	admin, err := connectPostgresAdmin(ctx, env, cfg)
	if err != nil {
		return err
	}

	schema := newNamespace()
	if err := createSchema(ctx, env, admin, schema); err != nil {
		return err
	}

	sdb, err := db.OpenSQL(ctx, "postgres", cfg.URL(schema))
	if err != nil {
		return err
	}
	env.onTeardown(func(ctx context.Context) error {
		return sdb.Close()
	})

	env.Conn = db.SQL(sdb)
	return nil
}

// The admin connection creates and drops the schema. It is registered for
// teardown first, so it is closed last.
func connectPostgresAdmin(ctx context.Context, env *Env, cfg config.PostgresConfig) (*pgx.Conn, error) {
	var admin *pgx.Conn
	err := waitFor(ctx, "postgres", func(ctx context.Context) error {
		conn, err := db.NewConnWithConfig(ctx, cfg, "")
		if err != nil {
			return err
		}
		admin = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	env.onTeardown(func(ctx context.Context) error {
		return admin.Close(ctx)
	})
	return admin, nil
}

func createSchema(ctx context.Context, env *Env, admin *pgx.Conn, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		return oops.New(err, "failed to create schema %s", schema)
	}
	env.Namespace = schema
	env.onTeardown(func(ctx context.Context) error {
		if _, err := admin.Exec(ctx, "DROP SCHEMA "+ident+" CASCADE"); err != nil {
			return oops.New(err, "failed to drop schema %s", schema)
		}
		return nil
	})
	return nil
}

func openMySQL(ctx context.Context, env *Env, cfg config.MySQLConfig) error {
	mcfg, err := mysql.ParseDSN(cfg.DSN())
	if err != nil {
		return oops.New(err, "bad MySQL config")
	}

	var admin db.Conn
	err = waitFor(ctx, "mysql", func(ctx context.Context) error {
		sdb, err := db.OpenSQL(ctx, "mysql", mcfg.FormatDSN())
		if err != nil {
			return err
		}
		env.onTeardown(func(ctx context.Context) error {
			return sdb.Close()
		})
		admin = db.SQL(sdb)
		return nil
	})
	if err != nil {
		return err
	}

	name := newNamespace()
	if _, err := admin.Exec(ctx, "CREATE DATABASE `"+name+"`"); err != nil {
		return oops.New(err, "failed to create database %s", name)
	}
	env.Namespace = name
	env.onTeardown(func(ctx context.Context) error {
		if _, err := admin.Exec(ctx, "DROP DATABASE `"+name+"`"); err != nil {
			return oops.New(err, "failed to drop database %s", name)
		}
		return nil
	})

	mcfg.DBName = name
	sdb, err := db.OpenSQL(ctx, "mysql", mcfg.FormatDSN())
	if err != nil {
		return err
	}
	env.onTeardown(func(ctx context.Context) error {
		return sdb.Close()
	})

	env.Conn = db.SQL(sdb)
	return nil
}
