package db

import (
	"context"
	"time"

	"git.handmade.network/hmn/sqlrt/src/config"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/perf"
	"git.handmade.network/hmn/sqlrt/src/query"
	"git.handmade.network/hmn/sqlrt/src/utils"
	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Creates a new connection to the configured Postgres database.
// This connection is not safe for concurrent use.
func NewConn(ctx context.Context) (*pgx.Conn, error) {
	return NewConnWithConfig(ctx, config.PostgresConfig{}, "")
}

// Fields left empty in cfg fall back to config.Config. A non-empty
// searchPath is set on the connection, which is how tests isolate themselves
// in a schema of their own.
func NewConnWithConfig(ctx context.Context, cfg config.PostgresConfig, searchPath string) (*pgx.Conn, error) {
	cfg = overrideDefaultConfig(cfg)

	pgcfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, oops.New(err, "invalid database config")
	}
	if searchPath != "" {
		pgcfg.RuntimeParams["search_path"] = searchPath
	}
	pgcfg.Tracer = newTracer(cfg)

	conn, err := pgx.ConnectConfig(ctx, pgcfg)
	if err != nil {
		return nil, oops.New(err, "failed to connect to database")
	}

	return conn, nil
}

// Creates a connection pool for the configured Postgres database.
// The resulting pool is safe for concurrent use.
func NewConnPool(ctx context.Context) (*pgxpool.Pool, error) {
	return NewConnPoolWithConfig(ctx, config.PostgresConfig{}, "")
}

func NewConnPoolWithConfig(ctx context.Context, cfg config.PostgresConfig, searchPath string) (*pgxpool.Pool, error) {
	cfg = overrideDefaultConfig(cfg)

	pgcfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, oops.New(err, "invalid database config")
	}
	if searchPath != "" {
		pgcfg.ConnConfig.RuntimeParams["search_path"] = searchPath
	}
	pgcfg.MinConns = cfg.MinConn
	pgcfg.MaxConns = cfg.MaxConn
	pgcfg.ConnConfig.Tracer = newTracer(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, pgcfg)
	if err != nil {
		return nil, oops.New(err, "failed to create database connection pool")
	}

	return pool, nil
}

func overrideDefaultConfig(cfg config.PostgresConfig) config.PostgresConfig {
	return config.PostgresConfig{
		User:     utils.OrDefault(cfg.User, config.Config.Postgres.User),
		Password: utils.OrDefault(cfg.Password, config.Config.Postgres.Password),
		Hostname: utils.OrDefault(cfg.Hostname, config.Config.Postgres.Hostname),
		Port:     utils.OrDefault(cfg.Port, config.Config.Postgres.Port),
		DbName:   utils.OrDefault(cfg.DbName, config.Config.Postgres.DbName),
		SSLMode:  utils.OrDefault(cfg.SSLMode, config.Config.Postgres.SSLMode),
		LogLevel: utils.OrDefault(cfg.LogLevel, config.Config.Postgres.LogLevel),
		MinConn:  utils.OrDefault(cfg.MinConn, config.Config.Postgres.MinConn),
		MaxConn:  utils.OrDefault(cfg.MaxConn, config.Config.Postgres.MaxConn),
	}
}

/*
Opens a database/sql handle through sqlx. The lib/pq ("postgres"),
go-sqlite3 ("sqlite3") and go-sql-driver/mysql ("mysql") drivers are
registered by this package.

The connection is checked with a ping before returning.
*/
func OpenSQL(ctx context.Context, driverName, dsn string) (*sqlx.DB, error) {
	sdb, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, oops.New(err, "failed to open %s database", driverName)
	}
	if err := sdb.PingContext(ctx); err != nil {
		sdb.Close()
		return nil, oops.New(err, "failed to connect to %s database", driverName)
	}
	return sdb, nil
}

func newTracer(cfg config.PostgresConfig) pgx.QueryTracer {
	return multiTracer{
		&tracelog.TraceLog{
			Logger:   zerologadapter.NewLogger(*logging.GlobalLogger()),
			LogLevel: cfg.LogLevel,
		},
		perfTracer{},
	}
}

type multiTracer []pgx.QueryTracer

var _ pgx.QueryTracer = multiTracer{}

func (mt multiTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	for _, t := range mt {
		ctx = t.TraceQueryStart(ctx, conn, data)
	}
	return ctx
}

func (mt multiTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	for _, t := range mt {
		t.TraceQueryEnd(ctx, conn, data)
	}
}

// Returns the name from a "-- name: X :card" header, as emitted for every
// generated query.
func GetQueryName(sql string) (string, bool) {
	name, _, ok := query.ParseHeader(sql)
	return name, ok
}

func queryNameOrUnknown(sql string) string {
	if n, ok := GetQueryName(sql); ok {
		return n
	}
	return "Unknown query"
}

type perfBlockContextKey struct{}

type perfTracer struct{}

var _ pgx.QueryTracer = perfTracer{}

func (pt perfTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	b := perf.ExtractPerf(ctx).StartBlock("SQL", queryNameOrUnknown(data.SQL))
	return context.WithValue(ctx, perfBlockContextKey{}, b)
}

func (pt perfTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if b, ok := ctx.Value(perfBlockContextKey{}).(*perf.BlockHandle); ok {
		b.End()
	}
}

// The database/sql counterpart of the pgx tracers: records a perf block and
// logs the statement at trace level, or at error level if it failed.
func traceSQL(ctx context.Context, sql string, args []any) func(err error) {
	name := queryNameOrUnknown(sql)
	block := perf.ExtractPerf(ctx).StartBlock("SQL", name)
	start := time.Now()

	return func(err error) {
		block.End()
		logger := logging.ExtractLogger(ctx)
		if err != nil {
			logger.Error().Err(err).Str("query", name).Str("sql", sql).Int("args", len(args)).Msg("Query")
			return
		}
		logger.Trace().Str("query", name).Dur("time", time.Since(start)).Int("args", len(args)).Msg("Query")
	}
}
