package db

import (
	"git.handmade.network/hmn/sqlrt/src/sqlscan"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Dialect describes what a transport expects from the binder and the
// migration applier.
type Dialect struct {
	Name string
	// One of the sqlx bind types (sqlx.DOLLAR, sqlx.QUESTION, ...).
	BindType int
	// Whether slices can be passed as array parameters.
	Arrays bool
	// Converts a slice into something the driver accepts as an array
	// parameter. Nil means slices pass through unchanged.
	EncodeArray func(v any) any
	// Whether Exec accepts several statements in one call.
	MultiStatement bool
	// Whether backslash escapes characters in ordinary string literals.
	BackslashEscapes bool
}

var (
	// pgx, which encodes Go slices natively.
	Postgres = Dialect{
		Name:           "postgres",
		BindType:       sqlx.DOLLAR,
		Arrays:         true,
		MultiStatement: true,
	}

	// Postgres through database/sql, where slices must be wrapped.
	PostgresSQL = Dialect{
		Name:           "postgres",
		BindType:       sqlx.DOLLAR,
		Arrays:         true,
		EncodeArray:    func(v any) any { return pq.Array(v) },
		MultiStatement: true,
	}

	SQLite = Dialect{
		Name:           "sqlite",
		BindType:       sqlx.QUESTION,
		MultiStatement: true,
	}

	// MySQL without multiStatements=true in the DSN.
	MySQL = Dialect{
		Name:             "mysql",
		BindType:         sqlx.QUESTION,
		BackslashEscapes: true,
	}
)

// Picks the dialect for a database/sql driver name.
func DialectFor(driverName string) Dialect {
	switch driverName {
	case "postgres", "pgx", "pgx/v5", "pq", "cloudsqlpostgres", "nrpostgres", "cockroach":
		return PostgresSQL
	case "sqlite3", "sqlite", "nrsqlite3":
		return SQLite
	case "mysql", "nrmysql":
		return MySQL
	default:
		return Dialect{
			Name:     driverName,
			BindType: sqlx.BindType(driverName),
		}
	}
}

func (d Dialect) BindTypeName() string {
	switch d.BindType {
	case sqlx.DOLLAR:
		return "dollar"
	case sqlx.QUESTION:
		return "question"
	case sqlx.NAMED:
		return "named"
	case sqlx.AT:
		return "at"
	default:
		return "unknown"
	}
}

// The lexer rules for statements sent over this transport.
func (d Dialect) Scanner() sqlscan.Scanner {
	return sqlscan.Scanner{BackslashEscapes: d.BackslashEscapes}
}
