package config

import (
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Dev  Environment = "dev"
	Test Environment = "test"
	CI   Environment = "ci"
)

type SqlrtConfig struct {
	Env        Environment
	LogLevel   zerolog.Level
	Postgres   PostgresConfig
	MySQL      MySQLConfig
	SQLite     SQLiteConfig
	Migrations MigrationsConfig
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	SSLMode  string
	LogLevel tracelog.LogLevel
	MinConn  int32
	MaxConn  int32
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s sslmode=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName, info.SSLMode)
}

// URL renders the config as a postgres:// URL, which lib/pq and pgx both
// accept. A non-empty searchPath is added as a runtime parameter.
func (info PostgresConfig) URL(searchPath string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(info.User, info.Password),
		Host:   fmt.Sprintf("%s:%d", info.Hostname, info.Port),
		Path:   "/" + info.DbName,
	}
	q := url.Values{}
	q.Set("sslmode", info.SSLMode)
	if searchPath != "" {
		q.Set("search_path", searchPath)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type MySQLConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
}

// DSN renders a go-sql-driver/mysql DSN. Multi-statement execution is
// deliberately left off; migrations against MySQL use the split strategy.
func (info MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type SQLiteConfig struct {
	Path string
}

type MigrationsConfig struct {
	Paths    []string
	Strategy string
}
