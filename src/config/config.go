package config

import (
	"errors"
	"os"
	"strings"

	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/utils"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config holds the active configuration. It starts out with the defaults used
// by the local test database and is replaced by Load.
var Config = Defaults()

func Defaults() SqlrtConfig {
	return SqlrtConfig{
		Env:      Dev,
		LogLevel: zerolog.InfoLevel,
		Postgres: PostgresConfig{
			User:     "postgres",
			Password: "mysecretpassword",
			Hostname: "127.0.0.1",
			Port:     5432,
			DbName:   "dinotest",
			SSLMode:  "disable",
			LogLevel: tracelog.LogLevelWarn,
			MinConn:  1,
			MaxConn:  4,
		},
		MySQL: MySQLConfig{
			User:     "root",
			Password: "mysecretpassword",
			Hostname: "127.0.0.1",
			Port:     3306,
			DbName:   "dinotest",
		},
		SQLite: SQLiteConfig{
			Path: "sqlrt.db",
		},
		Migrations: MigrationsConfig{
			Strategy: "single",
		},
	}
}

type rawConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	Postgres struct {
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Hostname string `mapstructure:"hostname"`
		Port     int    `mapstructure:"port"`
		DbName   string `mapstructure:"dbname"`
		SSLMode  string `mapstructure:"sslmode"`
		LogLevel string `mapstructure:"log_level"`
		MinConn  int32  `mapstructure:"min_conn"`
		MaxConn  int32  `mapstructure:"max_conn"`
	} `mapstructure:"postgres"`

	MySQL struct {
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Hostname string `mapstructure:"hostname"`
		Port     int    `mapstructure:"port"`
		DbName   string `mapstructure:"dbname"`
	} `mapstructure:"mysql"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Migrations struct {
		Paths    []string `mapstructure:"paths"`
		Strategy string   `mapstructure:"strategy"`
	} `mapstructure:"migrations"`
}

/*
Loads configuration into Config. Sources, lowest priority first:

  - built-in defaults (see Defaults)
  - the YAML file at path, or ./sqlrt.yaml if path is empty and the file exists
  - a .env file in the working directory
  - SQLRT_* environment variables, e.g. SQLRT_POSTGRES_HOSTNAME

The PG_* variables used by common Postgres test setups (PG_HOST, PG_PORT,
PG_USER, PG_PASSWORD, PG_DATABASE) are honored as fallbacks.
*/
func Load(path string) error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return oops.New(err, "failed to load .env")
		}
	}

	v := viper.New()
	setDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return oops.New(err, "failed to read config file %s", path)
		}
	} else {
		v.SetConfigName("sqlrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return oops.New(err, "failed to read config file")
			}
		}
	}

	v.SetEnvPrefix("SQLRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return oops.New(err, "failed to decode config")
	}

	cfg, err := raw.resolve()
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

func setDefaults(v *viper.Viper, d SqlrtConfig) {
	v.SetDefault("env", string(d.Env))
	v.SetDefault("log_level", d.LogLevel.String())

	v.SetDefault("postgres.user", utils.OrDefault(os.Getenv("PG_USER"), d.Postgres.User))
	v.SetDefault("postgres.password", utils.OrDefault(os.Getenv("PG_PASSWORD"), d.Postgres.Password))
	v.SetDefault("postgres.hostname", utils.OrDefault(os.Getenv("PG_HOST"), d.Postgres.Hostname))
	v.SetDefault("postgres.port", utils.OrDefault(os.Getenv("PG_PORT"), "5432"))
	v.SetDefault("postgres.dbname", utils.OrDefault(os.Getenv("PG_DATABASE"), d.Postgres.DbName))
	v.SetDefault("postgres.sslmode", d.Postgres.SSLMode)
	v.SetDefault("postgres.log_level", d.Postgres.LogLevel.String())
	v.SetDefault("postgres.min_conn", d.Postgres.MinConn)
	v.SetDefault("postgres.max_conn", d.Postgres.MaxConn)

	v.SetDefault("mysql.user", utils.OrDefault(os.Getenv("MYSQL_USER"), d.MySQL.User))
	v.SetDefault("mysql.password", utils.OrDefault(os.Getenv("MYSQL_ROOT_PASSWORD"), d.MySQL.Password))
	v.SetDefault("mysql.hostname", utils.OrDefault(os.Getenv("MYSQL_HOST"), d.MySQL.Hostname))
	v.SetDefault("mysql.port", d.MySQL.Port)
	v.SetDefault("mysql.dbname", utils.OrDefault(os.Getenv("MYSQL_DATABASE"), d.MySQL.DbName))

	v.SetDefault("sqlite.path", d.SQLite.Path)

	v.SetDefault("migrations.paths", []string{})
	v.SetDefault("migrations.strategy", d.Migrations.Strategy)
}

func (raw rawConfig) resolve() (SqlrtConfig, error) {
	level, err := zerolog.ParseLevel(raw.LogLevel)
	if err != nil {
		return SqlrtConfig{}, oops.New(err, "invalid log_level %q", raw.LogLevel)
	}
	pgLevel, err := tracelog.LogLevelFromString(raw.Postgres.LogLevel)
	if err != nil {
		return SqlrtConfig{}, oops.New(err, "invalid postgres.log_level %q", raw.Postgres.LogLevel)
	}

	return SqlrtConfig{
		Env:      Environment(raw.Env),
		LogLevel: level,
		Postgres: PostgresConfig{
			User:     raw.Postgres.User,
			Password: raw.Postgres.Password,
			Hostname: raw.Postgres.Hostname,
			Port:     raw.Postgres.Port,
			DbName:   raw.Postgres.DbName,
			SSLMode:  raw.Postgres.SSLMode,
			LogLevel: pgLevel,
			MinConn:  raw.Postgres.MinConn,
			MaxConn:  raw.Postgres.MaxConn,
		},
		MySQL: MySQLConfig{
			User:     raw.MySQL.User,
			Password: raw.MySQL.Password,
			Hostname: raw.MySQL.Hostname,
			Port:     raw.MySQL.Port,
			DbName:   raw.MySQL.DbName,
		},
		SQLite: SQLiteConfig{
			Path: raw.SQLite.Path,
		},
		Migrations: MigrationsConfig{
			Paths:    raw.Migrations.Paths,
			Strategy: raw.Migrations.Strategy,
		},
	}, nil
}
