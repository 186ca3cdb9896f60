package migration

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	color "git.handmade.network/hmn/sqlrt/src/ansicolor"
	"git.handmade.network/hmn/sqlrt/src/cmd"
	"git.handmade.network/hmn/sqlrt/src/config"
	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/perf"
	"git.handmade.network/hmn/sqlrt/src/utils"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func init() {
	var (
		driver         string
		dsn            string
		strategyName   string
		listMigrations bool
		showTimings    bool
	)

	migrateCommand := &cobra.Command{
		Use:   "migrate [paths...]",
		Short: "Apply SQL migration files, in path order",
		Long: `Applies every .sql file named by the given paths (or the configured
migration paths), sorted by path. Directories contribute their immediate
children. Rollback sections and *.down.sql files are skipped.`,
		RunE: func(c *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = config.Config.Migrations.Paths
			}
			if len(paths) == 0 {
				return oops.New(nil, "no migration paths given and none configured")
			}

			if listMigrations {
				return ListMigrations(afero.NewOsFs(), paths, dialectFor(driver))
			}

			if strategyName == "" {
				strategyName = config.Config.Migrations.Strategy
			}
			strategy, err := ParseStrategy(strategyName)
			if err != nil {
				return err
			}

			ctx := context.Background()
			var session *perf.Session
			if showTimings {
				session = perf.NewSession("migrate")
				ctx = perf.AttachPerf(ctx, session)
			}

			conn, closeConn, err := openConn(ctx, driver, dsn)
			if err != nil {
				return err
			}
			defer closeConn()

			migrations, err := NewApplier(strategy).Apply(ctx, conn, paths...)
			printMigrations(migrations)

			if session != nil {
				session.EndSession()
				session.WriteTo(os.Stdout)
			}
			return err
		},
	}
	migrateCommand.Flags().StringVar(&driver, "driver", "pgx", "Database driver: pgx, postgres, mysql, or sqlite3")
	migrateCommand.Flags().StringVar(&dsn, "dsn", "", "Connection string (default: built from config)")
	migrateCommand.Flags().StringVar(&strategyName, "strategy", "", "How files are submitted: single or split (default: from config)")
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List the migrations that would be applied")
	migrateCommand.Flags().BoolVar(&showTimings, "timings", false, "Print how long each migration took")
	utils.Must(migrateCommand.RegisterFlagCompletionFunc("driver", cobra.FixedCompletions(
		[]string{"pgx", "postgres", "mysql", "sqlite3"}, cobra.ShellCompDirectiveNoFileComp)))
	utils.Must(migrateCommand.RegisterFlagCompletionFunc("strategy", cobra.FixedCompletions(
		[]string{"single", "split"}, cobra.ShellCompDirectiveNoFileComp)))

	newMigrationCommand := &cobra.Command{
		Use:   "newmigration <name>",
		Short: "Create a new, empty migration file in the first migration path",
		RunE: func(c *cobra.Command, args []string) error {
			if len(args) < 1 {
				c.Usage()
				return oops.New(nil, "you must provide a name")
			}
			dir := "migrations"
			if len(config.Config.Migrations.Paths) > 0 {
				dir = config.Config.Migrations.Paths[0]
			}
			path, err := MakeMigration(afero.NewOsFs(), dir, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Println("Successfully created migration file:")
			fmt.Println(path)
			return nil
		},
	}

	cmd.RootCommand.AddCommand(migrateCommand)
	cmd.RootCommand.AddCommand(newMigrationCommand)
}

func openConn(ctx context.Context, driver, dsn string) (db.Conn, func(), error) {
	switch driver {
	case "pgx":
		var conn *pgx.Conn
		var err error
		if dsn == "" {
			conn, err = db.NewConn(ctx)
		} else {
			conn, err = pgx.Connect(ctx, dsn)
		}
		if err != nil {
			return nil, nil, err
		}
		return db.Pgx(conn), func() { conn.Close(context.Background()) }, nil
	case "postgres":
		dsn = orDSN(dsn, config.Config.Postgres.URL(""))
	case "mysql":
		dsn = orDSN(dsn, config.Config.MySQL.DSN())
	case "sqlite3":
		dsn = orDSN(dsn, config.Config.SQLite.Path)
	default:
		return nil, nil, oops.New(nil, "unknown driver %q", driver)
	}

	sdb, err := db.OpenSQL(ctx, driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	return db.SQL(sdb), func() { sdb.Close() }, nil
}

func orDSN(dsn, fromConfig string) string {
	if dsn != "" {
		return dsn
	}
	return fromConfig
}

func dialectFor(driver string) db.Dialect {
	if driver == "pgx" {
		return db.Postgres
	}
	return db.DialectFor(driver)
}

// Prints every migration with the number of statements the split strategy
// would send over a connection with dialect d.
func ListMigrations(fs afero.Fs, paths []string, d db.Dialect) error {
	migrations, err := Load(fs, paths)
	if err != nil {
		return err
	}
	sc := d.Scanner()
	for _, m := range migrations {
		fmt.Printf("  %s (%d statements)\n", m.Path, len(sc.Split(m.SQL)))
	}
	return nil
}

func printMigrations(migrations []*Migration) {
	applied := 0
	for _, m := range migrations {
		indicator := "  "
		if m.State == Applied {
			indicator = color.Green + "✔ " + color.Reset
			applied++
		}
		fmt.Printf("%s%s\n", indicator, m.Path)
	}
	if applied > 0 {
		logging.Info().Int("applied", applied).Int("total", len(migrations)).Msg("Migrations applied")
	}
}

//go:embed migrationTemplate.sql
var migrationTemplate string

// Writes an empty migration named for the current UTC time, so new files
// sort after existing ones.
func MakeMigration(fs afero.Fs, dir, name string, now time.Time) (string, error) {
	now = now.UTC()
	result := migrationTemplate
	result = strings.ReplaceAll(result, "%NAME%", name)
	result = strings.ReplaceAll(result, "%DATE%", now.Format(time.RFC3339))

	filename := fmt.Sprintf("%s_%s.sql", now.Format("20060102T150405Z"), name)
	path := filepath.Join(dir, filename)

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", oops.New(err, "failed to create migration directory")
	}
	if err := afero.WriteFile(fs, path, []byte(result), 0644); err != nil {
		return "", oops.New(err, "failed to write migration file")
	}
	return path, nil
}
