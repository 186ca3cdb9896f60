package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/sqlrt/src/db"
	"git.handmade.network/hmn/sqlrt/src/logging"
	"git.handmade.network/hmn/sqlrt/src/oops"
	"git.handmade.network/hmn/sqlrt/src/perf"
	"github.com/spf13/afero"
)

var ErrSourceNotFound = errors.New("migration source not found")

// How the contents of a migration file are sent to the database.
type Strategy int

const (
	// The whole file goes out as one multi-statement batch. Use this with
	// pgx, lib/pq and SQLite.
	SingleBatch Strategy = iota + 1
	// The file is split into statements, which are sent one at a time. Use
	// this with transports that reject multi-statement batches, like MySQL
	// without multiStatements=true.
	Split
)

func (s Strategy) String() string {
	switch s {
	case SingleBatch:
		return "single"
	case Split:
		return "split"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "batch", "":
		return SingleBatch, nil
	case "split":
		return Split, nil
	}
	return 0, oops.New(nil, "unknown migration strategy %q (want single or split)", s)
}

type State int

const (
	Unapplied State = iota
	Applied
)

func (s State) String() string {
	if s == Applied {
		return "applied"
	}
	return "unapplied"
}

type Migration struct {
	Path string
	// The file's contents with any rollback section removed.
	SQL      string
	State    State
	Duration time.Duration
}

func (m *Migration) Name() string {
	return filepath.Base(m.Path)
}

/*
Resolves migration sources into the list of files to apply. Each path may
name a file or a directory; directories contribute their immediate children.
Hidden files, files not ending in .sql, and golang-migrate rollback files
(*.down.sql) are skipped, including when named directly.

Every path is checked for existence before anything is read. The result is
deduplicated and sorted by path, so the order never depends on how the
filesystem lists directories. No matching files is not an error.
*/
func Resolve(fs afero.Fs, paths []string) ([]string, error) {
	infos := make([]os.FileInfo, len(paths))
	for i, p := range paths {
		info, err := fs.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, oops.New(ErrSourceNotFound, "path %s does not exist", p)
			}
			return nil, oops.New(err, "failed to stat %s", p)
		}
		infos[i] = info
	}

	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !isMigrationFile(p) || seen[p] {
			return
		}
		seen[p] = true
		files = append(files, p)
	}

	for i, p := range paths {
		if !infos[i].IsDir() {
			add(p)
			continue
		}

		children, err := afero.ReadDir(fs, p)
		if err != nil {
			return nil, oops.New(err, "failed to read directory %s", p)
		}
		for _, child := range children {
			if child.IsDir() {
				continue
			}
			add(filepath.Join(p, child.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

func isMigrationFile(p string) bool {
	name := filepath.Base(p)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if IsDown(name) {
		return false
	}
	return strings.HasSuffix(name, ".sql")
}

// Whether a file is a golang-migrate rollback file.
func IsDown(filename string) bool {
	return strings.HasSuffix(filename, ".down.sql")
}

var rollbackMarkers = []string{
	"-- +goose down",
	"-- +migrate down",
	"---- create above / drop below ----",
	"-- migrate:down",
}

/*
Drops everything from the first rollback marker onward, so only the "up" half
of a migration is applied. Recognized markers:

	goose:       -- +goose Down
	sql-migrate: -- +migrate Down
	tern:        ---- create above / drop below ----
	dbmate:      -- migrate:down
*/
func RemoveRollbackStatements(contents string) string {
	lines := strings.Split(contents, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, marker := range rollbackMarkers {
			if strings.HasPrefix(lower, marker) {
				return strings.Join(lines[:i], "\n")
			}
		}
	}
	return contents
}

var reTernInclude = regexp.MustCompile(`\{\{ template "(.+?)" \. \}\}`)

/*
Replaces tern includes with the contents of the named file, read relative to
dir:

	{{ template "shared/functions.sql" . }}

Included files are not expanded again. A missing file is an error.
*/
func ExpandIncludes(fs afero.Fs, dir, contents string) (string, error) {
	if !strings.Contains(contents, "{{ template ") {
		return contents, nil
	}

	var errs []error
	expanded := reTernInclude.ReplaceAllStringFunc(contents, func(match string) string {
		name := reTernInclude.FindStringSubmatch(match)[1]
		path := filepath.Join(dir, name)
		included, err := afero.ReadFile(fs, path)
		if err != nil {
			errs = append(errs, oops.New(err, "failed to read included file %s", path))
			return match
		}
		return string(included)
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return expanded, nil
}

// Resolves the sources and reads every file, stripping rollback sections and
// expanding includes. Nothing is sent to a database.
func Load(fs afero.Fs, paths []string) ([]*Migration, error) {
	files, err := Resolve(fs, paths)
	if err != nil {
		return nil, err
	}

	migrations := make([]*Migration, 0, len(files))
	for _, f := range files {
		contents, err := afero.ReadFile(fs, f)
		if err != nil {
			return nil, oops.New(err, "failed to read migration %s", f)
		}
		sql, err := ExpandIncludes(fs, filepath.Dir(f), RemoveRollbackStatements(string(contents)))
		if err != nil {
			return nil, oops.New(err, "failed to load migration %s", f)
		}
		migrations = append(migrations, &Migration{
			Path: f,
			SQL:  sql,
		})
	}
	return migrations, nil
}

type Applier struct {
	Fs       afero.Fs
	Strategy Strategy
}

// An applier that reads migrations from the OS filesystem.
func NewApplier(strategy Strategy) *Applier {
	return &Applier{Fs: afero.NewOsFs(), Strategy: strategy}
}

/*
Applies every migration under paths, in order. All sources are resolved and
read before the first statement is sent.

The first failure stops the run. Migrations already applied stay applied;
there is no rollback. The returned slice reports the state of every migration
either way, and the error names the file that failed.
*/
func (a *Applier) Apply(ctx context.Context, conn db.Conn, paths ...string) ([]*Migration, error) {
	if a.Strategy != SingleBatch && a.Strategy != Split {
		return nil, oops.New(nil, "no migration strategy selected")
	}

	fs := a.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	migrations, err := Load(fs, paths)
	if err != nil {
		return nil, err
	}

	logger := logging.ExtractLogger(ctx)
	p := perf.ExtractPerf(ctx)
	p.Checkpoint("LOAD", fmt.Sprintf("%d migrations", len(migrations)))
	for _, m := range migrations {
		logger.Info().
			Str("file", m.Path).
			Stringer("strategy", a.Strategy).
			Msg("Applying migration")

		block := p.StartBlock("MIGRATE", m.Name())
		start := time.Now()
		err := a.applyOne(ctx, conn, m)
		m.Duration = time.Since(start)
		block.End()

		if err != nil {
			logger.Error().Err(err).Str("file", m.Path).Msg("Migration failed")
			return migrations, oops.New(err, "migration %s failed", m.Path)
		}
		m.State = Applied
	}

	return migrations, nil
}

func (a *Applier) applyOne(ctx context.Context, conn db.Conn, m *Migration) error {
	sc := conn.Dialect().Scanner()
	switch a.Strategy {
	case Split:
		for i, stmt := range sc.Split(m.SQL) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return oops.New(err, "statement %d", i+1)
			}
		}
	default:
		if !sc.HasCode(m.SQL) {
			return nil
		}
		if _, err := conn.Exec(ctx, m.SQL); err != nil {
			return err
		}
	}
	return nil
}

// Apply, run on its own goroutine.
func (a *Applier) ApplyAsync(ctx context.Context, conn *db.AsyncConn, paths ...string) *db.Future[[]*Migration] {
	return db.Run(ctx, conn, "migrate", func(ctx context.Context, c db.Conn) ([]*Migration, error) {
		return a.Apply(ctx, c, paths...)
	})
}

// Applies migrations from the OS filesystem.
func Apply(ctx context.Context, conn db.Conn, strategy Strategy, paths ...string) ([]*Migration, error) {
	return NewApplier(strategy).Apply(ctx, conn, paths...)
}
