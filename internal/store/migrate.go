// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BookWorm Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationFile is one embedded up migration.
type migrationFile struct {
	Version uint
	Name    string // NNNNNN_description
}

// embeddedMigrations lists the up migrations in version order. The embedded
// FS is scanned once.
var embeddedMigrations = sync.OnceValues(func() ([]migrationFile, error) {
	return scanMigrations(migrationsFS, "migrations")
})

// migrateIface is the part of *migrate.Migrate used by Migrator.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded users schema.
type Migrator struct {
	m      migrateIface
	logger *slog.Logger
}

// MigratorOption configures NewMigrator.
type MigratorOption func(*Migrator)

// WithLogger routes golang-migrate's progress output to logger and logs the
// version change of every successful Up, Down and Steps.
func WithLogger(logger *slog.Logger) MigratorOption {
	return func(m *Migrator) { m.logger = logger }
}

// Status describes the schema state of a database.
type Status struct {
	Version uint
	Name    string
	Dirty   bool
	Pending []uint
}

// NewMigrator creates a Migrator for databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme.
func NewMigrator(databaseURL string, opts ...MigratorOption) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	mm, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}

	m := &Migrator{m: mm}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger != nil {
		mm.Log = migrateLogger{logger: m.logger}
	}
	return m, nil
}

func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, found := strings.CutPrefix(databaseURL, scheme); found {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	return m.apply("up", m.m.Up, "MIGRATION_UP_FAILED")
}

// Down rolls back every migration. All account data is dropped.
func (m *Migrator) Down() error {
	return m.apply("down", m.m.Down, "MIGRATION_DOWN_FAILED")
}

// Steps applies n migrations. Negative n rolls back; zero does nothing.
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	err := m.apply("steps", func() error { return m.m.Steps(n) }, "MIGRATION_STEPS_FAILED")
	if err != nil {
		return oops.With("steps", n).Wrap(err)
	}
	return nil
}

// apply runs fn, treating migrate.ErrNoChange as success.
func (m *Migrator) apply(operation string, fn func() error, code string) error {
	from, _, _ := m.Version()
	if err := fn(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return oops.Code(code).With("operation", operation).With("from_version", from).Wrap(err)
	}
	if m.logger != nil {
		to, _, _ := m.Version()
		m.logger.Info("schema migrated", "operation", operation, "from_version", from, "to_version", to)
	}
	return nil
}

// Version returns the applied version and dirty flag. A database with no
// applied migrations reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return v, dirty, nil
}

// Force sets the recorded version without running any migration and clears
// the dirty flag. Version 0 is not valid; use Down to empty the schema.
func (m *Migrator) Force(version int) error {
	if version < 1 {
		return oops.Code("INVALID_VERSION").With("version", version).Errorf("version must be at least 1, got %d", version)
	}
	known, err := embeddedMigrations()
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(known, func(f migrationFile) bool { return f.Version == uint(version) }) {
		return oops.Code("INVALID_VERSION").With("version", version).Errorf("no embedded migration has version %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Status reports the applied version, its name and the versions Up would apply.
func (m *Migrator) Status() (Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return Status{}, oops.With("operation", "get migration status").Wrap(err)
	}
	files, err := embeddedMigrations()
	if err != nil {
		return Status{}, oops.With("operation", "get migration status").Wrap(err)
	}

	st := Status{Version: version, Dirty: dirty}
	for _, f := range files {
		switch {
		case f.Version == version:
			st.Name = f.Name
		case f.Version > version:
			st.Pending = append(st.Pending, f.Version)
		}
	}
	return st, nil
}

// Close releases the migration source and database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr == nil && dbErr == nil {
		return nil
	}
	component := "both"
	switch {
	case dbErr == nil:
		component = "source"
	case srcErr == nil:
		component = "database"
	}
	return oops.Code("MIGRATION_CLOSE_FAILED").With("component", component).Wrap(errors.Join(srcErr, dbErr))
}

// scanMigrations reads NNNNNN_description.up.sql names from dir.
func scanMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil || version == 0 {
			return nil, oops.Code("MIGRATION_LIST_FAILED").
				With("filename", entry.Name()).
				Errorf("migration file name must look like NNNNNN_description.up.sql")
		}
		files = append(files, migrationFile{Version: uint(version), Name: name})
	}
	slices.SortFunc(files, func(a, b migrationFile) int {
		return int(a.Version) - int(b.Version)
	})
	return files, nil
}

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l migrateLogger) Verbose() bool { return false }
