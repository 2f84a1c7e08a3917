// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"embed"
	"log/slog"
	"slices"
	"sort"
)

// Migration files that should be executed before services are started.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrater runs the embedded schema migrations.
type Migrater interface {
	Migrate(skipOnFresh bool)
}

type migrater struct {
	migrations map[string]string
	db         *DB
}

// Migration tracks which migration files have already run.
type Migration struct {
	FileName string `db:"file_name"`
}

// TableName is part of the Table interface.
func (Migration) TableName() string { return "migrations" }

// Indexes is part of the Table interface.
func (Migration) Indexes() []Index {
	return []Index{
		{Name: "idx_migrations_file_name", ColumnNames: []string{"file_name"}},
	}
}

// NewMigrater builds a migrater from the files embedded in the binary.
func NewMigrater(db *DB) Migrater {
	migrations := map[string]string{}
	files, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		panic(err)
	}
	for _, file := range files {
		if file.IsDir() {
			panic("migrations directory contains a directory")
		}
		content, err := migrationFiles.ReadFile("migrations/" + file.Name())
		if err != nil {
			panic(err)
		}
		migrations[file.Name()] = string(content)
	}
	return &migrater{db: db, migrations: migrations}
}

// Migrate runs every migration file that has not yet been applied, in
// filename order. If skipOnFresh is true and the database has no
// migrations table yet, every migration is marked as applied without
// being executed, since a fresh database's tables are created on demand
// by each store's own CreateTable call.
func (m *migrater) Migrate(skipOnFresh bool) {
	names := make([]string, 0, len(m.migrations))
	for name := range m.migrations {
		names = append(names, name)
	}
	sort.Strings(names)

	fresh := !m.db.TableExists(Migration{})
	if err := m.db.CreateTable(m.db.AddTable(Migration{})); err != nil {
		panic(err)
	}

	if fresh && skipOnFresh {
		slog.Info("migrations: fresh database, tables will be created on-demand")
		var migrations []Migration
		for _, name := range names {
			migrations = append(migrations, Migration{FileName: name})
		}
		for _, mig := range migrations {
			if err := m.db.DbMap.Insert(&mig); err != nil {
				panic(err)
			}
		}
		slog.Info("migrations: recorded as applied", "count", len(migrations))
		return
	}

	var executed []string
	if _, err := m.db.DbMap.Select(&executed, "SELECT file_name FROM migrations"); err != nil {
		panic(err)
	}
	var toRun []string
	for _, name := range names {
		if slices.Contains(executed, name) {
			continue
		}
		toRun = append(toRun, name)
	}
	if len(toRun) == 0 {
		slog.Info("migrations: nothing to do")
		return
	}

	tx, err := m.db.DbMap.Begin()
	if err != nil {
		panic(err)
	}
	for _, fileName := range toRun {
		slog.Info("migrations: executing", "fileName", fileName)
		if _, err := tx.Exec(m.migrations[fileName]); err != nil {
			slog.Error("migrations: failed", "fileName", fileName, "error", err)
			panic(tx.Rollback())
		}
		applied := Migration{FileName: fileName}
		if err := tx.Insert(&applied); err != nil {
			slog.Error("migrations: failed to record", "fileName", fileName, "error", err)
			panic(tx.Rollback())
		}
	}
	if err := tx.Commit(); err != nil {
		panic(err)
	}
	slog.Info("migrations: executed", "count", len(toRun))
}
