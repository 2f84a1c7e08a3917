// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package traits implements the trait registry: capability/state tags
// attached to resource providers, with the same standard/custom split as
// internal/classes.
package traits

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/go-gorp/gorp"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/perr"
)

// Standard traits seeded at startup, a subset of OpenStack's os_traits.
var Standard = []string{
	"MISC_SHARES_VIA_AGGREGATE",
	"HW_NIC_OFFLOAD_GENEVE",
	"HW_CPU_X86_AVX2",
	"COMPUTE_STATUS_DISABLED",
}

const customPrefix = "CUSTOM_"

var namePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Entry is one trait as returned by List.
type Entry struct {
	ID   int32
	Name string
}

type row struct {
	ID   int32  `db:"id,primarykey,autoincrement"`
	Name string `db:"name"`
}

func (row) TableName() string            { return "traits" }
func (row) Indexes() []placementdb.Index { return nil }

// Registry maps trait names to stable integer ids.
type Registry struct {
	db *placementdb.DB

	mu       sync.RWMutex
	idByName map[string]int32
	nameByID map[int32]string
}

// NewRegistry builds a registry backed by db. Call Init before use.
func NewRegistry(d *placementdb.DB) *Registry {
	return &Registry{
		db:       d,
		idByName: map[string]int32{},
		nameByID: map[int32]string{},
	}
}

// Init creates the backing table, seeds the standard traits, and warms
// the in-process cache.
func (r *Registry) Init(ctx context.Context) error {
	if err := r.db.CreateTable(r.db.AddTable(row{})); err != nil {
		return err
	}
	for _, name := range Standard {
		if _, err := r.insertIfMissing(ctx, name); err != nil {
			return err
		}
	}
	return r.reload(ctx)
}

func (r *Registry) reload(ctx context.Context) error {
	var rows []row
	if _, err := r.db.DbMap.Select(&rows, "SELECT id, name FROM traits"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rr := range rows {
		r.idByName[rr.Name] = rr.ID
		r.nameByID[rr.ID] = rr.Name
	}
	return nil
}

// Ensure resolves name to a stable id, creating it as a custom trait if
// it doesn't exist yet and carries the CUSTOM_ prefix.
func (r *Registry) Ensure(ctx context.Context, name string) (int32, error) {
	if id, ok := r.IDOf(name); ok {
		return id, nil
	}
	if !namePattern.MatchString(name) {
		return 0, &perr.ValidationError{Field: "trait", Reason: "name must match ^[A-Z0-9_]+$: " + name}
	}
	if !strings.HasPrefix(name, customPrefix) {
		return 0, &perr.NotFoundError{Kind: "trait", ID: name}
	}
	id, err := r.insertIfMissing(ctx, name)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.idByName[name] = id
	r.nameByID[id] = name
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) insertIfMissing(ctx context.Context, name string) (int32, error) {
	if err := r.lockName(ctx, name); err != nil {
		return 0, err
	}
	var id int32
	err := r.db.DbMap.SelectOne(&id, "SELECT id FROM traits WHERE name = ?", name)
	if err == nil {
		return id, nil
	}
	newRow := &row{Name: name}
	if err := r.db.DbMap.Insert(newRow); err != nil {
		if err2 := r.db.DbMap.SelectOne(&id, "SELECT id FROM traits WHERE name = ?", name); err2 == nil {
			return id, nil
		}
		return 0, err
	}
	return newRow.ID, nil
}

func (r *Registry) lockName(ctx context.Context, name string) error {
	if _, ok := r.db.DbMap.Dialect.(gorp.SqliteDialect); ok {
		return nil
	}
	_, err := r.db.DbMap.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", name)
	return err
}

// IDOf returns the id for name if it is known to this registry.
func (r *Registry) IDOf(name string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idByName[name]
	return id, ok
}

// NameOf returns the name for id if it is known to this registry.
func (r *Registry) NameOf(id int32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.nameByID[id]
	return name, ok
}

// List returns every known trait.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.nameByID))
	for id, name := range r.nameByID {
		out = append(out, Entry{ID: id, Name: name})
	}
	return out, nil
}

// InUseChecker reports whether a trait is still associated with any
// resource provider. Implemented by internal/providers; injected here to
// avoid an import cycle.
type InUseChecker func(ctx context.Context, traitID int32) (bool, error)

// DeleteCustom removes a custom trait, refusing to do so if checkers
// report it is still associated with a provider.
func (r *Registry) DeleteCustom(ctx context.Context, name string, checkers ...InUseChecker) error {
	if !strings.HasPrefix(name, customPrefix) {
		return &perr.ValidationError{Field: "trait", Reason: "only CUSTOM_ traits can be deleted: " + name}
	}
	id, ok := r.IDOf(name)
	if !ok {
		return &perr.NotFoundError{Kind: "trait", ID: name}
	}
	for _, check := range checkers {
		inUse, err := check(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return &perr.InvariantViolationError{Reason: "trait " + name + " is still in use"}
		}
	}
	if _, err := r.db.DbMap.Exec("DELETE FROM traits WHERE id = ?", id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.idByName, name)
	delete(r.nameByID, id)
	r.mu.Unlock()
	return nil
}
