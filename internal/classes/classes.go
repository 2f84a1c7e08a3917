// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package classes implements the resource class registry: the canonical
// list of standard resource classes plus a mutable registry of
// CUSTOM_-prefixed classes, mapping name to stable integer id.
package classes

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/go-gorp/gorp"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/perr"
)

// Standard resource classes seeded at startup, a subset of OpenStack's
// os_resource_classes.STANDARDS.
var Standard = []string{
	"VCPU",
	"MEMORY_MB",
	"DISK_GB",
	"PCI_DEVICE",
	"SRIOV_NET_VF",
	"IPV4_ADDRESS",
	"NUMA_SOCKET",
	"VGPU",
}

const customPrefix = "CUSTOM_"

var namePattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

// Entry is one resource class as returned by List.
type Entry struct {
	ID   int32
	Name string
}

type row struct {
	ID   int32  `db:"id,primarykey,autoincrement"`
	Name string `db:"name"`
}

func (row) TableName() string          { return "resource_classes" }
func (row) Indexes() []placementdb.Index { return nil }

// Registry maps resource class names to stable integer ids.
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

// Init creates the backing table, seeds the standard classes, and warms
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
	if _, err := r.db.DbMap.Select(&rows, "SELECT id, name FROM resource_classes"); err != nil {
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

// Ensure resolves name to a stable id, creating it as a custom class (with
// an advisory lock to avoid duplicate-insert races) if it doesn't exist
// yet and carries the CUSTOM_ prefix. Standard names that haven't been
// seeded, or names that are neither standard nor CUSTOM_-prefixed, or
// that don't match the naming discipline, are rejected.
func (r *Registry) Ensure(ctx context.Context, name string) (int32, error) {
	if id, ok := r.IDOf(name); ok {
		return id, nil
	}
	if !namePattern.MatchString(name) {
		return 0, &perr.ValidationError{Field: "resource_class", Reason: "name must match ^[A-Z0-9_]+$: " + name}
	}
	if !strings.HasPrefix(name, customPrefix) {
		return 0, &perr.NotFoundError{Kind: "resource_class", ID: name}
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
	err := r.db.DbMap.SelectOne(&id, "SELECT id FROM resource_classes WHERE name = ?", name)
	if err == nil {
		return id, nil
	}
	newRow := &row{Name: name}
	if err := r.db.DbMap.Insert(newRow); err != nil {
		// Lost a race with another writer; fall through to re-select.
		if err2 := r.db.DbMap.SelectOne(&id, "SELECT id FROM resource_classes WHERE name = ?", name); err2 == nil {
			return id, nil
		}
		return 0, err
	}
	return newRow.ID, nil
}

// lockName takes a brief advisory lock on postgres to serialize concurrent
// first-use inserts of the same name; sqlite (used only in tests, always
// single-writer) has no equivalent and skips it safely.
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

// List returns every known resource class.
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

// InUseChecker reports whether a resource class is still referenced by
// any inventory or allocation row. Implemented by the inventories and
// allocations packages; injected here to avoid an import cycle.
type InUseChecker func(ctx context.Context, classID int32) (bool, error)

// DeleteCustom removes a custom resource class, refusing to do so if
// checkers report it is still referenced, or if the name isn't a known
// custom class.
func (r *Registry) DeleteCustom(ctx context.Context, name string, checkers ...InUseChecker) error {
	if !strings.HasPrefix(name, customPrefix) {
		return &perr.ValidationError{Field: "resource_class", Reason: "only CUSTOM_ classes can be deleted: " + name}
	}
	id, ok := r.IDOf(name)
	if !ok {
		return &perr.NotFoundError{Kind: "resource_class", ID: name}
	}
	for _, check := range checkers {
		inUse, err := check(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return &perr.InvariantViolationError{Reason: "resource class " + name + " is still referenced"}
		}
	}
	if _, err := r.db.DbMap.Exec("DELETE FROM resource_classes WHERE id = ?", id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.idByName, name)
	delete(r.nameByID, id)
	r.mu.Unlock()
	return nil
}
