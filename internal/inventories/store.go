// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package inventories

import (
	"context"

	"github.com/go-gorp/gorp"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/gen"
	"github.com/sapcc/placement-engine/internal/perr"
)

// UsageFunc returns the sum of `used` already allocated against a
// (provider, class) pair. Implemented by internal/allocations; injected
// here to avoid an import cycle.
type UsageFunc func(ctx context.Context, providerID, classID int32) (int64, error)

// Store persists provider inventories.
type Store struct {
	db  *placementdb.DB
	gen gen.Monitor
}

// NewStore builds a Store. onGenerationWrap, if non-nil, fires whenever a
// provider's generation counter wraps.
func NewStore(d *placementdb.DB, onGenerationWrap func()) *Store {
	return &Store{db: d, gen: gen.NewMonitor(onGenerationWrap)}
}

// Init creates the backing table.
func (s *Store) Init(ctx context.Context) error {
	return s.db.CreateTable(s.db.AddTable(row{}))
}

// List returns every inventory record for a provider.
func (s *Store) List(ctx context.Context, providerID int32) ([]Inventory, error) {
	var rows []row
	if _, err := s.db.DbMap.Select(&rows, "SELECT * FROM inventories WHERE resource_provider_id = ?", providerID); err != nil {
		return nil, &perr.InternalError{Cause: err}
	}
	out := make([]Inventory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Get returns a single inventory record, or NotFoundError.
func (s *Store) Get(ctx context.Context, providerID, classID int32) (*Inventory, error) {
	var r row
	err := s.db.DbMap.SelectOne(&r, "SELECT * FROM inventories WHERE resource_provider_id = ? AND resource_class_id = ?", providerID, classID)
	if err != nil {
		return nil, &perr.NotFoundError{Kind: "inventory", ID: "provider"}
	}
	d := r.toDomain()
	return &d, nil
}

// ReplaceAll overwrites the full set of inventory records for a provider
// in one transaction, refusing the whole call if any removed or shrunk
// class would strand an existing allocation.
func (s *Store) ReplaceAll(ctx context.Context, providerID, expectedGen int32, desired []Inventory, usage UsageFunc) error {
	current, err := s.List(ctx, providerID)
	if err != nil {
		return err
	}
	desiredByClass := map[int32]Inventory{}
	for _, inv := range desired {
		desiredByClass[inv.ClassID] = inv
	}
	for _, cur := range current {
		used, err := usage(ctx, providerID, cur.ClassID)
		if err != nil {
			return err
		}
		if used == 0 {
			continue
		}
		next, stillPresent := desiredByClass[cur.ClassID]
		if !stillPresent {
			return &perr.InvariantViolationError{Reason: "removing inventory would strand an existing allocation"}
		}
		if next.EffectiveCapacity() < used {
			return &perr.InvariantViolationError{Reason: "shrinking inventory would strand an existing allocation"}
		}
	}

	tx, err := s.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := tx.Exec("DELETE FROM inventories WHERE resource_provider_id = ?", providerID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	for _, inv := range desired {
		r := fromDomain(inv)
		r.ResourceProviderID = providerID
		if err := tx.Insert(&r); err != nil {
			_ = tx.Rollback()
			return &perr.InternalError{Cause: err}
		}
	}
	if err := s.bumpProviderGeneration(tx, providerID, expectedGen); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// Upsert writes or overwrites a single class's inventory record.
func (s *Store) Upsert(ctx context.Context, providerID, expectedGen int32, inv Inventory) error {
	tx, err := s.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := tx.Exec("DELETE FROM inventories WHERE resource_provider_id = ? AND resource_class_id = ?", providerID, inv.ClassID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	r := fromDomain(inv)
	r.ResourceProviderID = providerID
	if err := tx.Insert(&r); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	if err := s.bumpProviderGeneration(tx, providerID, expectedGen); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// Delete removes a single class's inventory record, refusing if it would
// strand an existing allocation.
func (s *Store) Delete(ctx context.Context, providerID, expectedGen, classID int32, usage UsageFunc) error {
	used, err := usage(ctx, providerID, classID)
	if err != nil {
		return err
	}
	if used > 0 {
		return &perr.InvariantViolationError{Reason: "deleting inventory would strand an existing allocation"}
	}
	tx, err := s.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := tx.Exec("DELETE FROM inventories WHERE resource_provider_id = ? AND resource_class_id = ?", providerID, classID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	if err := s.bumpProviderGeneration(tx, providerID, expectedGen); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// ClassInUse satisfies classes.InUseChecker: is classID still referenced
// by any inventory row.
func (s *Store) ClassInUse(ctx context.Context, classID int32) (bool, error) {
	var count int64
	if err := s.db.DbMap.SelectOne(&count, "SELECT COUNT(*) FROM inventories WHERE resource_class_id = ?", classID); err != nil {
		return false, &perr.InternalError{Cause: err}
	}
	return count > 0, nil
}

func (s *Store) bumpProviderGeneration(tx *gorp.Transaction, providerID, expectedGen int32) error {
	var current int32
	if err := tx.SelectOne(&current, "SELECT generation FROM resource_providers WHERE id = ?", providerID); err != nil {
		return &perr.NotFoundError{Kind: "provider", ID: "id"}
	}
	if current != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: "id", ExpectedGen: expectedGen, CurrentGeneration: current}
	}
	next := s.gen.BumpTracked(current)
	res, err := tx.Exec("UPDATE resource_providers SET generation = ? WHERE id = ? AND generation = ?", next, providerID, expectedGen)
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: "id", ExpectedGen: expectedGen, CurrentGeneration: current}
	}
	return nil
}
