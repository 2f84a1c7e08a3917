// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/majewsky/gg/option"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/gen"
	"github.com/sapcc/placement-engine/internal/perr"
)

// Store persists the resource provider tree.
type Store struct {
	db  *placementdb.DB
	gen gen.Monitor
}

// NewStore builds a Store. onGenerationWrap, if non-nil, is invoked
// whenever a provider's generation counter wraps from math.MaxInt32 to 0.
func NewStore(d *placementdb.DB, onGenerationWrap func()) *Store {
	return &Store{db: d, gen: gen.NewMonitor(onGenerationWrap)}
}

// Init creates the backing tables.
func (s *Store) Init(ctx context.Context) error {
	if err := s.db.CreateTable(s.db.AddTable(providerRow{})); err != nil {
		return err
	}
	if err := s.db.CreateTable(s.db.AddTable(traitRow{})); err != nil {
		return err
	}
	return s.db.CreateTable(s.db.AddTable(aggregateRow{}))
}

// Create inserts a new root-level, or child, resource provider. If
// parentUUID is set, the new provider inherits that parent's root_id;
// otherwise it becomes its own root.
func (s *Store) Create(ctx context.Context, name string, parentUUID option.Option[string]) (*ResourceProvider, error) {
	row := &providerRow{UUID: uuid.NewString(), Name: name}
	if parent, ok := parentUUID.Unpack(); ok {
		p, err := s.GetByUUID(ctx, parent)
		if err != nil {
			return nil, err
		}
		pid := p.ID
		row.ParentID = &pid
		row.RootID = p.RootID
	}
	if err := s.db.DbMap.Insert(row); err != nil {
		return nil, &perr.InternalError{Cause: err}
	}
	if row.ParentID == nil {
		row.RootID = row.ID
		if _, err := s.db.DbMap.Exec("UPDATE resource_providers SET root_id = ? WHERE id = ?", row.ID, row.ID); err != nil {
			return nil, &perr.InternalError{Cause: err}
		}
	}
	rp := row.toDomain()
	return &rp, nil
}

// GetByUUID resolves a single provider by its external uuid.
func (s *Store) GetByUUID(ctx context.Context, providerUUID string) (*ResourceProvider, error) {
	var row providerRow
	err := s.db.DbMap.SelectOne(&row, "SELECT * FROM resource_providers WHERE uuid = ?", providerUUID)
	if err != nil {
		return nil, &perr.NotFoundError{Kind: "provider", ID: providerUUID}
	}
	rp := row.toDomain()
	return &rp, nil
}

// Update renames a provider, gated by its expected generation.
func (s *Store) Update(ctx context.Context, providerUUID, name string, expectedGen int32) error {
	p, err := s.GetByUUID(ctx, providerUUID)
	if err != nil {
		return err
	}
	if p.Generation != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}
	next := s.gen.BumpTracked(p.Generation)
	res, err := s.db.DbMap.Exec(
		"UPDATE resource_providers SET name = ?, generation = ? WHERE id = ? AND generation = ?",
		name, next, p.ID, expectedGen,
	)
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}
	return nil
}

// Delete removes a provider, refusing if it still has children.
func (s *Store) Delete(ctx context.Context, providerUUID string, expectedGen int32) error {
	p, err := s.GetByUUID(ctx, providerUUID)
	if err != nil {
		return err
	}
	if p.Generation != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}
	var childCount int64
	if err := s.db.DbMap.SelectOne(&childCount, "SELECT COUNT(*) FROM resource_providers WHERE parent_id = ?", p.ID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	if childCount > 0 {
		return &perr.InvariantViolationError{Reason: "provider " + providerUUID + " still has child providers"}
	}
	if _, err := s.db.DbMap.Exec("DELETE FROM resource_provider_traits WHERE resource_provider_id = ?", p.ID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := s.db.DbMap.Exec("DELETE FROM resource_provider_aggregates WHERE resource_provider_id = ?", p.ID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := s.db.DbMap.Exec("DELETE FROM resource_providers WHERE id = ?", p.ID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// SetParent reparents a provider and repairs root_id across the whole
// subtree underneath it, refusing moves that would introduce a cycle.
func (s *Store) SetParent(ctx context.Context, providerUUID string, parentUUID option.Option[string], expectedGen int32) error {
	p, err := s.GetByUUID(ctx, providerUUID)
	if err != nil {
		return err
	}
	if p.Generation != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}

	var newParentID *int32
	newRoot := p.ID
	if parent, ok := parentUUID.Unpack(); ok {
		pp, err := s.GetByUUID(ctx, parent)
		if err != nil {
			return err
		}
		if pp.ID == p.ID {
			return &perr.InvariantViolationError{Reason: "provider cannot be its own parent"}
		}
		if err := s.checkNotAncestor(ctx, pp.ID, p.ID); err != nil {
			return err
		}
		pid := pp.ID
		newParentID = &pid
		newRoot = pp.RootID
	}

	tx, err := s.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	next := s.gen.BumpTracked(p.Generation)
	res, err := tx.Exec(
		"UPDATE resource_providers SET parent_id = ?, root_id = ?, generation = ? WHERE id = ? AND generation = ?",
		newParentID, newRoot, next, p.ID, expectedGen,
	)
	if err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}
	if err := s.propagateRoot(tx, p.ID, newRoot); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// checkNotAncestor walks from candidateAncestor up through parent_id
// links and fails if it reaches node, which would make node a descendant
// of its own prospective parent.
func (s *Store) checkNotAncestor(ctx context.Context, candidateAncestor, node int32) error {
	current := candidateAncestor
	for {
		if current == node {
			return &perr.InvariantViolationError{Reason: "reparenting would introduce a tree cycle"}
		}
		var parentID *int32
		err := s.db.DbMap.SelectOne(&parentID, "SELECT parent_id FROM resource_providers WHERE id = ?", current)
		if err != nil || parentID == nil {
			return nil
		}
		current = *parentID
	}
}

// propagateRoot fetches every descendant of root (breadth-first, by
// repeated parent_id scans) and sets their root_id, without relying on a
// recursive CTE.
func (s *Store) propagateRoot(tx *gorp.Transaction, subtreeRoot int32, newRoot int32) error {
	frontier := []int32{subtreeRoot}
	for len(frontier) > 0 {
		var children []int32
		placeholders := make([]interface{}, len(frontier))
		for i, id := range frontier {
			placeholders[i] = id
		}
		rows, err := tx.Select(&children, inClause("SELECT id FROM resource_providers WHERE parent_id IN (%s)", len(frontier)), placeholders...)
		_ = rows
		if err != nil {
			return &perr.InternalError{Cause: err}
		}
		for _, c := range children {
			if _, err := tx.Exec("UPDATE resource_providers SET root_id = ? WHERE id = ?", newRoot, c); err != nil {
				return &perr.InternalError{Cause: err}
			}
		}
		frontier = children
	}
	return nil
}

// SetTraits replaces the full set of traits a provider carries.
func (s *Store) SetTraits(ctx context.Context, providerUUID string, traitIDs []int32, expectedGen int32) error {
	p, err := s.GetByUUID(ctx, providerUUID)
	if err != nil {
		return err
	}
	if p.Generation != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}
	tx, err := s.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := tx.Exec("DELETE FROM resource_provider_traits WHERE resource_provider_id = ?", p.ID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	for _, tid := range traitIDs {
		if err := tx.Insert(&traitRow{ResourceProviderID: p.ID, TraitID: tid}); err != nil {
			_ = tx.Rollback()
			return &perr.InternalError{Cause: err}
		}
	}
	next := s.gen.BumpTracked(p.Generation)
	if _, err := tx.Exec("UPDATE resource_providers SET generation = ? WHERE id = ?", next, p.ID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// SetAggregates replaces the full set of aggregates a provider belongs to.
func (s *Store) SetAggregates(ctx context.Context, providerUUID string, aggregateUUIDs []string, expectedGen int32) error {
	p, err := s.GetByUUID(ctx, providerUUID)
	if err != nil {
		return err
	}
	if p.Generation != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: p.Generation}
	}
	tx, err := s.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if _, err := tx.Exec("DELETE FROM resource_provider_aggregates WHERE resource_provider_id = ?", p.ID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	for _, a := range aggregateUUIDs {
		if err := tx.Insert(&aggregateRow{ResourceProviderID: p.ID, AggregateUUID: a}); err != nil {
			_ = tx.Rollback()
			return &perr.InternalError{Cause: err}
		}
	}
	next := s.gen.BumpTracked(p.Generation)
	if _, err := tx.Exec("UPDATE resource_providers SET generation = ? WHERE id = ?", next, p.ID); err != nil {
		_ = tx.Rollback()
		return &perr.InternalError{Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// TraitInUse satisfies traits.InUseChecker: is traitID still associated
// with any provider.
func (s *Store) TraitInUse(ctx context.Context, traitID int32) (bool, error) {
	var count int64
	if err := s.db.DbMap.SelectOne(&count, "SELECT COUNT(*) FROM resource_provider_traits WHERE trait_id = ?", traitID); err != nil {
		return false, &perr.InternalError{Cause: err}
	}
	return count > 0, nil
}

// List returns providers matching filter.
func (s *Store) List(ctx context.Context, filter Filter) ([]ResourceProvider, error) {
	var rows []providerRow
	if _, err := s.db.DbMap.Select(&rows, "SELECT * FROM resource_providers"); err != nil {
		return nil, &perr.InternalError{Cause: err}
	}
	out := make([]ResourceProvider, 0, len(rows))
	for _, r := range rows {
		if !s.matches(ctx, r, filter) {
			continue
		}
		out = append(out, r.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) matches(ctx context.Context, r providerRow, f Filter) bool {
	if f.NameSubstring != "" && !contains(r.Name, f.NameSubstring) {
		return false
	}
	if len(f.UUIDs) > 0 && !stringIn(r.UUID, f.UUIDs) {
		return false
	}
	if root, ok := f.InTree.Unpack(); ok && r.RootID != root {
		return false
	}
	if len(f.RequiredTraits) > 0 || len(f.ForbiddenTraits) > 0 {
		held := s.providerTraitNames(r.ID)
		for _, t := range f.RequiredTraits {
			if !stringIn(t, held) {
				return false
			}
		}
		for _, t := range f.ForbiddenTraits {
			if stringIn(t, held) {
				return false
			}
		}
	}
	if len(f.MemberOf) > 0 || len(f.ForbiddenAggregates) > 0 {
		member := s.providerAggregateUUIDs(r.ID)
		for _, group := range f.MemberOf {
			if !anyIn(group, member) {
				return false
			}
		}
		for _, forbidden := range f.ForbiddenAggregates {
			if stringIn(forbidden, member) {
				return false
			}
		}
	}
	return true
}

// TraitsOf returns the trait names held by a provider, by internal id.
func (s *Store) TraitsOf(ctx context.Context, providerID int32) []string {
	return s.providerTraitNames(providerID)
}

// AggregatesOf returns the aggregate uuids a provider belongs to, by
// internal id.
func (s *Store) AggregatesOf(ctx context.Context, providerID int32) []string {
	return s.providerAggregateUUIDs(providerID)
}

func (s *Store) providerTraitNames(providerID int32) []string {
	var names []string
	_, _ = s.db.DbMap.Select(&names,
		"SELECT t.name FROM traits t JOIN resource_provider_traits rpt ON rpt.trait_id = t.id WHERE rpt.resource_provider_id = ?",
		providerID)
	return names
}

func (s *Store) providerAggregateUUIDs(providerID int32) []string {
	var uuids []string
	_, _ = s.db.DbMap.Select(&uuids,
		"SELECT aggregate_uuid FROM resource_provider_aggregates WHERE resource_provider_id = ?", providerID)
	return uuids
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func stringIn(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyIn(group, set []string) bool {
	for _, g := range group {
		if stringIn(g, set) {
			return true
		}
	}
	return false
}

func inClause(query string, n int) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf(query, strings.Join(placeholders, ","))
}
