// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package allocations implements the allocation store and the usage view
// the matcher and commit engine both depend on: how much of a provider's
// capacity, per resource class, is already consumed.
package allocations

import (
	"context"
	"strings"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/perr"
)

// Allocation is one (consumer, provider, class) -> amount-used record.
type Allocation struct {
	ConsumerUUID string
	ProviderID   int32
	ClassID      int32
	Used         int64
}

type row struct {
	ConsumerUUID       string `db:"consumer_uuid"`
	ResourceProviderID int32  `db:"resource_provider_id"`
	ResourceClassID    int32  `db:"resource_class_id"`
	Used               int64  `db:"used"`
}

func (row) TableName() string { return "allocations" }
func (row) Indexes() []placementdb.Index {
	return []placementdb.Index{
		{Name: "idx_allocations_provider_class", ColumnNames: []string{"resource_provider_id", "resource_class_id"}},
	}
}

func (r row) toDomain() Allocation {
	return Allocation{ConsumerUUID: r.ConsumerUUID, ProviderID: r.ResourceProviderID, ClassID: r.ResourceClassID, Used: r.Used}
}

// ProviderClassKey identifies one usage bucket in a UsageView.
type ProviderClassKey struct {
	ProviderID int32
	ClassID    int32
}

// Store persists allocations and answers usage queries.
type Store struct {
	db *placementdb.DB
}

// NewStore builds a Store.
func NewStore(d *placementdb.DB) *Store {
	return &Store{db: d}
}

// Init creates the backing table.
func (s *Store) Init(ctx context.Context) error {
	return s.db.CreateTable(s.db.AddTable(row{}))
}

// Usage sums `used` for a single (provider, class) pair.
func (s *Store) Usage(ctx context.Context, providerID, classID int32) (int64, error) {
	var total int64
	err := s.db.DbMap.SelectOne(&total,
		"SELECT COALESCE(SUM(used),0) FROM allocations WHERE resource_provider_id = ? AND resource_class_id = ?",
		providerID, classID)
	if err != nil {
		return 0, &perr.InternalError{Cause: err}
	}
	return total, nil
}

// UsageView returns the batched usage sums the matcher needs: for every
// provider in providerIDs, how much of each resource class is already
// used, in one query.
func (s *Store) UsageView(ctx context.Context, providerIDs []int32) (map[ProviderClassKey]int64, error) {
	out := map[ProviderClassKey]int64{}
	if len(providerIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(providerIDs))
	args := make([]interface{}, len(providerIDs))
	for i, id := range providerIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := "SELECT resource_provider_id, resource_class_id, SUM(used) AS used FROM allocations WHERE resource_provider_id IN (" +
		strings.Join(placeholders, ",") + ") GROUP BY resource_provider_id, resource_class_id"
	var rows []struct {
		ResourceProviderID int32 `db:"resource_provider_id"`
		ResourceClassID    int32 `db:"resource_class_id"`
		Used               int64 `db:"used"`
	}
	if _, err := s.db.DbMap.Select(&rows, query, args...); err != nil {
		return nil, &perr.InternalError{Cause: err}
	}
	for _, r := range rows {
		out[ProviderClassKey{ProviderID: r.ResourceProviderID, ClassID: r.ResourceClassID}] = r.Used
	}
	return out, nil
}

// ConsumerAllocations returns every allocation row for a consumer.
func (s *Store) ConsumerAllocations(ctx context.Context, consumerUUID string) ([]Allocation, error) {
	var rows []row
	if _, err := s.db.DbMap.Select(&rows, "SELECT * FROM allocations WHERE consumer_uuid = ?", consumerUUID); err != nil {
		return nil, &perr.InternalError{Cause: err}
	}
	out := make([]Allocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
