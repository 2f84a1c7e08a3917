// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package providers implements the resource provider store: the tree of
// providers, their aggregate and trait memberships, and reparenting with
// cycle detection and whole-subtree root-id repair.
package providers

import (
	"github.com/majewsky/gg/option"

	placementdb "github.com/sapcc/placement-engine/internal/db"
)

// ResourceProvider is a single node in the provider tree.
type ResourceProvider struct {
	ID         int32
	UUID       string
	Name       string
	Generation int32
	ParentID   option.Option[int32]
	RootID     int32
}

type providerRow struct {
	ID         int32 `db:"id,primarykey,autoincrement"`
	UUID       string `db:"uuid"`
	Name       string `db:"name"`
	Generation int32  `db:"generation"`
	ParentID   *int32 `db:"parent_id"`
	RootID     int32  `db:"root_id"`
}

func (providerRow) TableName() string { return "resource_providers" }
func (providerRow) Indexes() []placementdb.Index {
	return []placementdb.Index{
		{Name: "idx_resource_providers_root_id", ColumnNames: []string{"root_id"}},
		{Name: "idx_resource_providers_parent_id", ColumnNames: []string{"parent_id"}},
	}
}

func (r providerRow) toDomain() ResourceProvider {
	rp := ResourceProvider{ID: r.ID, UUID: r.UUID, Name: r.Name, Generation: r.Generation, RootID: r.RootID}
	if r.ParentID != nil {
		rp.ParentID = option.Some(*r.ParentID)
	}
	return rp
}

type traitRow struct {
	ResourceProviderID int32 `db:"resource_provider_id"`
	TraitID            int32 `db:"trait_id"`
}

func (traitRow) TableName() string { return "resource_provider_traits" }
func (traitRow) Indexes() []placementdb.Index {
	return []placementdb.Index{{Name: "idx_rp_traits_trait_id", ColumnNames: []string{"trait_id"}}}
}

type aggregateRow struct {
	ResourceProviderID int32  `db:"resource_provider_id"`
	AggregateUUID      string `db:"aggregate_uuid"`
}

func (aggregateRow) TableName() string { return "resource_provider_aggregates" }
func (aggregateRow) Indexes() []placementdb.Index {
	return []placementdb.Index{{Name: "idx_rp_aggregates_uuid", ColumnNames: []string{"aggregate_uuid"}}}
}

// Filter narrows List results. Zero-valued fields are ignored.
type Filter struct {
	NameSubstring       string
	UUIDs               []string
	MemberOf            [][]string // AND of OR: provider must be in >=1 aggregate from every inner slice
	ForbiddenAggregates []string   // provider must be in none of these
	RequiredTraits      []string
	ForbiddenTraits     []string
	InTree              option.Option[int32] // root_id of a specific tree
}
