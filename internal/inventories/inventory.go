// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package inventories implements the inventory store: the capacity
// records a provider advertises per resource class, and the admissibility
// math (effective capacity, min/max/step bounds) the matcher leans on.
package inventories

import (
	placementdb "github.com/sapcc/placement-engine/internal/db"
)

// Inventory is one resource-class capacity record for a provider.
type Inventory struct {
	ProviderID      int32
	ClassID         int32
	Total           int64
	Reserved        int64
	MinUnit         int64
	MaxUnit         int64
	StepSize        int64
	AllocationRatio float64
}

// EffectiveCapacity is floor((total-reserved)*allocation_ratio).
func (i Inventory) EffectiveCapacity() int64 {
	avail := i.Total - i.Reserved
	if avail <= 0 {
		return 0
	}
	return int64(float64(avail) * i.AllocationRatio)
}

// Admissible reports whether amount can be requested against this
// inventory given already-used capacity, independent of other classes.
func (i Inventory) Admissible(amount, used int64) bool {
	if amount < i.MinUnit || amount > i.MaxUnit {
		return false
	}
	if i.StepSize > 0 && amount%i.StepSize != 0 {
		return false
	}
	return used+amount <= i.EffectiveCapacity()
}

type row struct {
	ResourceProviderID int32   `db:"resource_provider_id"`
	ResourceClassID    int32   `db:"resource_class_id"`
	Total              int64   `db:"total"`
	Reserved           int64   `db:"reserved"`
	MinUnit            int64   `db:"min_unit"`
	MaxUnit            int64   `db:"max_unit"`
	StepSize           int64   `db:"step_size"`
	AllocationRatio    float64 `db:"allocation_ratio"`
}

func (row) TableName() string { return "inventories" }
func (row) Indexes() []placementdb.Index {
	return []placementdb.Index{{Name: "idx_inventories_class_id", ColumnNames: []string{"resource_class_id"}}}
}

func (r row) toDomain() Inventory {
	return Inventory{
		ProviderID: r.ResourceProviderID, ClassID: r.ResourceClassID,
		Total: r.Total, Reserved: r.Reserved, MinUnit: r.MinUnit,
		MaxUnit: r.MaxUnit, StepSize: r.StepSize, AllocationRatio: r.AllocationRatio,
	}
}

func fromDomain(i Inventory) row {
	return row{
		ResourceProviderID: i.ProviderID, ResourceClassID: i.ClassID,
		Total: i.Total, Reserved: i.Reserved, MinUnit: i.MinUnit,
		MaxUnit: i.MaxUnit, StepSize: i.StepSize, AllocationRatio: i.AllocationRatio,
	}
}
