// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package inventories

import "testing"

func TestEffectiveCapacity(t *testing.T) {
	cases := []struct {
		name string
		inv  Inventory
		want int64
	}{
		{"simple", Inventory{Total: 100, Reserved: 0, AllocationRatio: 1.0}, 100},
		{"reserved", Inventory{Total: 100, Reserved: 20, AllocationRatio: 1.0}, 80},
		{"ratio", Inventory{Total: 100, Reserved: 0, AllocationRatio: 1.5}, 150},
		{"reserved_equals_total", Inventory{Total: 100, Reserved: 100, AllocationRatio: 1.0}, 0},
		{"reserved_exceeds_total", Inventory{Total: 100, Reserved: 150, AllocationRatio: 1.0}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.inv.EffectiveCapacity(); got != tc.want {
				t.Fatalf("EffectiveCapacity() = %d, want %d", got, tc.want)
			}
		})
	}
}

// TestAdmissibleBoundaries reproduces the exclusion-reason boundary
// matrix: min_unit too high, max_unit too low, bad step_size,
// insufficient total, excess reserved, allocation-ratio shrinkage, and
// partial-vs-full use in one class.
func TestAdmissibleBoundaries(t *testing.T) {
	base := Inventory{Total: 100, Reserved: 0, MinUnit: 1, MaxUnit: 16, StepSize: 2, AllocationRatio: 1.0}

	cases := []struct {
		name   string
		inv    Inventory
		amount int64
		used   int64
		want   bool
	}{
		{"within_bounds", base, 8, 0, true},
		{"at_max_unit", base, 16, 0, true},
		{"below_min_unit", func() Inventory { i := base; i.MinUnit = 4; return i }(), 2, 0, false},
		{"above_max_unit", base, 18, 0, false},
		{"bad_step_size", base, 7, 0, false},
		{"insufficient_total", func() Inventory { i := base; i.Total = 4; return i }(), 8, 0, false},
		{"excess_reserved", func() Inventory { i := base; i.Reserved = 100; return i }(), 2, 0, false},
		{"ratio_shrinks_capacity", func() Inventory { i := base; i.AllocationRatio = 0.1; return i }(), 12, 0, false},
		{"partial_use_leaves_room", base, 8, 8, true},
		{"full_use_blocks_more", base, 8, 94, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.inv.Admissible(tc.amount, tc.used); got != tc.want {
				t.Fatalf("Admissible(%d, used=%d) = %v, want %v", tc.amount, tc.used, got, tc.want)
			}
		})
	}
}
