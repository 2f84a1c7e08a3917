// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"testing"

	"github.com/majewsky/gg/option"

	"github.com/sapcc/placement-engine/internal/allocations"
	"github.com/sapcc/placement-engine/internal/classes"
	"github.com/sapcc/placement-engine/internal/commit"
	"github.com/sapcc/placement-engine/internal/consumers"
	"github.com/sapcc/placement-engine/internal/inventories"
	"github.com/sapcc/placement-engine/internal/matcher"
	"github.com/sapcc/placement-engine/internal/perr"
	"github.com/sapcc/placement-engine/internal/providers"
	"github.com/sapcc/placement-engine/internal/traits"
	testlibdb "github.com/sapcc/placement-engine/testlib/db"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)

	c := classes.NewRegistry(db)
	tr := traits.NewRegistry(db)
	p := providers.NewStore(db, nil)
	inv := inventories.NewStore(db, nil)
	cons := consumers.NewStore(db, nil)
	alloc := allocations.NewStore(db)
	m := matcher.NewMatcher(p, inv, alloc, c, tr, 0, 0)
	ce := commit.NewEngine(db, nil)

	e := NewEngine(c, tr, p, inv, cons, alloc, m, ce, false)
	if err := e.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return e
}

func TestGetAllocationCandidatesRejectsEmptyGroups(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetAllocationCandidates(context.Background(), ParsedRequest{})
	if err == nil {
		t.Fatal("expected a validation error for an empty request")
	}
	if _, ok := err.(*perr.ValidationError); !ok {
		t.Fatalf("error = %T, want *perr.ValidationError", err)
	}
}

func TestGetAllocationCandidatesRejectsNonPositiveAmount(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetAllocationCandidates(context.Background(), ParsedRequest{
		Groups: []ParsedRequestGroup{{Resources: []ParsedResourceRequest{{ClassName: "VCPU", Amount: 0}}}},
	})
	if err == nil {
		t.Fatal("expected a validation error for a non-positive amount")
	}
}

func TestSetAllocationsRejectsNegativeAmount(t *testing.T) {
	e := newTestEngine(t)
	err := e.SetAllocations(context.Background(), []ParsedConsumerAllocations{{
		ConsumerUUID: "c1", ProjectExternalID: "p", UserExternalID: "u", ConsumerTypeExternalID: "INSTANCE",
		Allocations: []ParsedAllocation{{ProviderUUID: "whatever", ClassName: "VCPU", Amount: -1}},
	}})
	if err == nil {
		t.Fatal("expected a validation error for a negative amount")
	}
}

func TestEndToEndCreateInventoryMatchAndCommit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	p, err := e.CreateProvider(ctx, "host-1", option.None[string]())
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if err := e.SetInventories(ctx, p.UUID, p.Generation, []ParsedInventory{
		{ClassName: "VCPU", Total: 16, MinUnit: 1, MaxUnit: 16, StepSize: 1, AllocationRatio: 1.0},
	}); err != nil {
		t.Fatalf("SetInventories: %v", err)
	}

	result, err := e.GetAllocationCandidates(ctx, ParsedRequest{
		Groups: []ParsedRequestGroup{{Resources: []ParsedResourceRequest{{ClassName: "VCPU", Amount: 4}}}},
	})
	if err != nil {
		t.Fatalf("GetAllocationCandidates: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("Candidates = %+v, want exactly 1", result.Candidates)
	}

	current, err := e.GetProvider(ctx, p.UUID)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	err = e.SetAllocations(ctx, []ParsedConsumerAllocations{{
		ConsumerUUID: "consumer-1", ProjectExternalID: "project-a", UserExternalID: "user-a", ConsumerTypeExternalID: "INSTANCE",
		Allocations: []ParsedAllocation{{ProviderUUID: p.UUID, ProviderGeneration: current.Generation, ClassName: "VCPU", Amount: 4}},
	}})
	if err != nil {
		t.Fatalf("SetAllocations: %v", err)
	}

	invs, err := e.ListInventories(ctx, p.UUID)
	if err != nil {
		t.Fatalf("ListInventories: %v", err)
	}
	if len(invs) != 1 || invs[0].ClassName != "VCPU" || invs[0].Total != 16 {
		t.Fatalf("ListInventories = %+v, want a single VCPU:16 record", invs)
	}
}
