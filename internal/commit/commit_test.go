// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package commit

import (
	"context"
	"errors"
	"testing"

	"github.com/majewsky/gg/option"

	"github.com/sapcc/placement-engine/internal/allocations"
	"github.com/sapcc/placement-engine/internal/classes"
	"github.com/sapcc/placement-engine/internal/consumers"
	"github.com/sapcc/placement-engine/internal/inventories"
	"github.com/sapcc/placement-engine/internal/perr"
	"github.com/sapcc/placement-engine/internal/providers"
	testlibdb "github.com/sapcc/placement-engine/testlib/db"
)

type commitFixture struct {
	classes     *classes.Registry
	consumers   *consumers.Store
	providers   *providers.Store
	inventories *inventories.Store
	engine      *Engine
}

func newCommitFixture(t *testing.T) *commitFixture {
	t.Helper()
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)

	c := classes.NewRegistry(db)
	cons := consumers.NewStore(db, nil)
	p := providers.NewStore(db, nil)
	inv := inventories.NewStore(db, nil)

	for _, s := range []interface {
		Init(context.Context) error
	}{c, cons, p, inv, allocations.NewStore(db)} {
		if err := s.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}

	return &commitFixture{
		classes:     c,
		consumers:   cons,
		providers:   p,
		inventories: inv,
		engine:      NewEngine(db, nil),
	}
}

// createProviderWithInventory creates a provider and writes one inventory
// record for it, then re-reads the provider so the returned value's
// Generation reflects the bump ReplaceAll performed.
func (f *commitFixture) createProviderWithInventory(t *testing.T, className string, total int64) *providers.ResourceProvider {
	t.Helper()
	ctx := context.Background()
	p, err := f.providers.Create(ctx, "host", option.None[string]())
	if err != nil {
		t.Fatalf("Create provider: %v", err)
	}
	classID, err := f.classes.Ensure(ctx, className)
	if err != nil {
		t.Fatalf("Ensure class: %v", err)
	}
	err = f.inventories.ReplaceAll(ctx, p.ID, p.Generation, []inventories.Inventory{{
		ProviderID: p.ID, ClassID: classID, Total: total, MinUnit: 1, MaxUnit: total, StepSize: 1, AllocationRatio: 1.0,
	}}, func(ctx context.Context, providerID, classID int32) (int64, error) { return 0, nil })
	if err != nil {
		t.Fatalf("ReplaceAll inventory: %v", err)
	}
	current, err := f.providers.GetByUUID(ctx, p.UUID)
	if err != nil {
		t.Fatalf("GetByUUID after ReplaceAll: %v", err)
	}
	return current
}

func TestReplaceCommitsAllocationsForFreshConsumer(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 16)

	err := f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID:       "consumer-1",
		ConsumerGeneration: 0,
		Allocations:        []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 4}},
	}})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
}

func TestReplaceRejectsAmountExceedingCapacity(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 8)

	err := f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID:       "consumer-1",
		ConsumerGeneration: 0,
		Allocations:        []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 100}},
	}})
	if err == nil {
		t.Fatal("expected a capacity-exceeded error")
	}
	var capErr *perr.CapacityExceededError
	if !asCapacityExceeded(err, &capErr) {
		t.Fatalf("Replace error = %v, want *perr.CapacityExceededError", err)
	}
}

func TestReplaceRollsBackOnCapacityViolationAcrossSets(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 8)

	// consumer-1's allocation is fine on its own, but together with
	// consumer-2's the provider is oversubscribed; the whole commit must
	// fail and leave no partial allocations behind.
	err := f.engine.Replace(ctx, []ConsumerAllocationSet{
		{ConsumerUUID: "consumer-1", ConsumerGeneration: 0, Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 4}}},
		{ConsumerUUID: "consumer-2", ConsumerGeneration: 0, Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 8}}},
	})
	if err == nil {
		t.Fatal("expected a capacity-exceeded error for the combined request")
	}

	// a follow-up commit of consumer-1 alone should still succeed, proving
	// the failed attempt above left no stray allocation rows.
	if err := f.engine.Replace(ctx, []ConsumerAllocationSet{
		{ConsumerUUID: "consumer-1", ConsumerGeneration: 0, Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 8}}},
	}); err != nil {
		t.Fatalf("Replace after rollback: %v", err)
	}
}

func TestReplaceRejectsStaleConsumerGeneration(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 16)

	if _, err := f.consumers.Ensure(ctx, "consumer-1", "project-a", "user-a", "INSTANCE"); err != nil {
		t.Fatalf("Ensure consumer: %v", err)
	}

	if err := f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID: "consumer-1", ConsumerGeneration: 0,
		Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 4}},
	}}); err != nil {
		t.Fatalf("first Replace: %v", err)
	}

	// generation is now 1; replaying the stale expected value of 0 must fail.
	err := f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID: "consumer-1", ConsumerGeneration: 0,
		Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 6}},
	}})
	if err == nil {
		t.Fatal("expected a concurrent-update error for a stale consumer generation")
	}
}

func TestReplaceBumpsProviderGenerationOnce(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 16)

	before, err := f.providers.GetByUUID(ctx, p.UUID)
	if err != nil {
		t.Fatalf("GetByUUID before: %v", err)
	}

	if err := f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID: "consumer-1", ConsumerGeneration: 0,
		Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: before.Generation, ClassName: "VCPU", Amount: 4}},
	}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	after, err := f.providers.GetByUUID(ctx, p.UUID)
	if err != nil {
		t.Fatalf("GetByUUID after: %v", err)
	}
	if after.Generation != before.Generation+1 {
		t.Fatalf("provider Generation = %d, want %d (advance by exactly 1)", after.Generation, before.Generation+1)
	}
}

func TestReplaceRejectsStaleProviderGeneration(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 16)

	// bump the provider's generation behind the caller's back by writing a
	// second class's inventory.
	memClassID, err := f.classes.Ensure(ctx, "MEMORY_MB")
	if err != nil {
		t.Fatalf("Ensure class: %v", err)
	}
	if err := f.inventories.Upsert(ctx, p.ID, p.Generation, inventories.Inventory{
		ProviderID: p.ID, ClassID: memClassID, Total: 1024, MinUnit: 1, MaxUnit: 1024, StepSize: 1, AllocationRatio: 1.0,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// p.Generation is now stale; committing against it must fail.
	err = f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID: "consumer-1", ConsumerGeneration: 0,
		Allocations: []ConsumerAllocation{{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 4}},
	}})
	if err == nil {
		t.Fatal("expected a concurrent-update error for a stale provider generation")
	}
	var concErr *perr.ConcurrentUpdateError
	if !errors.As(err, &concErr) {
		t.Fatalf("Replace error = %v, want *perr.ConcurrentUpdateError", err)
	}
	if concErr.Kind != "provider" {
		t.Fatalf("ConcurrentUpdateError.Kind = %s, want %q", concErr.Kind, "provider")
	}
}

func TestReplaceRejectsConflictingProviderGenerationsInOneCall(t *testing.T) {
	f := newCommitFixture(t)
	ctx := context.Background()
	p := f.createProviderWithInventory(t, "VCPU", 16)
	classID, err := f.classes.Ensure(ctx, "MEMORY_MB")
	if err != nil {
		t.Fatalf("Ensure class: %v", err)
	}
	if err := f.inventories.Upsert(ctx, p.ID, p.Generation, inventories.Inventory{
		ProviderID: p.ID, ClassID: classID, Total: 1024, MinUnit: 1, MaxUnit: 1024, StepSize: 1, AllocationRatio: 1.0,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	current, err := f.providers.GetByUUID(ctx, p.UUID)
	if err != nil {
		t.Fatalf("GetByUUID: %v", err)
	}

	err = f.engine.Replace(ctx, []ConsumerAllocationSet{{
		ConsumerUUID: "consumer-1", ConsumerGeneration: 0,
		Allocations: []ConsumerAllocation{
			{ProviderUUID: p.UUID, ProviderGeneration: p.Generation, ClassName: "VCPU", Amount: 4},
			{ProviderUUID: p.UUID, ProviderGeneration: current.Generation, ClassName: "MEMORY_MB", Amount: 64},
		},
	}})
	if err == nil {
		t.Fatal("expected a validation error for conflicting per-provider generations within one call")
	}
	var valErr *perr.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Replace error = %v, want *perr.ValidationError", err)
	}
}

func asCapacityExceeded(err error, target **perr.CapacityExceededError) bool {
	ce, ok := err.(*perr.CapacityExceededError)
	if ok {
		*target = ce
	}
	return ok
}
