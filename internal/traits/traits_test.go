// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package traits

import (
	"context"
	"testing"

	testlibdb "github.com/sapcc/placement-engine/testlib/db"
)

func TestRegistrySeedsStandardTraits(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	id, ok := r.IDOf("MISC_SHARES_VIA_AGGREGATE")
	if !ok {
		t.Fatal("expected MISC_SHARES_VIA_AGGREGATE to be seeded")
	}
	name, ok := r.NameOf(id)
	if !ok || name != "MISC_SHARES_VIA_AGGREGATE" {
		t.Fatalf("NameOf(%d) = %q, %v, want MISC_SHARES_VIA_AGGREGATE, true", id, name, ok)
	}
}

func TestEnsureCreatesCustomTrait(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	id, err := r.Ensure(ctx, "CUSTOM_HANA_CERTIFIED")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	id2, err := r.Ensure(ctx, "CUSTOM_HANA_CERTIFIED")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if id != id2 {
		t.Fatalf("Ensure is not idempotent: %d != %d", id, id2)
	}
}

func TestEnsureRejectsUnknownStandardName(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := r.Ensure(ctx, "NOT_A_REAL_TRAIT"); err == nil {
		t.Fatal("expected an error for a name that is neither standard nor CUSTOM_-prefixed")
	}
}

func TestEnsureRejectsMalformedName(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := r.Ensure(ctx, "CUSTOM_lowercase"); err == nil {
		t.Fatal("expected an error for a name with lowercase characters")
	}
}

func TestDeleteCustomRefusesWhenInUse(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := r.Ensure(ctx, "CUSTOM_FOO"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	inUse := func(ctx context.Context, traitID int32) (bool, error) { return true, nil }
	if err := r.DeleteCustom(ctx, "CUSTOM_FOO", inUse); err == nil {
		t.Fatal("expected DeleteCustom to refuse a trait reported in use")
	}
}

func TestDeleteCustomSucceedsWhenUnused(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := r.Ensure(ctx, "CUSTOM_BAR"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	notInUse := func(ctx context.Context, traitID int32) (bool, error) { return false, nil }
	if err := r.DeleteCustom(ctx, "CUSTOM_BAR", notInUse); err != nil {
		t.Fatalf("DeleteCustom: %v", err)
	}
	if _, ok := r.IDOf("CUSTOM_BAR"); ok {
		t.Fatal("expected CUSTOM_BAR to be gone from the registry cache")
	}
}
