// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package classes

import (
	"context"
	"testing"

	testlibdb "github.com/sapcc/placement-engine/testlib/db"
)

func TestRegistrySeedsStandardClasses(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	id, ok := r.IDOf("VCPU")
	if !ok {
		t.Fatal("expected VCPU to be seeded")
	}
	name, ok := r.NameOf(id)
	if !ok || name != "VCPU" {
		t.Fatalf("NameOf(%d) = %q, %v, want VCPU, true", id, name, ok)
	}
}

func TestEnsureCreatesCustomClass(t *testing.T) {
	ctx := context.Background()
	db := testlibdb.NewSqliteTestDB(t)
	r := NewRegistry(db)
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	id, err := r.Ensure(ctx, "CUSTOM_GPU_A100")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	id2, err := r.Ensure(ctx, "CUSTOM_GPU_A100")
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
	if _, err := r.Ensure(ctx, "NOT_A_REAL_CLASS"); err == nil {
		t.Fatal("expected an error for a name that is neither standard nor CUSTOM_-prefixed")
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
	inUse := func(ctx context.Context, classID int32) (bool, error) { return true, nil }
	if err := r.DeleteCustom(ctx, "CUSTOM_FOO", inUse); err == nil {
		t.Fatal("expected DeleteCustom to refuse a class reported in use")
	}
}
