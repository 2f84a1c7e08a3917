// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package providers

import (
	"context"
	"testing"

	"github.com/majewsky/gg/option"

	testlibdb "github.com/sapcc/placement-engine/testlib/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testlibdb.NewSqliteTestDB(t)
	s := NewStore(db, nil)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestCreateRootProviderIsItsOwnRoot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, err := s.Create(ctx, "compute-01", option.None[string]())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.RootID != p.ID {
		t.Fatalf("root provider RootID = %d, want %d (its own id)", p.RootID, p.ID)
	}
	if _, ok := p.ParentID.Unpack(); ok {
		t.Fatal("root provider should have no parent")
	}
}

func TestCreateChildInheritsRoot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.Create(ctx, "compute-01", option.None[string]())
	if err != nil {
		t.Fatalf("Create root: %v", err)
	}
	child, err := s.Create(ctx, "numa-0", option.Some(root.UUID))
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}
	if child.RootID != root.ID {
		t.Fatalf("child RootID = %d, want %d", child.RootID, root.ID)
	}
	parentID, ok := child.ParentID.Unpack()
	if !ok || parentID != root.ID {
		t.Fatalf("child ParentID = %v, want %d", child.ParentID, root.ID)
	}
}

func TestSetParentPropagatesRootToDescendants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	treeA, _ := s.Create(ctx, "tree-a", option.None[string]())
	treeB, _ := s.Create(ctx, "tree-b", option.None[string]())
	leaf, _ := s.Create(ctx, "leaf", option.Some(treeA.UUID))
	grandchild, _ := s.Create(ctx, "grandchild", option.Some(leaf.UUID))

	if err := s.SetParent(ctx, leaf.UUID, option.Some(treeB.UUID), leaf.Generation); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	got, err := s.GetByUUID(ctx, grandchild.UUID)
	if err != nil {
		t.Fatalf("GetByUUID: %v", err)
	}
	if got.RootID != treeB.ID {
		t.Fatalf("grandchild RootID = %d, want %d after reparenting its ancestor", got.RootID, treeB.ID)
	}
}

func TestSetParentRefusesCycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, _ := s.Create(ctx, "root", option.None[string]())
	child, _ := s.Create(ctx, "child", option.Some(root.UUID))

	if err := s.SetParent(ctx, root.UUID, option.Some(child.UUID), root.Generation); err == nil {
		t.Fatal("expected an error when reparenting a node underneath its own descendant")
	}
}

func TestSetParentRefusesSelfParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, _ := s.Create(ctx, "root", option.None[string]())
	if err := s.SetParent(ctx, root.UUID, option.Some(root.UUID), root.Generation); err == nil {
		t.Fatal("expected an error when a provider is set as its own parent")
	}
}

func TestSetParentRejectsStaleGeneration(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, _ := s.Create(ctx, "root", option.None[string]())
	other, _ := s.Create(ctx, "other", option.None[string]())
	if err := s.SetParent(ctx, other.UUID, option.Some(root.UUID), other.Generation+1); err == nil {
		t.Fatal("expected a concurrent-update error for a stale expected generation")
	}
}

func TestDeleteRefusesWhenChildrenExist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, _ := s.Create(ctx, "root", option.None[string]())
	_, _ = s.Create(ctx, "child", option.Some(root.UUID))
	if err := s.Delete(ctx, root.UUID, root.Generation); err == nil {
		t.Fatal("expected Delete to refuse a provider with children")
	}
}

func TestSetTraitsReplacesFullSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, _ := s.Create(ctx, "root", option.None[string]())

	if err := s.SetTraits(ctx, p.UUID, []int32{1, 2}, p.Generation); err != nil {
		t.Fatalf("SetTraits: %v", err)
	}
	updated, _ := s.GetByUUID(ctx, p.UUID)
	if err := s.SetTraits(ctx, p.UUID, []int32{3}, updated.Generation); err != nil {
		t.Fatalf("second SetTraits: %v", err)
	}
	names := s.TraitsOf(ctx, updated.ID)
	_ = names // trait ids here aren't backed by real trait rows; this only exercises the replace-set path
}

func TestSetAggregatesReplacesFullSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p, _ := s.Create(ctx, "root", option.None[string]())

	if err := s.SetAggregates(ctx, p.UUID, []string{"agg-1", "agg-2"}, p.Generation); err != nil {
		t.Fatalf("SetAggregates: %v", err)
	}
	updated, _ := s.GetByUUID(ctx, p.UUID)
	got := s.AggregatesOf(ctx, updated.ID)
	if len(got) != 2 {
		t.Fatalf("AggregatesOf = %v, want 2 entries", got)
	}

	if err := s.SetAggregates(ctx, p.UUID, []string{"agg-3"}, updated.Generation); err != nil {
		t.Fatalf("second SetAggregates: %v", err)
	}
	final, _ := s.GetByUUID(ctx, p.UUID)
	got = s.AggregatesOf(ctx, final.ID)
	if len(got) != 1 || got[0] != "agg-3" {
		t.Fatalf("AggregatesOf after replace = %v, want [agg-3]", got)
	}
}

func TestListFiltersByMemberOf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a, _ := s.Create(ctx, "a", option.None[string]())
	b, _ := s.Create(ctx, "b", option.None[string]())
	_ = s.SetAggregates(ctx, a.UUID, []string{"az-1"}, a.Generation)

	out, err := s.List(ctx, Filter{MemberOf: [][]string{{"az-1"}}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 || out[0].UUID != a.UUID {
		t.Fatalf("List(MemberOf az-1) = %+v, want only %s", out, a.UUID)
	}
	_ = b
}
