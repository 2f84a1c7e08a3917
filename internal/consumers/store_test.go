// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package consumers

import (
	"context"
	"testing"

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

func TestEnsureCreatesConsumerAndDimensions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c, err := s.Ensure(ctx, "consumer-1", "project-a", "user-a", "INSTANCE")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if c.Generation != 0 {
		t.Fatalf("new consumer Generation = %d, want 0", c.Generation)
	}

	projectID, err := s.EnsureProject(ctx, "project-a")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	if c.ProjectID != projectID {
		t.Fatalf("consumer ProjectID = %d, want %d", c.ProjectID, projectID)
	}
}

func TestEnsureIsIdempotentAndKeepsOriginalDimensions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Ensure(ctx, "consumer-1", "project-a", "user-a", "INSTANCE")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	// A second Ensure call with different dimensions must not overwrite
	// the consumer's already-recorded project/user/type.
	second, err := s.Ensure(ctx, "consumer-1", "project-b", "user-b", "VOLUME")
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if second.ProjectID != first.ProjectID || second.UserID != first.UserID || second.ConsumerTypeID != first.ConsumerTypeID {
		t.Fatalf("second Ensure changed dimensions: first=%+v second=%+v", first, second)
	}
}

func TestEnsureProjectCachesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id1, err := s.EnsureProject(ctx, "project-a")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	id2, err := s.EnsureProject(ctx, "project-a")
	if err != nil {
		t.Fatalf("second EnsureProject: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("EnsureProject is not idempotent: %d != %d", id1, id2)
	}
}

func TestDeleteRejectsStaleGeneration(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c, err := s.Ensure(ctx, "consumer-1", "project-a", "user-a", "INSTANCE")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Delete(ctx, c.UUID, c.Generation+1); err == nil {
		t.Fatal("expected a concurrent-update error for a stale expected generation")
	}
}

func TestDeleteRemovesConsumer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c, err := s.Ensure(ctx, "consumer-1", "project-a", "user-a", "INSTANCE")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Delete(ctx, c.UUID, c.Generation); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, c.UUID); err == nil {
		t.Fatal("expected Get to fail after Delete")
	}
}
