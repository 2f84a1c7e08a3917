// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package consumers

import (
	"context"
	"sync"

	"github.com/go-gorp/gorp"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/gen"
	"github.com/sapcc/placement-engine/internal/perr"
)

// Store persists consumers and their normalized project/user/type
// dimensions.
type Store struct {
	db  *placementdb.DB
	gen gen.Monitor

	mu               sync.RWMutex
	projectByExtID   map[string]int32
	userByExtID      map[string]int32
	typeByExtID      map[string]int32
}

// NewStore builds a Store. onGenerationWrap, if non-nil, fires whenever a
// consumer's generation counter wraps.
func NewStore(d *placementdb.DB, onGenerationWrap func()) *Store {
	return &Store{
		db:             d,
		gen:            gen.NewMonitor(onGenerationWrap),
		projectByExtID: map[string]int32{},
		userByExtID:    map[string]int32{},
		typeByExtID:    map[string]int32{},
	}
}

// Init creates the backing tables.
func (s *Store) Init(ctx context.Context) error {
	if err := s.db.CreateTable(s.db.AddTable(projectRow{})); err != nil {
		return err
	}
	if err := s.db.CreateTable(s.db.AddTable(userRow{})); err != nil {
		return err
	}
	if err := s.db.CreateTable(s.db.AddTable(consumerTypeRow{})); err != nil {
		return err
	}
	return s.db.CreateTable(s.db.AddTable(consumerRow{}))
}

// EnsureProject resolves a project external id to a stable internal id,
// inserting it on first use.
func (s *Store) EnsureProject(ctx context.Context, externalID string) (int32, error) {
	return s.ensure(ctx, "projects", &s.projectByExtID, externalID, func() placementdb.Table { return &projectRow{ExternalID: externalID} })
}

// EnsureUser resolves a user external id to a stable internal id,
// inserting it on first use.
func (s *Store) EnsureUser(ctx context.Context, externalID string) (int32, error) {
	return s.ensure(ctx, "users", &s.userByExtID, externalID, func() placementdb.Table { return &userRow{ExternalID: externalID} })
}

// EnsureConsumerType resolves a consumer type external id to a stable
// internal id, inserting it on first use.
func (s *Store) EnsureConsumerType(ctx context.Context, externalID string) (int32, error) {
	return s.ensure(ctx, "consumer_types", &s.typeByExtID, externalID, func() placementdb.Table { return &consumerTypeRow{ExternalID: externalID} })
}

// rowWithID is satisfied by the three *Row types after insertion; gorp
// fills in their autoincrement ID field via the db struct tag, but we
// need it back out generically here.
type rowWithID interface {
	placementdb.Table
	idValue() int32
}

func (r *projectRow) idValue() int32      { return r.ID }
func (r *userRow) idValue() int32         { return r.ID }
func (r *consumerTypeRow) idValue() int32 { return r.ID }

func (s *Store) ensure(ctx context.Context, table string, cache *map[string]int32, externalID string, newRow func() placementdb.Table) (int32, error) {
	s.mu.RLock()
	if id, ok := (*cache)[externalID]; ok {
		s.mu.RUnlock()
		return id, nil
	}
	s.mu.RUnlock()

	if _, ok := s.db.DbMap.Dialect.(gorp.SqliteDialect); !ok {
		if _, err := s.db.DbMap.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", table+":"+externalID); err != nil {
			return 0, &perr.InternalError{Cause: err}
		}
	}

	var id int32
	err := s.db.DbMap.SelectOne(&id, "SELECT id FROM "+table+" WHERE external_id = ?", externalID)
	if err == nil {
		s.mu.Lock()
		(*cache)[externalID] = id
		s.mu.Unlock()
		return id, nil
	}

	candidate := newRow()
	if insertErr := s.db.DbMap.Insert(candidate); insertErr != nil {
		if err2 := s.db.DbMap.SelectOne(&id, "SELECT id FROM "+table+" WHERE external_id = ?", externalID); err2 == nil {
			s.mu.Lock()
			(*cache)[externalID] = id
			s.mu.Unlock()
			return id, nil
		}
		return 0, &perr.InternalError{Cause: insertErr}
	}
	id = candidate.(rowWithID).idValue()
	s.mu.Lock()
	(*cache)[externalID] = id
	s.mu.Unlock()
	return id, nil
}

// Ensure resolves or creates a consumer by uuid, associating it with the
// given project/user/type on first creation. If the consumer already
// exists its stored dimensions and generation are returned unchanged.
func (s *Store) Ensure(ctx context.Context, consumerUUID, projectExtID, userExtID, consumerTypeExtID string) (*Consumer, error) {
	var existing consumerRow
	err := s.db.DbMap.SelectOne(&existing, "SELECT * FROM consumers WHERE uuid = ?", consumerUUID)
	if err == nil {
		c := existing.toDomain()
		return &c, nil
	}

	projectID, err := s.EnsureProject(ctx, projectExtID)
	if err != nil {
		return nil, err
	}
	userID, err := s.EnsureUser(ctx, userExtID)
	if err != nil {
		return nil, err
	}
	typeID, err := s.EnsureConsumerType(ctx, consumerTypeExtID)
	if err != nil {
		return nil, err
	}

	row := &consumerRow{UUID: consumerUUID, ProjectID: projectID, UserID: userID, ConsumerTypeID: typeID, Generation: 0}
	if err := s.db.DbMap.Insert(row); err != nil {
		// Lost a race with another writer creating the same consumer.
		if err2 := s.db.DbMap.SelectOne(&existing, "SELECT * FROM consumers WHERE uuid = ?", consumerUUID); err2 == nil {
			c := existing.toDomain()
			return &c, nil
		}
		return nil, &perr.InternalError{Cause: err}
	}
	c := row.toDomain()
	return &c, nil
}

// Get resolves a consumer by uuid.
func (s *Store) Get(ctx context.Context, consumerUUID string) (*Consumer, error) {
	var r consumerRow
	if err := s.db.DbMap.SelectOne(&r, "SELECT * FROM consumers WHERE uuid = ?", consumerUUID); err != nil {
		return nil, &perr.NotFoundError{Kind: "consumer", ID: consumerUUID}
	}
	c := r.toDomain()
	return &c, nil
}

// Delete removes a consumer record, gated by its expected generation.
// Callers must ensure all of its allocations are released first.
func (s *Store) Delete(ctx context.Context, consumerUUID string, expectedGen int32) error {
	c, err := s.Get(ctx, consumerUUID)
	if err != nil {
		return err
	}
	if c.Generation != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "consumer", ID: consumerUUID, ExpectedGen: expectedGen, CurrentGeneration: c.Generation}
	}
	res, err := s.db.DbMap.Exec("DELETE FROM consumers WHERE uuid = ? AND generation = ?", consumerUUID, expectedGen)
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &perr.ConcurrentUpdateError{Kind: "consumer", ID: consumerUUID, ExpectedGen: expectedGen, CurrentGeneration: c.Generation}
	}
	return nil
}
