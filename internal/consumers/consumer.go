// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package consumers implements the consumer registry: the project/user/
// consumer-type ensure-on-first-use tables and the consumers table that
// ties a consumer uuid to them, with its own generation counter.
package consumers

import (
	placementdb "github.com/sapcc/placement-engine/internal/db"
)

// Consumer ties an external uuid to its normalized project/user/type and
// carries its own optimistic-concurrency generation.
type Consumer struct {
	UUID           string
	ProjectID      int32
	UserID         int32
	ConsumerTypeID int32
	Generation     int32
}

type consumerRow struct {
	UUID           string `db:"uuid,primarykey"`
	ProjectID      int32  `db:"project_id"`
	UserID         int32  `db:"user_id"`
	ConsumerTypeID int32  `db:"consumer_type_id"`
	Generation     int32  `db:"generation"`
}

func (consumerRow) TableName() string            { return "consumers" }
func (consumerRow) Indexes() []placementdb.Index { return nil }

func (r consumerRow) toDomain() Consumer {
	return Consumer{UUID: r.UUID, ProjectID: r.ProjectID, UserID: r.UserID, ConsumerTypeID: r.ConsumerTypeID, Generation: r.Generation}
}

type projectRow struct {
	ID         int32  `db:"id,primarykey,autoincrement"`
	ExternalID string `db:"external_id"`
}

func (projectRow) TableName() string            { return "projects" }
func (projectRow) Indexes() []placementdb.Index { return nil }

type userRow struct {
	ID         int32  `db:"id,primarykey,autoincrement"`
	ExternalID string `db:"external_id"`
}

func (userRow) TableName() string            { return "users" }
func (userRow) Indexes() []placementdb.Index { return nil }

type consumerTypeRow struct {
	ID         int32  `db:"id,primarykey,autoincrement"`
	ExternalID string `db:"external_id"`
}

func (consumerTypeRow) TableName() string            { return "consumer_types" }
func (consumerTypeRow) Indexes() []placementdb.Index { return nil }
