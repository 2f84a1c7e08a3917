// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package commit implements the commit engine: transactional,
// generation-checked replacement of a set of consumers' allocations.
package commit

import (
	"context"
	"errors"
	"strings"

	"github.com/go-gorp/gorp"
	"go.opentelemetry.io/otel"

	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/gen"
	"github.com/sapcc/placement-engine/internal/inventories"
	"github.com/sapcc/placement-engine/internal/perr"
)

var tracer = otel.Tracer("placement/matcher")

const maxDeadlockRetries = 3

// ConsumerAllocation is the desired state of one resource on one provider
// for one consumer, as part of a ConsumerAllocationSet. ProviderGeneration
// is the generation the caller last observed for ProviderUUID; every row
// referencing the same provider within one Replace call must carry the
// same value.
type ConsumerAllocation struct {
	ProviderUUID       string
	ProviderGeneration int32
	ClassName          string
	Amount             int64
}

// ConsumerAllocationSet is the full desired allocation list for one
// consumer, replacing whatever it previously held.
type ConsumerAllocationSet struct {
	ConsumerUUID       string
	ConsumerGeneration int32 // generation the caller last observed; 0 on first write
	Allocations        []ConsumerAllocation
}

// Engine commits allocation replacements atomically, enforcing capacity
// and generation invariants.
type Engine struct {
	db  *placementdb.DB
	gen gen.Monitor
}

// NewEngine builds an Engine. onGenerationWrap, if non-nil, fires whenever
// a provider or consumer generation counter wraps during a commit.
func NewEngine(d *placementdb.DB, onGenerationWrap func()) *Engine {
	return &Engine{db: d, gen: gen.NewMonitor(onGenerationWrap)}
}

// Replace commits every set in sets as a single atomic transaction:
// either all consumers end up with their desired allocations, or none do.
func (e *Engine) Replace(ctx context.Context, sets []ConsumerAllocationSet) error {
	_, span := tracer.Start(ctx, "replace_allocations")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= maxDeadlockRetries; attempt++ {
		err := e.replaceOnce(ctx, sets)
		if err == nil {
			return nil
		}
		if !isDeadlock(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (e *Engine) replaceOnce(ctx context.Context, sets []ConsumerAllocationSet) error {
	tx, err := e.db.DbMap.Begin()
	if err != nil {
		return &perr.InternalError{Cause: err}
	}
	commitErr := e.withTx(ctx, tx, sets)
	if commitErr != nil {
		_ = tx.Rollback()
		return commitErr
	}
	if err := tx.Commit(); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

func (e *Engine) withTx(ctx context.Context, tx gorp.SqlExecutor, sets []ConsumerAllocationSet) error {
	touchedProviders := map[string]int32{} // provider uuid -> expected generation

	for _, set := range sets {
		if err := e.ensureConsumerGeneration(tx, set.ConsumerUUID, set.ConsumerGeneration); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM allocations WHERE consumer_uuid = ?", set.ConsumerUUID); err != nil {
			return &perr.InternalError{Cause: err}
		}
		for _, a := range set.Allocations {
			providerID, err := e.providerID(tx, a.ProviderUUID)
			if err != nil {
				return err
			}
			classID, err := e.classID(tx, a.ClassName)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(
				"INSERT INTO allocations (consumer_uuid, resource_provider_id, resource_class_id, used) VALUES (?, ?, ?, ?)",
				set.ConsumerUUID, providerID, classID, a.Amount,
			); err != nil {
				return &perr.InternalError{Cause: err}
			}
			if expected, ok := touchedProviders[a.ProviderUUID]; ok {
				if expected != a.ProviderGeneration {
					return &perr.ValidationError{Field: "allocations", Reason: "conflicting expected generation for provider " + a.ProviderUUID}
				}
			} else {
				touchedProviders[a.ProviderUUID] = a.ProviderGeneration
			}
		}
	}

	for providerUUID, expectedGen := range touchedProviders {
		if err := e.checkCapacity(tx, providerUUID); err != nil {
			return err
		}
		if err := e.checkAndBumpProviderGeneration(tx, providerUUID, expectedGen); err != nil {
			return err
		}
	}
	for _, set := range sets {
		if err := e.bumpConsumerGeneration(tx, set.ConsumerUUID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) providerID(tx gorp.SqlExecutor, providerUUID string) (int32, error) {
	var id int32
	if err := tx.SelectOne(&id, "SELECT id FROM resource_providers WHERE uuid = ?", providerUUID); err != nil {
		return 0, &perr.NotFoundError{Kind: "provider", ID: providerUUID}
	}
	return id, nil
}

func (e *Engine) classID(tx gorp.SqlExecutor, className string) (int32, error) {
	var id int32
	if err := tx.SelectOne(&id, "SELECT id FROM resource_classes WHERE name = ?", className); err != nil {
		return 0, &perr.NotFoundError{Kind: "resource_class", ID: className}
	}
	return id, nil
}

// ensureConsumerGeneration checks that the caller's expected generation
// matches the stored consumer row. A missing row is accepted only when
// expectedGen is 0 (first write); it does not create the row.
func (e *Engine) ensureConsumerGeneration(tx gorp.SqlExecutor, consumerUUID string, expectedGen int32) error {
	var current int32
	err := tx.SelectOne(&current, "SELECT generation FROM consumers WHERE uuid = ?", consumerUUID)
	if err != nil {
		if expectedGen != 0 {
			return &perr.NotFoundError{Kind: "consumer", ID: consumerUUID}
		}
		return nil // fresh consumer; caller creates the row via internal/consumers before committing
	}
	if current != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "consumer", ID: consumerUUID, ExpectedGen: expectedGen, CurrentGeneration: current}
	}
	return nil
}

func (e *Engine) bumpConsumerGeneration(tx gorp.SqlExecutor, consumerUUID string) error {
	var current int32
	if err := tx.SelectOne(&current, "SELECT generation FROM consumers WHERE uuid = ?", consumerUUID); err != nil {
		return nil // consumer has no row yet (allocation-free request); nothing to bump
	}
	next := e.gen.BumpTracked(current)
	if _, err := tx.Exec("UPDATE consumers SET generation = ? WHERE uuid = ?", next, consumerUUID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

// checkAndBumpProviderGeneration asserts a provider's current generation
// equals expectedGen before bumping it, mirroring ensureConsumerGeneration
// for the provider side of a commit (spec step: assert every involved
// provider's generation, step: bump it).
func (e *Engine) checkAndBumpProviderGeneration(tx gorp.SqlExecutor, providerUUID string, expectedGen int32) error {
	var current int32
	if err := tx.SelectOne(&current, "SELECT generation FROM resource_providers WHERE uuid = ?", providerUUID); err != nil {
		return &perr.NotFoundError{Kind: "provider", ID: providerUUID}
	}
	if current != expectedGen {
		return &perr.ConcurrentUpdateError{Kind: "provider", ID: providerUUID, ExpectedGen: expectedGen, CurrentGeneration: current}
	}
	next := e.gen.BumpTracked(current)
	if _, err := tx.Exec("UPDATE resource_providers SET generation = ? WHERE uuid = ?", next, providerUUID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	return nil
}

func (e *Engine) checkCapacity(tx gorp.SqlExecutor, providerUUID string) error {
	var providerID int32
	if err := tx.SelectOne(&providerID, "SELECT id FROM resource_providers WHERE uuid = ?", providerUUID); err != nil {
		return &perr.NotFoundError{Kind: "provider", ID: providerUUID}
	}
	var invRows []struct {
		ResourceClassID int32   `db:"resource_class_id"`
		Total           int64   `db:"total"`
		Reserved        int64   `db:"reserved"`
		AllocationRatio float64 `db:"allocation_ratio"`
	}
	if _, err := tx.Select(&invRows, "SELECT resource_class_id, total, reserved, allocation_ratio FROM inventories WHERE resource_provider_id = ?", providerID); err != nil {
		return &perr.InternalError{Cause: err}
	}
	for _, inv := range invRows {
		var used int64
		if err := tx.SelectOne(&used, "SELECT COALESCE(SUM(used),0) FROM allocations WHERE resource_provider_id = ? AND resource_class_id = ?", providerID, inv.ResourceClassID); err != nil {
			return &perr.InternalError{Cause: err}
		}
		effective := inventories.Inventory{Total: inv.Total, Reserved: inv.Reserved, AllocationRatio: inv.AllocationRatio}.EffectiveCapacity()
		if used > effective {
			var className string
			_ = tx.SelectOne(&className, "SELECT name FROM resource_classes WHERE id = ?", inv.ResourceClassID)
			return &perr.CapacityExceededError{ProviderUUID: providerUUID, ResourceClass: className, Requested: used, EffectiveCapacity: effective}
		}
	}
	return nil
}

func isDeadlock(err error) bool {
	var ierr *perr.InternalError
	if !errors.As(err, &ierr) {
		return false
	}
	msg := ierr.Cause.Error()
	return strings.Contains(msg, "deadlock") || strings.Contains(msg, "has already been committed or rolled back")
}
