// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package perr defines the placement engine's error taxonomy. Every error
// the engine returns to a collaborator is one of these concrete kinds, so
// a caller can `errors.As` into it and map it to a transport status code.
package perr

import "fmt"

// NotFoundError reports that a provider, consumer, trait, class, or
// aggregate could not be resolved.
type NotFoundError struct {
	Kind string // "provider", "consumer", "trait", "resource_class", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ValidationError reports malformed input: unknown trait/class names,
// non-positive amounts, unknown request fields, bad aggregate sets.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConcurrentUpdateError reports a generation mismatch on a provider or
// consumer write.
type ConcurrentUpdateError struct {
	Kind              string // "provider" or "consumer"
	ID                string
	ExpectedGen       int32
	CurrentGeneration int32
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf(
		"%s %q: generation conflict, expected %d but current is %d",
		e.Kind, e.ID, e.ExpectedGen, e.CurrentGeneration,
	)
}

// CapacityExceededError reports that a commit would over-subscribe a
// provider's effective capacity for a resource class.
type CapacityExceededError struct {
	ProviderUUID    string
	ResourceClass   string
	Requested       int64
	EffectiveCapacity int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf(
		"provider %q: requested %d %s exceeds effective capacity %d",
		e.ProviderUUID, e.Requested, e.ResourceClass, e.EffectiveCapacity,
	)
}

// InvariantViolationError reports an operation that would strand
// allocations, create a tree cycle, or violate a uniqueness constraint.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Reason
}

// InternalError wraps an unexpected store failure.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }
