// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package adapter is the external facade: it resolves names to internal
// ids once at the request boundary, then drives the matcher and commit
// engine purely in terms of ids, and translates their results back into
// uuid/name-keyed shapes a collaborator can hand to a wire format.
package adapter

import (
	"context"

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
)

// ConsumerScope carries the project/user a commit's consumer belongs to,
// so a collaborator's policy layer has something concrete to check
// without re-deriving scope from raw uuids.
type ConsumerScope struct {
	ProjectID string
	UserID    string
}

// ParsedResourceRequest is one class/amount pair in a request group.
type ParsedResourceRequest struct {
	ClassName string
	Amount    int64
}

// ParsedRequestGroup mirrors matcher.RequestGroup at the adapter boundary,
// using names instead of internal ids. UseSameProvider distinguishes a
// granular group (every resource from one provider) from the unnumbered
// group (resources may split across a tree/sharing set); a caller that
// omits it gets the conventional default keyed on Key, since an empty
// suffix names the unnumbered group.
type ParsedRequestGroup struct {
	Key                 string
	Resources           []ParsedResourceRequest
	RequiredTraits      []string
	ForbiddenTraits     []string
	MemberOf            [][]string
	ForbiddenAggregates []string
	UseSameProvider     option.Option[bool]
}

// ParsedRequest is a fully-validated candidate-generation request.
// TreeRootUUID, when set, restricts matching to the single tree rooted
// at that provider.
type ParsedRequest struct {
	Groups         []ParsedRequestGroup
	GroupPolicy    matcher.GroupPolicy
	Limit          int
	RandomizeOrder option.Option[bool]
	TreeRootUUID   string
}

// ParsedAllocation is one desired (provider, class, amount) triple, plus
// the generation the caller last observed for that provider. Every
// ParsedAllocation referencing the same ProviderUUID within one
// ParsedConsumerAllocations must carry the same ProviderGeneration.
type ParsedAllocation struct {
	ProviderUUID       string
	ProviderGeneration int32
	ClassName          string
	Amount             int64
}

// ParsedConsumerAllocations is the desired allocation state for one
// consumer, plus the scope and expected generation needed to commit it.
type ParsedConsumerAllocations struct {
	ConsumerUUID       string
	ConsumerGeneration int32
	ProjectExternalID  string
	UserExternalID     string
	ConsumerTypeExternalID string
	Scope              ConsumerScope
	Allocations        []ParsedAllocation
}

// AllocationCandidates mirrors matcher.AllocationCandidates at the
// adapter boundary.
type AllocationCandidates = matcher.AllocationCandidates

// Engine composes every store plus the matcher and commit engine behind
// one facade.
type Engine struct {
	Classes     *classes.Registry
	Traits      *traits.Registry
	Providers   *providers.Store
	Inventories *inventories.Store
	Consumers   *consumers.Store
	Allocations *allocations.Store
	Matcher     *matcher.Matcher
	Commit      *commit.Engine

	randomizeDefault bool
}

// NewEngine wires an Engine from already-constructed stores.
func NewEngine(
	c *classes.Registry, t *traits.Registry, p *providers.Store, i *inventories.Store,
	cons *consumers.Store, a *allocations.Store, m *matcher.Matcher, ce *commit.Engine,
	randomizeDefault bool,
) *Engine {
	return &Engine{
		Classes: c, Traits: t, Providers: p, Inventories: i,
		Consumers: cons, Allocations: a, Matcher: m, Commit: ce,
		randomizeDefault: randomizeDefault,
	}
}

// Init creates every backing table across all owned stores.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.Classes.Init(ctx); err != nil {
		return err
	}
	if err := e.Traits.Init(ctx); err != nil {
		return err
	}
	if err := e.Providers.Init(ctx); err != nil {
		return err
	}
	if err := e.Inventories.Init(ctx); err != nil {
		return err
	}
	if err := e.Consumers.Init(ctx); err != nil {
		return err
	}
	return e.Allocations.Init(ctx)
}

// GetAllocationCandidates resolves req's names to internal ids implicitly
// (the matcher resolves classes itself; traits/aggregates are passed
// through as names since the provider store filters on them directly)
// and runs candidate generation.
func (e *Engine) GetAllocationCandidates(ctx context.Context, req ParsedRequest) (AllocationCandidates, error) {
	if len(req.Groups) == 0 {
		return AllocationCandidates{}, &perr.ValidationError{Field: "groups", Reason: "at least one request group is required"}
	}
	groups := make([]matcher.RequestGroup, len(req.Groups))
	for i, g := range req.Groups {
		resources := make([]matcher.ResourceRequest, len(g.Resources))
		for j, r := range g.Resources {
			if r.Amount <= 0 {
				return AllocationCandidates{}, &perr.ValidationError{Field: "amount", Reason: "must be positive"}
			}
			resources[j] = matcher.ResourceRequest{ClassName: r.ClassName, Amount: r.Amount}
		}
		useSameProvider := g.Key != "" // numbered groups are granular by default
		if v, ok := g.UseSameProvider.Unpack(); ok {
			useSameProvider = v
		}
		groups[i] = matcher.RequestGroup{
			Key: g.Key, Resources: resources,
			RequiredTraits: g.RequiredTraits, ForbiddenTraits: g.ForbiddenTraits,
			MemberOf: g.MemberOf, ForbiddenAggregates: g.ForbiddenAggregates,
			UseSameProvider: useSameProvider,
		}
	}
	policy := req.GroupPolicy
	if policy == "" {
		policy = matcher.GroupPolicyNone
	}
	randomize := e.randomizeDefault
	if v, ok := req.RandomizeOrder.Unpack(); ok {
		randomize = v
	}
	return e.Matcher.Match(ctx, matcher.Request{
		Groups: groups, GroupPolicy: policy, Limit: req.Limit, RandomizeOrder: randomize,
		TreeRootUUID: req.TreeRootUUID,
	})
}

// SetAllocations validates and commits a batch of consumer allocation
// replacements as a single atomic transaction.
func (e *Engine) SetAllocations(ctx context.Context, sets []ParsedConsumerAllocations) error {
	commitSets := make([]commit.ConsumerAllocationSet, 0, len(sets))
	for _, set := range sets {
		if _, err := e.Consumers.Ensure(ctx, set.ConsumerUUID, set.ProjectExternalID, set.UserExternalID, set.ConsumerTypeExternalID); err != nil {
			return err
		}
		allocs := make([]commit.ConsumerAllocation, len(set.Allocations))
		for i, a := range set.Allocations {
			if a.Amount < 0 {
				return &perr.ValidationError{Field: "amount", Reason: "must not be negative"}
			}
			allocs[i] = commit.ConsumerAllocation{
				ProviderUUID: a.ProviderUUID, ProviderGeneration: a.ProviderGeneration,
				ClassName: a.ClassName, Amount: a.Amount,
			}
		}
		commitSets = append(commitSets, commit.ConsumerAllocationSet{
			ConsumerUUID: set.ConsumerUUID, ConsumerGeneration: set.ConsumerGeneration, Allocations: allocs,
		})
	}
	return e.Commit.Replace(ctx, commitSets)
}

// CreateProvider creates a new resource provider, optionally parented
// under an existing one.
func (e *Engine) CreateProvider(ctx context.Context, name string, parentUUID option.Option[string]) (*providers.ResourceProvider, error) {
	return e.Providers.Create(ctx, name, parentUUID)
}

// GetProvider resolves a provider by uuid.
func (e *Engine) GetProvider(ctx context.Context, providerUUID string) (*providers.ResourceProvider, error) {
	return e.Providers.GetByUUID(ctx, providerUUID)
}

// DeleteProvider removes a childless provider.
func (e *Engine) DeleteProvider(ctx context.Context, providerUUID string, expectedGen int32) error {
	return e.Providers.Delete(ctx, providerUUID, expectedGen)
}

// ParsedInventory is one resource class's capacity record, keyed by name
// instead of internal id.
type ParsedInventory struct {
	ClassName       string
	Total           int64
	Reserved        int64
	MinUnit         int64
	MaxUnit         int64
	StepSize        int64
	AllocationRatio float64
}

// SetInventories replaces a provider's full inventory set.
func (e *Engine) SetInventories(ctx context.Context, providerUUID string, expectedGen int32, invs []ParsedInventory) error {
	p, err := e.Providers.GetByUUID(ctx, providerUUID)
	if err != nil {
		return err
	}
	resolved := make([]inventories.Inventory, len(invs))
	for i, inv := range invs {
		classID, err := e.Classes.Ensure(ctx, inv.ClassName)
		if err != nil {
			return err
		}
		resolved[i] = inventories.Inventory{
			ProviderID: p.ID, ClassID: classID,
			Total: inv.Total, Reserved: inv.Reserved, MinUnit: inv.MinUnit,
			MaxUnit: inv.MaxUnit, StepSize: inv.StepSize, AllocationRatio: inv.AllocationRatio,
		}
	}
	return e.Inventories.ReplaceAll(ctx, p.ID, expectedGen, resolved, e.Allocations.Usage)
}

// ListInventories returns a provider's current inventory set, by name.
func (e *Engine) ListInventories(ctx context.Context, providerUUID string) ([]ParsedInventory, error) {
	p, err := e.Providers.GetByUUID(ctx, providerUUID)
	if err != nil {
		return nil, err
	}
	invs, err := e.Inventories.List(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ParsedInventory, len(invs))
	for i, inv := range invs {
		name, _ := e.Classes.NameOf(inv.ClassID)
		out[i] = ParsedInventory{
			ClassName: name, Total: inv.Total, Reserved: inv.Reserved, MinUnit: inv.MinUnit,
			MaxUnit: inv.MaxUnit, StepSize: inv.StepSize, AllocationRatio: inv.AllocationRatio,
		}
	}
	return out, nil
}
