// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"

	"github.com/majewsky/gg/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sapcc/placement-engine/internal/allocations"
	"github.com/sapcc/placement-engine/internal/classes"
	"github.com/sapcc/placement-engine/internal/inventories"
	"github.com/sapcc/placement-engine/internal/providers"
	"github.com/sapcc/placement-engine/internal/traits"
)

var tracer = otel.Tracer("placement/matcher")

// Matcher generates allocation candidates against the current inventory
// and usage snapshot.
type Matcher struct {
	providers   *providers.Store
	inventories *inventories.Store
	allocations *allocations.Store
	classes     *classes.Registry
	traits      *traits.Registry

	defaultLimit        int
	maxCartesianProduct int
}

// NewMatcher builds a Matcher over the given stores. defaultLimit is used
// when a Request doesn't specify one (0 disables the default).
// maxCartesianProduct bounds how many group-choice tuples the composer
// will examine before giving up (0 disables the bound).
func NewMatcher(p *providers.Store, i *inventories.Store, a *allocations.Store, c *classes.Registry, t *traits.Registry, defaultLimit, maxCartesianProduct int) *Matcher {
	return &Matcher{providers: p, inventories: i, allocations: a, classes: c, traits: t, defaultLimit: defaultLimit, maxCartesianProduct: maxCartesianProduct}
}

func (m *Matcher) hasTrait(providerID int32, name string) bool {
	for _, t := range m.providers.TraitsOf(context.Background(), providerID) {
		if t == name {
			return true
		}
	}
	return false
}

func (m *Matcher) aggregateSet(providerID int32) map[string]struct{} {
	out := map[string]struct{}{}
	for _, a := range m.providers.AggregatesOf(context.Background(), providerID) {
		out[a] = struct{}{}
	}
	return out
}

// Match runs candidate generation for req, respecting its limit and
// group policy. On context expiry it returns whatever candidates were
// already materialized, with a nil error, per the engine's partial-result
// cancellation contract.
func (m *Matcher) Match(ctx context.Context, req Request) (AllocationCandidates, error) {
	ctx, span := tracer.Start(ctx, "match_request")
	defer span.End()

	if len(req.Groups) == 0 {
		return AllocationCandidates{}, nil
	}

	var treeRootID option.Option[int32]
	if req.TreeRootUUID != "" {
		root, err := m.providers.GetByUUID(ctx, req.TreeRootUUID)
		if err != nil {
			return AllocationCandidates{}, err
		}
		treeRootID = option.Some(root.RootID)
	}

	perGroup := make([][]groupCandidate, len(req.Groups))
	for i, g := range req.Groups {
		if err := ctx.Err(); err != nil {
			return AllocationCandidates{}, nil
		}

		var cands []groupCandidate
		if g.UseSameProvider {
			_, gspan := tracer.Start(ctx, "match_one", trace.WithAttributes())
			single, err := m.matchOne(ctx, g, treeRootID)
			gspan.End()
			if err != nil {
				return AllocationCandidates{}, err
			}
			cands = make([]groupCandidate, len(single))
			for j, c := range single {
				cands[j] = groupCandidate{participants: []providerCandidate{c}}
			}
		} else {
			_, gspan := tracer.Start(ctx, "match_split", trace.WithAttributes())
			split, err := m.matchSplit(ctx, g, treeRootID)
			gspan.End()
			if err != nil {
				return AllocationCandidates{}, err
			}
			cands = split
		}

		if len(cands) == 0 {
			// One empty group makes the whole request unsatisfiable.
			return AllocationCandidates{}, nil
		}
		perGroup[i] = cands
	}

	if err := ctx.Err(); err != nil {
		return AllocationCandidates{}, nil
	}

	limit := req.Limit
	if limit == 0 {
		limit = m.defaultLimit
	}

	_, tspan := tracer.Start(ctx, "tree_with_sharing")
	defer tspan.End()
	return m.compose(ctx, req.Groups, perGroup, req.GroupPolicy, limit, req.RandomizeOrder)
}
