// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"
	"sort"

	"github.com/majewsky/gg/option"

	"github.com/sapcc/placement-engine/internal/allocations"
	"github.com/sapcc/placement-engine/internal/perr"
	"github.com/sapcc/placement-engine/internal/providers"
)

// matchSplit implements the tree-with-sharing match for an unnumbered
// group (UseSameProvider = false): each requested resource class may be
// served by a different provider, as long as the providers chosen for
// the group are pairwise tree-compatible (share a root, or bridge via a
// sharing provider's aggregate) and their union covers every required
// trait. A class with no admissible provider at all makes the whole
// group unsatisfiable immediately.
func (m *Matcher) matchSplit(ctx context.Context, group RequestGroup, treeRootID option.Option[int32]) ([]groupCandidate, error) {
	classNames := make([]string, len(group.Resources))
	amountOf := make(map[string]int64, len(group.Resources))
	for i, r := range group.Resources {
		classNames[i] = r.ClassName
		amountOf[r.ClassName] = r.Amount
	}
	sort.Strings(classNames)

	pools := make([][]providerCandidate, len(classNames))
	for i, cn := range classNames {
		cands, err := m.admissibleForClass(ctx, group, ResourceRequest{ClassName: cn, Amount: amountOf[cn]}, treeRootID)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			return nil, nil
		}
		pools[i] = cands
	}

	requiredTraits := make(map[string]bool, len(group.RequiredTraits))
	for _, t := range group.RequiredTraits {
		requiredTraits[t] = true
	}

	var out []groupCandidate
	combo := make([]providerCandidate, len(pools))

	var recurse func(depth int)
	recurse = func(depth int) {
		if depth == len(pools) {
			if !treeCompatible(combo) {
				return
			}
			if len(requiredTraits) > 0 {
				covered := map[string]bool{}
				for _, c := range combo {
					for _, t := range m.providers.TraitsOf(ctx, c.providerID) {
						covered[t] = true
					}
				}
				for t := range requiredTraits {
					if !covered[t] {
						return
					}
				}
			}
			out = append(out, groupCandidate{participants: mergeByProvider(combo)})
			return
		}
		for _, c := range pools[depth] {
			combo[depth] = c
			recurse(depth + 1)
		}
	}
	recurse(0)
	return out, nil
}

// admissibleForClass finds every provider admissible for one resource
// class of an unnumbered group: forbidden traits/aggregates and
// member_of still apply per-provider (step 1 of the split match), but
// required traits are deferred to the tree-level check in matchSplit,
// since a tree's required trait may be satisfied by a different
// participant than the one serving this class.
func (m *Matcher) admissibleForClass(ctx context.Context, group RequestGroup, r ResourceRequest, treeRootID option.Option[int32]) ([]providerCandidate, error) {
	classID, ok := m.classes.IDOf(r.ClassName)
	if !ok {
		return nil, &perr.NotFoundError{Kind: "resource_class", ID: r.ClassName}
	}

	filter := providers.Filter{
		ForbiddenTraits:     group.ForbiddenTraits,
		MemberOf:            group.MemberOf,
		ForbiddenAggregates: group.ForbiddenAggregates,
		InTree:              treeRootID,
	}
	direct, err := m.providers.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	sharing, err := m.sharingProviders(ctx, group)
	if err != nil {
		return nil, err
	}
	pool := unionProviders(direct, sharing)
	if len(pool) == 0 {
		return nil, nil
	}

	ids := make([]int32, len(pool))
	for i, p := range pool {
		ids[i] = p.ID
	}
	usage, err := m.allocations.UsageView(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]providerCandidate, 0, len(pool))
	for _, p := range pool {
		inv, err := m.inventories.Get(ctx, p.ID, classID)
		if err != nil {
			continue
		}
		used := usage[allocations.ProviderClassKey{ProviderID: p.ID, ClassID: classID}]
		if !inv.Admissible(r.Amount, used) {
			continue
		}
		out = append(out, providerCandidate{
			providerID: p.ID,
			uuid:       p.UUID,
			rootID:     p.RootID,
			sharing:    m.hasTrait(p.ID, sharesViaAggregate),
			aggregates: m.aggregateSet(p.ID),
			amounts:    map[string]int64{r.ClassName: r.Amount},
		})
	}
	return out, nil
}

// mergeByProvider collapses a per-class combination into one
// providerCandidate per distinct provider, merging their per-class
// amounts maps (a single provider may have been chosen for more than
// one class). An amount for a class already present is overwritten, not
// added.
func mergeByProvider(combo []providerCandidate) []providerCandidate {
	byID := map[int32]*providerCandidate{}
	order := make([]int32, 0, len(combo))
	for _, c := range combo {
		if existing, ok := byID[c.providerID]; ok {
			for cn, amt := range c.amounts {
				existing.amounts[cn] = amt
			}
			continue
		}
		cp := c
		cp.amounts = make(map[string]int64, len(c.amounts))
		for cn, amt := range c.amounts {
			cp.amounts[cn] = amt
		}
		byID[c.providerID] = &cp
		order = append(order, c.providerID)
	}
	out := make([]providerCandidate, len(order))
	for i, id := range order {
		out[i] = *byID[id]
	}
	return out
}
