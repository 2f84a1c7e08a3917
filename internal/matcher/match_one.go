// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"

	"github.com/majewsky/gg/option"

	"github.com/sapcc/placement-engine/internal/allocations"
	"github.com/sapcc/placement-engine/internal/perr"
	"github.com/sapcc/placement-engine/internal/providers"
)

const sharesViaAggregate = "MISC_SHARES_VIA_AGGREGATE"

// matchOne finds every provider that alone can satisfy a single granular
// request group: its trait and aggregate constraints, plus admissible
// inventory for every requested resource class. Sharing providers
// (tagged MISC_SHARES_VIA_AGGREGATE and reachable through one of the
// group's required aggregates) are folded into the same candidate set
// under the same rule: each must alone satisfy every requested class.
func (m *Matcher) matchOne(ctx context.Context, group RequestGroup, treeRootID option.Option[int32]) ([]providerCandidate, error) {
	classIDs := make(map[string]int32, len(group.Resources))
	for _, r := range group.Resources {
		id, ok := m.classes.IDOf(r.ClassName)
		if !ok {
			return nil, &perr.NotFoundError{Kind: "resource_class", ID: r.ClassName}
		}
		classIDs[r.ClassName] = id
	}

	filter := providers.Filter{
		RequiredTraits:      group.RequiredTraits,
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
		amounts := make(map[string]int64, len(group.Resources))
		admissible := true
		for _, r := range group.Resources {
			classID := classIDs[r.ClassName]
			inv, err := m.inventories.Get(ctx, p.ID, classID)
			if err != nil {
				admissible = false
				break
			}
			used := usage[allocations.ProviderClassKey{ProviderID: p.ID, ClassID: classID}]
			if !inv.Admissible(r.Amount, used) {
				admissible = false
				break
			}
			amounts[r.ClassName] = r.Amount
		}
		if !admissible {
			continue
		}
		out = append(out, providerCandidate{
			providerID: p.ID,
			uuid:       p.UUID,
			rootID:     p.RootID,
			sharing:    m.hasTrait(p.ID, sharesViaAggregate),
			aggregates: m.aggregateSet(p.ID),
			amounts:    amounts,
		})
	}
	return out, nil
}

// sharingProviders lists the providers reachable through one of the
// group's member_of aggregate expressions that additionally carry
// MISC_SHARES_VIA_AGGREGATE, still respecting the group's forbidden
// traits and aggregates.
func (m *Matcher) sharingProviders(ctx context.Context, group RequestGroup) ([]providers.ResourceProvider, error) {
	if len(group.MemberOf) == 0 {
		return nil, nil
	}
	return m.providers.List(ctx, providers.Filter{
		RequiredTraits:      []string{sharesViaAggregate},
		ForbiddenTraits:     group.ForbiddenTraits,
		MemberOf:            group.MemberOf,
		ForbiddenAggregates: group.ForbiddenAggregates,
	})
}

func unionProviders(lists ...[]providers.ResourceProvider) []providers.ResourceProvider {
	seen := map[int32]bool{}
	var out []providers.ResourceProvider
	for _, list := range lists {
		for _, p := range list {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out
}

