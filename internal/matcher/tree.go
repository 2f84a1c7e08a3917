// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"context"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/sapcc/placement-engine/internal/allocations"
)

// compose enumerates the Cartesian product of each group's admissible
// candidate list, keeping only tuples that are tree-compatible, satisfy
// the group policy, and don't jointly over-subscribe any (provider,
// class) pair once every group's amounts are summed, up to limit results
// and maxCartesianProduct tuples examined.
func (m *Matcher) compose(ctx context.Context, groups []RequestGroup, perGroup [][]groupCandidate, policy GroupPolicy, limit int, randomize bool) (AllocationCandidates, error) {
	ordered := make([][]groupCandidate, len(perGroup))
	for i, cands := range perGroup {
		cp := make([]groupCandidate, len(cands))
		copy(cp, cands)
		if randomize {
			rand.Shuffle(len(cp), func(a, b int) { cp[a], cp[b] = cp[b], cp[a] })
		}
		ordered[i] = cp
	}

	var result []Candidate
	seen := map[string]bool{}
	examined := 0
	var firstErr error

	var recurse func(depth int, chosen []groupCandidate) bool // returns true to stop
	recurse = func(depth int, chosen []groupCandidate) bool {
		if depth == len(ordered) {
			examined++
			if m.maxCartesianProduct > 0 && examined > m.maxCartesianProduct {
				return true
			}
			if depth%8 == 0 {
				if err := ctx.Err(); err != nil {
					return true
				}
			}
			flat := flattenParticipants(chosen)
			if !treeCompatible(flat) {
				return false
			}
			if policy == GroupPolicyIsolate && !granularDistinct(groups, chosen) {
				return false
			}
			key := dedupeKeyGroups(chosen)
			if seen[key] {
				return false
			}
			ok, err := m.withinCapacity(ctx, flat)
			if err != nil {
				firstErr = err
				return true
			}
			if !ok {
				return false
			}
			seen[key] = true
			result = append(result, buildCandidate(groups, chosen))
			if limit > 0 && len(result) >= limit {
				return true
			}
			return false
		}
		for _, c := range ordered[depth] {
			if m.maxCartesianProduct > 0 && examined > m.maxCartesianProduct {
				return true
			}
			if err := ctx.Err(); err != nil {
				return true
			}
			if recurse(depth+1, append(chosen, c)) {
				return true
			}
		}
		return false
	}
	recurse(0, make([]groupCandidate, 0, len(ordered)))

	if firstErr != nil {
		return AllocationCandidates{}, firstErr
	}
	return AllocationCandidates{Candidates: result}, nil
}

func flattenParticipants(chosen []groupCandidate) []providerCandidate {
	var out []providerCandidate
	for _, g := range chosen {
		out = append(out, g.participants...)
	}
	return out
}

// treeCompatible reports whether a set of chosen providers could jointly
// belong to one allocation: every pair either shares a root provider, or
// at least one side is a sharing provider reachable through a common
// aggregate. A single-element set is always compatible.
func treeCompatible(chosen []providerCandidate) bool {
	for i := 0; i < len(chosen); i++ {
		for j := i + 1; j < len(chosen); j++ {
			if !pairCompatible(chosen[i], chosen[j]) {
				return false
			}
		}
	}
	return true
}

func pairCompatible(a, b providerCandidate) bool {
	if a.providerID == b.providerID {
		return true
	}
	if a.rootID == b.rootID {
		return true
	}
	if a.sharing && sharesAggregate(a, b) {
		return true
	}
	if b.sharing && sharesAggregate(a, b) {
		return true
	}
	return false
}

func sharesAggregate(a, b providerCandidate) bool {
	for agg := range a.aggregates {
		if _, ok := b.aggregates[agg]; ok {
			return true
		}
	}
	return false
}

// granularDistinct enforces group_policy=isolate: the provider chosen by
// any granular group must differ from every other granular group's
// choice. Unnumbered (split) groups are exempt, since they may
// legitimately span several providers.
func granularDistinct(groups []RequestGroup, chosen []groupCandidate) bool {
	seen := map[int32]bool{}
	for i, g := range groups {
		if !g.UseSameProvider {
			continue
		}
		pid := chosen[i].participants[0].providerID
		if seen[pid] {
			return false
		}
		seen[pid] = true
	}
	return true
}

// withinCapacity re-checks, across every group's amounts in a candidate,
// that no (provider, class) pair would be over-subscribed once its
// requested amounts are summed against current usage. This catches two
// independently-admissible groups landing on the same provider/class.
func (m *Matcher) withinCapacity(ctx context.Context, flat []providerCandidate) (bool, error) {
	type key struct {
		providerID int32
		className  string
	}
	sums := map[key]int64{}
	providerIDs := map[int32]bool{}
	for _, p := range flat {
		providerIDs[p.providerID] = true
		for cn, amt := range p.amounts {
			sums[key{p.providerID, cn}] += amt
		}
	}
	if len(sums) == 0 {
		return true, nil
	}

	ids := make([]int32, 0, len(providerIDs))
	for id := range providerIDs {
		ids = append(ids, id)
	}
	usage, err := m.allocations.UsageView(ctx, ids)
	if err != nil {
		return false, err
	}

	for k, amount := range sums {
		classID, ok := m.classes.IDOf(k.className)
		if !ok {
			return false, nil
		}
		inv, err := m.inventories.Get(ctx, k.providerID, classID)
		if err != nil {
			return false, nil
		}
		used := usage[allocations.ProviderClassKey{ProviderID: k.providerID, ClassID: classID}]
		if used+amount > inv.EffectiveCapacity() {
			return false, nil
		}
	}
	return true, nil
}

func dedupeKeyGroups(chosen []groupCandidate) string {
	var sb strings.Builder
	for _, g := range chosen {
		ids := make([]int, len(g.participants))
		for i, p := range g.participants {
			ids[i] = int(p.providerID)
		}
		sort.Ints(ids)
		sb.WriteByte('|')
		for _, id := range ids {
			sb.WriteByte(',')
			sb.WriteString(strconv.Itoa(id))
		}
	}
	return sb.String()
}

func buildCandidate(groups []RequestGroup, chosen []groupCandidate) Candidate {
	allocs := make([]GroupAllocation, len(chosen))
	for i, g := range chosen {
		shares := make([]ProviderShare, len(g.participants))
		for j, p := range g.participants {
			shares[j] = ProviderShare{ProviderUUID: p.uuid, Resources: p.amounts}
		}
		allocs[i] = GroupAllocation{GroupKey: groups[i].Key, Providers: shares}
	}
	return Candidate{Allocations: allocs}
}
