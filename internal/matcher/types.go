// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package matcher implements candidate generation: given one or more
// request groups of resource/trait/aggregate constraints, it produces the
// set of resource-provider combinations that could jointly satisfy them.
package matcher

// GroupPolicy controls whether distinct request groups may resolve to
// the same resource provider.
type GroupPolicy string

const (
	// GroupPolicyNone allows two groups to land on the same provider.
	GroupPolicyNone GroupPolicy = "none"
	// GroupPolicyIsolate forces every granular group onto a distinct
	// provider; split groups are exempt.
	GroupPolicyIsolate GroupPolicy = "isolate"
)

// ResourceRequest asks for amount units of a named resource class.
type ResourceRequest struct {
	ClassName string
	Amount    int64
}

// RequestGroup is one granular or unnumbered slice of a request: a set of
// resource amounts plus the trait/aggregate constraints that must be
// satisfied to cover it. UseSameProvider true makes this a granular
// group (every resource from one provider, via matchOne); false makes it
// the tree-with-sharing "split" case, where different classes may be
// served by different providers of one compatible tree/sharing set.
type RequestGroup struct {
	Key                 string // "" for the unsuffixed group, else the numbered suffix
	Resources           []ResourceRequest
	RequiredTraits      []string
	ForbiddenTraits     []string
	MemberOf            [][]string // AND of OR over aggregate uuids
	ForbiddenAggregates []string
	UseSameProvider     bool
}

// Request is a full candidate-generation request. TreeRootUUID, when
// set, restricts every group's matching to the single tree rooted there.
type Request struct {
	Groups         []RequestGroup
	GroupPolicy    GroupPolicy
	Limit          int // 0 means no limit
	RandomizeOrder bool
	TreeRootUUID   string
}

// ProviderShare is one provider's contribution to a group's allocation:
// the classes and amounts it personally supplies.
type ProviderShare struct {
	ProviderUUID string
	Resources    map[string]int64 // class name -> amount
}

// GroupAllocation is the portion of one candidate assigned to a single
// group. A granular group always resolves to exactly one ProviderShare;
// a split unnumbered group may resolve to several, one per provider
// jointly covering its requested classes.
type GroupAllocation struct {
	GroupKey  string
	Providers []ProviderShare
}

// Candidate is one complete way to satisfy every group of a Request.
type Candidate struct {
	Allocations []GroupAllocation
}

// AllocationCandidates is the result of a Match call.
type AllocationCandidates struct {
	Candidates []Candidate
}

// providerCandidate is an internal, id-keyed admissible provider
// carrying enough of the tree index to test compatibility with other
// providers' choices. Its amounts map holds only the classes this
// specific provider would supply, which for a split group's per-class
// candidate is a single entry.
type providerCandidate struct {
	providerID int32
	uuid       string
	rootID     int32
	sharing    bool // carries MISC_SHARES_VIA_AGGREGATE
	aggregates map[string]struct{}
	amounts    map[string]int64 // class name -> amount requested of it
}

// groupCandidate is one admissible way to satisfy an entire request
// group: the set of providers that jointly cover it (one, for a
// granular group; possibly several, for a split unnumbered group).
type groupCandidate struct {
	participants []providerCandidate
}
