// Package ipstest provides an in-memory ips.Backend for tests.
package ipstest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cordum/ipspatch/core/ips"
)

// Call records one backend mutation.
type Call struct {
	Op         string
	PolicyID   int
	EndpointID int
	RuleIDs    []int
	Name       string
}

// Backend is an in-memory backend. Mutations are applied to its state and
// recorded in Calls.
type Backend struct {
	mu        sync.Mutex
	Catalog   []ips.Rule
	Endpoints map[string]ips.Endpoint
	Policies  map[int]*ips.Policy
	Calls     []Call
	NextID    int

	// Err, when set, is returned by the operation named by ErrOn.
	Err   error
	ErrOn string
}

func New() *Backend {
	return &Backend{
		Endpoints: make(map[string]ips.Endpoint),
		Policies:  make(map[int]*ips.Policy),
		NextID:    100,
	}
}

// AddRule appends a catalog entry.
func (b *Backend) AddRule(id int, cves ...string) *Backend {
	b.Catalog = append(b.Catalog, ips.Rule{ID: id, Name: fmt.Sprintf("rule-%d", id), CVEs: cves})
	return b
}

// AddPolicy registers a policy with the given applied rules.
func (b *Backend) AddPolicy(id int, name string, ruleIDs ...int) *Backend {
	b.Policies[id] = &ips.Policy{ID: id, Name: name, RuleIDs: append([]int(nil), ruleIDs...)}
	return b
}

// AddEndpoint registers a computer. policyID 0 means no policy.
func (b *Backend) AddEndpoint(id int, hostname string, policyID int) *Backend {
	ep := ips.Endpoint{ID: id, Hostname: hostname}
	if policyID != 0 {
		pid := policyID
		ep.PolicyID = &pid
	}
	b.Endpoints[hostname] = ep
	return b
}

// Mutations returns the recorded calls for op.
func (b *Backend) Mutations(op string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Call
	for _, c := range b.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (b *Backend) fail(op string) error {
	if b.Err != nil && (b.ErrOn == "" || b.ErrOn == op) {
		return b.Err
	}
	return nil
}

func (b *Backend) Rules(ctx context.Context) ([]ips.Rule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("Rules"); err != nil {
		return nil, err
	}
	return append([]ips.Rule(nil), b.Catalog...), nil
}

func (b *Backend) EndpointByHostname(ctx context.Context, hostname string) (ips.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("EndpointByHostname"); err != nil {
		return ips.Endpoint{}, err
	}
	ep, ok := b.Endpoints[hostname]
	if !ok {
		return ips.Endpoint{}, fmt.Errorf("hostname %q: %w", hostname, ips.ErrEndpointNotFound)
	}
	return ep, nil
}

func (b *Backend) PolicyByName(ctx context.Context, name string) (ips.Policy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("PolicyByName"); err != nil {
		return ips.Policy{}, err
	}
	for _, p := range b.Policies {
		if p.Name == name {
			return clonePolicy(p), nil
		}
	}
	return ips.Policy{}, fmt.Errorf("policy %q: %w", name, ips.ErrPolicyNotFound)
}

func (b *Backend) PolicyByID(ctx context.Context, id int) (ips.Policy, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("PolicyByID"); err != nil {
		return ips.Policy{}, err
	}
	p, ok := b.Policies[id]
	if !ok {
		return ips.Policy{}, fmt.Errorf("policy %d: %w", id, ips.ErrPolicyNotFound)
	}
	return clonePolicy(p), nil
}

func (b *Backend) CreatePolicy(ctx context.Context, name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("CreatePolicy"); err != nil {
		return 0, err
	}
	b.NextID++
	id := b.NextID
	b.Policies[id] = &ips.Policy{ID: id, Name: name}
	b.Calls = append(b.Calls, Call{Op: "CreatePolicy", PolicyID: id, Name: name})
	return id, nil
}

func (b *Backend) AddRules(ctx context.Context, policyID int, ruleIDs []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("AddRules"); err != nil {
		return err
	}
	p, ok := b.Policies[policyID]
	if !ok {
		return fmt.Errorf("policy %d: %w", policyID, ips.ErrPolicyNotFound)
	}
	set := make(map[int]struct{}, len(p.RuleIDs)+len(ruleIDs))
	for _, id := range p.RuleIDs {
		set[id] = struct{}{}
	}
	for _, id := range ruleIDs {
		set[id] = struct{}{}
	}
	p.RuleIDs = keys(set)
	b.Calls = append(b.Calls, Call{Op: "AddRules", PolicyID: policyID, RuleIDs: append([]int(nil), ruleIDs...)})
	return nil
}

func (b *Backend) RemoveRules(ctx context.Context, policyID int, ruleIDs []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("RemoveRules"); err != nil {
		return err
	}
	p, ok := b.Policies[policyID]
	if !ok {
		return fmt.Errorf("policy %d: %w", policyID, ips.ErrPolicyNotFound)
	}
	set := make(map[int]struct{}, len(p.RuleIDs))
	for _, id := range p.RuleIDs {
		set[id] = struct{}{}
	}
	for _, id := range ruleIDs {
		delete(set, id)
	}
	p.RuleIDs = keys(set)
	b.Calls = append(b.Calls, Call{Op: "RemoveRules", PolicyID: policyID, RuleIDs: append([]int(nil), ruleIDs...)})
	return nil
}

func (b *Backend) SetEndpointPolicy(ctx context.Context, endpointID, policyID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail("SetEndpointPolicy"); err != nil {
		return err
	}
	for host, ep := range b.Endpoints {
		if ep.ID == endpointID {
			pid := policyID
			ep.PolicyID = &pid
			b.Endpoints[host] = ep
		}
	}
	b.Calls = append(b.Calls, Call{Op: "SetEndpointPolicy", PolicyID: policyID, EndpointID: endpointID})
	return nil
}

func clonePolicy(p *ips.Policy) ips.Policy {
	return ips.Policy{ID: p.ID, Name: p.Name, RuleIDs: append([]int(nil), p.RuleIDs...)}
}

func keys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
