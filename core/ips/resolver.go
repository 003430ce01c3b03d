package ips

import (
	"context"
	"errors"

	"github.com/cordum/ipspatch/core/infra/logging"
)

// ResolvedPolicy is the policy an invocation reconciles against.
type ResolvedPolicy struct {
	ID      int
	Name    string
	RuleIDs []int
	Created bool
}

// PolicyResolver finds the target policy by name or by the endpoint's current
// assignment, creating a named policy when it does not exist yet.
type PolicyResolver struct {
	backend Backend
	log     *logging.Logger
}

func NewPolicyResolver(backend Backend, log *logging.Logger) *PolicyResolver {
	return &PolicyResolver{backend: backend, log: log}
}

// Resolve returns the named policy, or the policy identified by fallbackID
// when name is empty. CreatePolicy is the only creating call in the system;
// it is neither retried nor rolled back.
func (r *PolicyResolver) Resolve(ctx context.Context, name string, fallbackID *int) (ResolvedPolicy, error) {
	if name == "" {
		return r.resolveByID(ctx, fallbackID)
	}

	r.log.Info("Checking if policy exists", "policy_name", name)
	policy, err := r.backend.PolicyByName(ctx, name)
	switch {
	case err == nil:
		r.log.Info("Policy exists", "policy_name", name, "policy_id", policy.ID)
		if policy.Name == "" {
			policy.Name = name
		}
		return ResolvedPolicy{ID: policy.ID, Name: policy.Name, RuleIDs: policy.RuleIDs}, nil
	case errors.Is(err, ErrPolicyNotFound):
	default:
		return ResolvedPolicy{}, err
	}

	id, err := r.backend.CreatePolicy(ctx, name)
	if err != nil {
		return ResolvedPolicy{}, err
	}
	r.log.Info("Created policy", "policy_name", name, "policy_id", id)
	return ResolvedPolicy{ID: id, Name: name, Created: true}, nil
}

func (r *PolicyResolver) resolveByID(ctx context.Context, id *int) (ResolvedPolicy, error) {
	if id == nil {
		return ResolvedPolicy{}, Fatal(ErrPolicyRequired, `Invalid configuration. A "policy_name" is required when the computer has no policy applied to it`)
	}
	r.log.Info("Locating the policy currently applied to the computer", "policy_id", *id)
	policy, err := r.backend.PolicyByID(ctx, *id)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return ResolvedPolicy{}, Fatal(ErrPolicyNotFound, "Computer references policy ID %d which does not exist", *id)
		}
		return ResolvedPolicy{}, err
	}
	r.log.Info("Found policy name", "policy_name", policy.Name)
	return ResolvedPolicy{ID: policy.ID, Name: policy.Name, RuleIDs: policy.RuleIDs}, nil
}
