package ips

import "context"

// Backend is the security-management API used by the reconciler. Lookups
// return ErrEndpointNotFound or ErrPolicyNotFound (possibly wrapped) when
// nothing matches; any other error is a transport failure.
type Backend interface {
	Rules(ctx context.Context) ([]Rule, error)
	EndpointByHostname(ctx context.Context, hostname string) (Endpoint, error)
	PolicyByName(ctx context.Context, name string) (Policy, error)
	PolicyByID(ctx context.Context, id int) (Policy, error)
	CreatePolicy(ctx context.Context, name string) (int, error)
	AddRules(ctx context.Context, policyID int, ruleIDs []int) error
	RemoveRules(ctx context.Context, policyID int, ruleIDs []int) error
	SetEndpointPolicy(ctx context.Context, endpointID, policyID int) error
}
