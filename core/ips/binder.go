package ips

import (
	"context"
	"errors"

	"github.com/cordum/ipspatch/core/infra/logging"
)

// EndpointBinder resolves a hostname to the backend's computer record.
type EndpointBinder struct {
	backend Backend
	log     *logging.Logger
}

func NewEndpointBinder(backend Backend, log *logging.Logger) *EndpointBinder {
	return &EndpointBinder{backend: backend, log: log}
}

// Bind looks up hostname. A missing endpoint is fatal to the invocation.
func (b *EndpointBinder) Bind(ctx context.Context, hostname string) (Endpoint, error) {
	ep, err := b.backend.EndpointByHostname(ctx, hostname)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			return Endpoint{}, Fatal(ErrEndpointNotFound, "Cannot find a computer with the hostname %q", hostname)
		}
		return Endpoint{}, err
	}
	b.log.Info("Found computer", "computer_id", ep.ID, "policy_id", policyIDString(ep.PolicyID))
	return ep, nil
}
