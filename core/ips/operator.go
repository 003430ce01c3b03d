package ips

import (
	"context"
	"time"

	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/infra/metrics"
)

// Operator runs one reconciliation invocation end to end. It holds no state
// between invocations; the rule catalog is fetched and indexed on every Run.
type Operator struct {
	backend Backend
	metrics metrics.Metrics
}

func NewOperator(backend Backend, m metrics.Metrics) *Operator {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Operator{backend: backend, metrics: m}
}

// Run reconciles req against the backend. A non-nil error means the
// invocation failed without an Outcome: either a *FatalError or a backend
// failure. Unmapped CVEs yield a 400 Outcome and no mutation.
func (o *Operator) Run(ctx context.Context, req Request, log *logging.Logger) (Outcome, error) {
	start := time.Now()
	outcome, err := o.run(ctx, req, log)
	o.metrics.ObserveInvocation(req.Direction.String(), statusLabel(outcome, err), time.Since(start).Seconds())
	if err != nil {
		o.metrics.IncFatal(Reason(err))
	}
	return outcome, err
}

func (o *Operator) run(ctx context.Context, req Request, log *logging.Logger) (Outcome, error) {
	cve := NormalizeCVE(req.CVE)
	log.Info("Received inputs", "cve", cve, "hostname", req.Hostname, "policy_name", req.PolicyName, "direction", req.Direction)

	endpoint, err := NewEndpointBinder(o.backend, log).Bind(ctx, req.Hostname)
	if err != nil {
		return Outcome{}, err
	}
	if endpoint.Hostname == "" {
		endpoint.Hostname = req.Hostname
	}
	if endpoint.PolicyID == nil && req.PolicyName == "" {
		return Outcome{}, Fatal(ErrPolicyRequired,
			`Invalid configuration. As %s does not currently have a policy applied to it, the "policy_name" parameter must be set`, req.Hostname)
	}

	log.Info("Checking if IPS rule(s) exist", "cve", cve)
	catalog, err := o.backend.Rules(ctx)
	if err != nil {
		return Outcome{}, err
	}
	index := BuildIndex(catalog)
	log.Debug("Indexed rule catalog", "rules", len(catalog), "cves", index.Len())

	ruleIDs := index.Lookup(cve)
	if len(ruleIDs) == 0 {
		outcome := unmappedCVE(cve)
		log.Critical(outcome.Body)
		return outcome, nil
	}
	log.Info("CVE maps to IPS rule(s)", "cve", cve, "rule_ids", JoinIDs(ruleIDs))

	if req.PolicyName == "" {
		log.Info(`As the "policy_name" parameter was not provided, locating the policy currently applied to the computer`)
	}
	policy, err := NewPolicyResolver(o.backend, log).Resolve(ctx, req.PolicyName, endpoint.PolicyID)
	if err != nil {
		return Outcome{}, err
	}

	engine := NewReconciliationEngine(o.backend, log, o.metrics)
	outcome, err := engine.Reconcile(ctx, req.Direction, Target{Endpoint: endpoint, Policy: policy, RuleIDs: ruleIDs})
	if err != nil {
		return Outcome{}, err
	}
	log.Info("Finished")
	return outcome, nil
}

func statusLabel(outcome Outcome, err error) string {
	if err != nil {
		return "fatal"
	}
	return outcome.Status()
}
