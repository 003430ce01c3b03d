package ips

import (
	"context"
	"net/http"

	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/infra/metrics"
)

const (
	msgChangesCompleted = "Policy changes were completed successfully"
	msgNoChanges        = "No policy changes were required"
	msgRulesRemoved     = "Successfully removed all relevant IPS rules"
	msgRulesNotApplied  = "Rules are not applied to policy. No changes need to be made"
)

// Plan is the set of mutations one invocation performs. It is computed in
// full before any backend call is made.
type Plan struct {
	Direction  Direction
	PolicyID   int
	PolicyName string
	EndpointID int
	Hostname   string

	// TargetRuleIDs is submitted as-is to AddRules/RemoveRules; Missing and
	// Applied only decide whether that call happens.
	TargetRuleIDs []int
	MissingIDs    []int
	RemoveIDs     []int
	Reassign      bool
	CurrentPolicy *int
}

// AddRules reports whether the plan submits the target set for addition.
func (p Plan) AddRules() bool {
	return p.Direction == DirectionEnable && len(p.MissingIDs) > 0
}

// RemoveRules reports whether the plan submits the target set for removal.
func (p Plan) RemoveRules() bool {
	return p.Direction == DirectionDisable && len(p.RemoveIDs) > 0
}

// Changed reports whether applying the plan mutates backend state.
func (p Plan) Changed() bool {
	return p.AddRules() || p.RemoveRules() || p.Reassign
}

// Target identifies what the reconciliation operates on.
type Target struct {
	Endpoint Endpoint
	Policy   ResolvedPolicy
	RuleIDs  []int
}

// ReconciliationEngine computes and applies the minimal idempotent set of
// changes for one invocation.
type ReconciliationEngine struct {
	backend Backend
	log     *logging.Logger
	metrics metrics.Metrics
}

func NewReconciliationEngine(backend Backend, log *logging.Logger, m metrics.Metrics) *ReconciliationEngine {
	if m == nil {
		m = metrics.Noop{}
	}
	return &ReconciliationEngine{backend: backend, log: log, metrics: m}
}

// PlanFor derives the mutation plan. It performs no I/O.
func PlanFor(direction Direction, t Target) Plan {
	target := newIntSet(t.RuleIDs)
	applied := newIntSet(t.Policy.RuleIDs)
	plan := Plan{
		Direction:     direction,
		PolicyID:      t.Policy.ID,
		PolicyName:    t.Policy.Name,
		EndpointID:    t.Endpoint.ID,
		Hostname:      t.Endpoint.Hostname,
		TargetRuleIDs: target.sorted(),
		CurrentPolicy: t.Endpoint.PolicyID,
	}
	switch direction {
	case DirectionEnable:
		plan.MissingIDs = target.minus(applied)
		plan.Reassign = t.Endpoint.PolicyID == nil || *t.Endpoint.PolicyID != t.Policy.ID
	case DirectionDisable:
		plan.RemoveIDs = target.intersect(applied)
	}
	return plan
}

// Reconcile plans and applies the changes for t in the given direction.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, direction Direction, t Target) (Outcome, error) {
	plan := PlanFor(direction, t)
	return e.Apply(ctx, plan)
}

// Apply executes plan: at most one rule-mutation call and at most one
// policy reassignment.
func (e *ReconciliationEngine) Apply(ctx context.Context, plan Plan) (Outcome, error) {
	if plan.Direction == DirectionDisable {
		return e.applyDisable(ctx, plan)
	}
	return e.applyEnable(ctx, plan)
}

func (e *ReconciliationEngine) applyEnable(ctx context.Context, plan Plan) (Outcome, error) {
	if plan.AddRules() {
		e.log.Info("Rules which need to be applied", "policy_name", plan.PolicyName, "rule_ids", JoinIDs(plan.MissingIDs))
		if err := e.backend.AddRules(ctx, plan.PolicyID, plan.TargetRuleIDs); err != nil {
			return Outcome{}, err
		}
		e.metrics.IncMutations("add_rules")
	} else {
		e.log.Info("All required IPS rules are already applied. No policy modifications are required", "policy_name", plan.PolicyName)
	}

	if plan.Reassign {
		e.log.Info("Computer policy does not match target policy",
			"hostname", plan.Hostname, "current_policy_id", policyIDString(plan.CurrentPolicy), "policy_id", plan.PolicyID)
		if err := e.backend.SetEndpointPolicy(ctx, plan.EndpointID, plan.PolicyID); err != nil {
			return Outcome{}, err
		}
		e.metrics.IncMutations("set_endpoint_policy")
		e.log.Info("Successfully moved computer to policy", "hostname", plan.Hostname, "policy_name", plan.PolicyName)
	} else {
		e.log.Info("Computer is already covered by policy. No computer modifications are required",
			"hostname", plan.Hostname, "policy_name", plan.PolicyName)
	}

	msg := msgNoChanges
	if plan.Changed() {
		msg = msgChangesCompleted
	}
	e.log.Info(msg)
	return Encode(http.StatusOK, msg), nil
}

func (e *ReconciliationEngine) applyDisable(ctx context.Context, plan Plan) (Outcome, error) {
	if !plan.RemoveRules() {
		e.log.Info(msgRulesNotApplied)
		return Encode(http.StatusOK, msgRulesNotApplied), nil
	}
	e.log.Info("Removing rules", "policy_name", plan.PolicyName, "rule_ids", JoinIDs(plan.RemoveIDs))
	if err := e.backend.RemoveRules(ctx, plan.PolicyID, plan.TargetRuleIDs); err != nil {
		return Outcome{}, err
	}
	e.metrics.IncMutations("remove_rules")
	e.log.Info(msgRulesRemoved)
	return Encode(http.StatusOK, msgRulesRemoved), nil
}
