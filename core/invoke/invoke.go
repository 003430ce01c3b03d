// Package invoke is the invocation boundary shared by the CLI, the bus worker
// and the HTTP API: it turns a raw event into an Outcome or a fatal error.
package invoke

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/cordum/ipspatch/core/infra/event"
	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/infra/metrics"
	"github.com/cordum/ipspatch/core/ips"
)

const component = "ipspatch"

// Result is what an invocation reports back to its caller.
type Result struct {
	InvocationID string       `json:"invocation_id"`
	Outcome      *ips.Outcome `json:"outcome,omitempty"`
	Error        string       `json:"error,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// Invoker runs invocations against one backend.
type Invoker struct {
	op      *ips.Operator
	metrics metrics.Metrics
}

func New(backend ips.Backend, m metrics.Metrics) *Invoker {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Invoker{op: ips.NewOperator(backend, m), metrics: m}
}

// Event parses a raw payload and runs it. Malformed payloads and invalid
// selectors are fatal, like every other condition without an Outcome.
func (i *Invoker) Event(ctx context.Context, data []byte, source string) Result {
	id := uuid.NewString()
	i.metrics.IncEventsReceived(source)

	params, err := event.Parse(data)
	if err != nil {
		log := logging.New(component, logging.LevelInfo).With("invocation", id)
		log.Critical("Rejected event", "source", source, "err", err)
		i.metrics.IncFatal("invalid_payload")
		return failed(id, ips.Fatal(err, "%v", err))
	}
	if params.Source != "" {
		source = params.Source
	}
	log := logging.New(component, params.Level()).With("invocation", id)
	log.Debug("Received event", "source", source, "payload", string(bytes.TrimSpace(data)))

	req, err := params.Request()
	if err != nil {
		log.Critical(err.Error())
		i.metrics.IncFatal(ips.Reason(err))
		return failed(id, err)
	}
	return i.run(ctx, id, req, log)
}

// Request runs an already-normalized request.
func (i *Invoker) Request(ctx context.Context, req ips.Request, level logging.Level) Result {
	id := uuid.NewString()
	i.metrics.IncEventsReceived("direct")
	log := logging.New(component, level).With("invocation", id)
	return i.run(ctx, id, req, log)
}

func (i *Invoker) run(ctx context.Context, id string, req ips.Request, log *logging.Logger) Result {
	outcome, err := i.op.Run(ctx, req, log)
	if err != nil {
		log.Critical(err.Error(), "reason", ips.Reason(err))
		return failed(id, err)
	}
	return Result{InvocationID: id, Outcome: &outcome}
}

func failed(id string, err error) Result {
	return Result{InvocationID: id, Error: err.Error(), Reason: reason(err)}
}

func reason(err error) string {
	if errors.Is(err, event.ErrInvalidPayload) {
		return "invalid_payload"
	}
	return ips.Reason(err)
}

// Fatal reports whether the invocation ended without an Outcome.
func (r Result) Fatal() bool {
	return r.Outcome == nil
}
