// Package worker consumes invocation events from the notification bus.
package worker

import (
	"context"
	"encoding/json"

	"github.com/cordum/ipspatch/core/infra/bus"
	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/invoke"
)

const component = "worker"

// Publisher is the subset of the bus the worker writes to.
type Publisher interface {
	Publish(subject string, data []byte, msgID string) error
	Respond(msg *bus.Message, data []byte) error
}

// Config holds configuration for a Worker.
type Config struct {
	Subject       string
	QueueGroup    string
	ResultSubject string
}

// Worker runs one invocation per bus message. Invocations share nothing but
// the backend client.
type Worker struct {
	cfg     Config
	invoker *invoke.Invoker
	pub     Publisher
}

func New(cfg Config, invoker *invoke.Invoker, pub Publisher) *Worker {
	return &Worker{cfg: cfg, invoker: invoker, pub: pub}
}

// Subscribe attaches the worker to the bus subject.
func (w *Worker) Subscribe(b *bus.NatsBus) error {
	logging.Info(component, "subscribing", "subject", w.cfg.Subject, "queue", w.cfg.QueueGroup)
	return b.Subscribe(w.cfg.Subject, w.cfg.QueueGroup, w.Handle)
}

// Handle runs the invocation carried by msg and reports its result on the
// reply subject and the result subject, when configured. Fatal invocations
// are reported, never retried.
func (w *Worker) Handle(msg *bus.Message) error {
	res := w.invoker.Event(context.Background(), msg.Data, "bus")
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if res.Fatal() {
		logging.Error(component, "invocation failed", "invocation", res.InvocationID, "reason", res.Reason, "subject", msg.Subject)
	}
	if w.pub == nil {
		return nil
	}
	if err := w.pub.Respond(msg, data); err != nil {
		logging.Error(component, "reply failed", "invocation", res.InvocationID, "err", err)
	}
	if w.cfg.ResultSubject != "" {
		if err := w.pub.Publish(w.cfg.ResultSubject, data, res.InvocationID); err != nil {
			return err
		}
	}
	return nil
}
