package bus

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is one raw event delivered on the bus.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
	MsgID   string
}

// Handler processes a message. Returned errors are logged; the message is
// acknowledged either way because invocations are never retried.
type Handler func(*Message) error

// NatsBus is a thin wrapper over a NATS connection that carries JSON events.
type NatsBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	jsEnabled bool
	ackWait   time.Duration
	maxAge    time.Duration

	// durable lists the subjects carried by the events stream. Only these
	// are published and consumed through JetStream.
	durable map[string]struct{}
}

const (
	envUseJetStream = "NATS_USE_JETSTREAM"
	envJSAckWait    = "NATS_JS_ACK_WAIT"
	envJSMaxAge     = "NATS_JS_MAX_AGE"

	defaultAckWait = 5 * time.Minute
	defaultMaxAge  = 7 * 24 * time.Hour

	streamEvents = "IPSPATCH_EVENTS"

	// HeaderMsgID carries a publisher-chosen JetStream dedupe id.
	HeaderMsgID = nats.MsgIdHdr

	jsAckPrefix = "$JS.ACK."
)

var (
	errNilBus     = errors.New("nats bus not initialized")
	errNilPayload = errors.New("empty bus payload")
	errEmptyTopic = errors.New("empty subject")
)

// NewNatsBus dials NATS at the provided URL. durableSubjects are the event
// subjects that go through the JetStream stream when it is enabled; every
// other subject, results included, uses core NATS.
func NewNatsBus(url string, durableSubjects ...string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("ipspatch-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[BUS] disconnected from NATS: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[BUS] connection closed")
		}),
	}
	tlsConfig, err := natsTLSConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	b := &NatsBus{nc: nc, ackWait: defaultAckWait, maxAge: defaultMaxAge, durable: subjectSet(durableSubjects)}
	b.initJetStreamFromEnv()
	return b, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
}

// Publish sends a raw payload on the given subject. When JetStream is enabled
// and msgID is set, the server drops duplicates within its dedupe window.
func (b *NatsBus) Publish(subject string, data []byte, msgID string) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if len(data) == 0 {
		return errNilPayload
	}
	if b.isDurableSubject(subject) {
		if msgID != "" {
			_, err := b.js.Publish(subject, data, nats.MsgId(msgID))
			return err
		}
		_, err := b.js.Publish(subject, data)
		return err
	}
	return b.nc.Publish(subject, data)
}

// Respond answers a request/reply message. It is a no-op for messages
// without a reply subject and for JetStream deliveries, whose reply subject
// is the ack subject.
func (b *NatsBus) Respond(msg *Message, data []byte) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if msg == nil || msg.Reply == "" || isAckSubject(msg.Reply) {
		return nil
	}
	return b.nc.Publish(msg.Reply, data)
}

// Subscribe attaches a subscription that invokes the handler per message.
// When JetStream is enabled, subjects are consumed durably with explicit acks.
func (b *NatsBus) Subscribe(subject, queue string, handler Handler) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptyTopic
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	if b.isDurableSubject(subject) {
		cb := func(msg *nats.Msg) {
			if err := handler(toMessage(msg)); err != nil {
				log.Printf("[BUS] handler error (ack): %v", err)
			}
			_ = msg.Ack()
		}

		opts := []nats.SubOpt{
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(b.ackWait),
			nats.MaxDeliver(1),
		}
		if durable := durableName(subject, queue); durable != "" {
			opts = append(opts, nats.Durable(durable))
		}

		var err error
		if queue == "" {
			_, err = b.js.Subscribe(subject, cb, opts...)
		} else {
			_, err = b.js.QueueSubscribe(subject, queue, cb, opts...)
		}
		return err
	}

	cb := func(msg *nats.Msg) {
		if err := handler(toMessage(msg)); err != nil {
			log.Printf("[BUS] handler error: %v", err)
		}
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}

func toMessage(msg *nats.Msg) *Message {
	out := &Message{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data}
	if msg.Header != nil {
		out.MsgID = msg.Header.Get(HeaderMsgID)
	}
	return out
}

func initJetStreamEnabled() bool {
	val := strings.TrimSpace(os.Getenv(envUseJetStream))
	if val == "" {
		return false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (b *NatsBus) initJetStreamFromEnv() {
	if b == nil || b.nc == nil {
		return
	}
	if !initJetStreamEnabled() {
		return
	}
	ackWait := defaultAckWait
	if v := strings.TrimSpace(os.Getenv(envJSAckWait)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ackWait = d
		}
	}
	maxAge := defaultMaxAge
	if v := strings.TrimSpace(os.Getenv(envJSMaxAge)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			maxAge = d
		}
	}

	js, err := b.nc.JetStream()
	if err != nil {
		log.Printf("[BUS] jetstream init failed: %v", err)
		return
	}
	if _, err := js.AccountInfo(); err != nil {
		log.Printf("[BUS] jetstream not available: %v", err)
		return
	}

	b.js = js
	b.jsEnabled = true
	b.ackWait = ackWait
	b.maxAge = maxAge
	log.Printf("[BUS] jetstream enabled ack_wait=%s", ackWait)
	if len(b.durable) > 0 {
		b.ensureStream()
	}
}

// isDurableSubject reports whether subject is published and consumed through
// the JetStream stream.
func (b *NatsBus) isDurableSubject(subject string) bool {
	if b == nil || !b.jsEnabled {
		return false
	}
	_, ok := b.durable[subject]
	return ok
}

func isAckSubject(reply string) bool {
	return strings.HasPrefix(reply, jsAckPrefix)
}

func subjectSet(subjects []string) map[string]struct{} {
	set := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func (b *NatsBus) streamSubjects() []string {
	out := make([]string, 0, len(b.durable))
	for s := range b.durable {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ensureStream creates the events stream over the durable subjects
// (best-effort).
func (b *NatsBus) ensureStream() {
	subjects := b.streamSubjects()
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:       streamEvents,
		Subjects:   subjects,
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     b.maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err == nil {
		log.Printf("[BUS] jetstream stream ensured name=%s subjects=%s max_age=%s", streamEvents, strings.Join(subjects, ","), b.maxAge)
		return
	}
	// Stream may already exist; treat that as success.
	if _, infoErr := b.js.StreamInfo(streamEvents); infoErr == nil {
		return
	}
	log.Printf("[BUS] jetstream ensure stream failed name=%s: %v", streamEvents, err)
}

func durableName(subject, queue string) string {
	name := sanitizeToken(subject)
	if name == "" {
		return ""
	}
	q := sanitizeToken(queue)
	if q == "" {
		return "dur_" + name
	}
	return fmt.Sprintf("dur_%s__%s", q, name)
}

func sanitizeToken(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "*", "STAR")
	s = strings.ReplaceAll(s, ">", "GT")
	return strings.TrimSpace(s)
}
