package invoke

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/ips"
	"github.com/cordum/ipspatch/core/ips/ipstest"
)

func seeded() *ipstest.Backend {
	return ipstest.New().
		AddRule(1008, "CVE-2021-44228").
		AddRule(1009, "CVE-2021-44228", "CVE-2021-45046").
		AddPolicy(1, "web").
		AddEndpoint(7, "web-01", 1)
}

func TestEventEnable(t *testing.T) {
	backend := seeded()
	res := New(backend, nil).Event(context.Background(), []byte(`{"hostname":"web-01","cve":"cve-2021-44228","log_level":"critical"}`), "direct")

	require.False(t, res.Fatal())
	assert.NotEmpty(t, res.InvocationID)
	assert.Equal(t, ips.Encode(200, "Policy changes were completed successfully"), *res.Outcome)
	adds := backend.Mutations("AddRules")
	require.Len(t, adds, 1)
	assert.Equal(t, []int{1008, 1009}, adds[0].RuleIDs)
}

func TestEventUnwrapsEnvelope(t *testing.T) {
	backend := seeded().AddPolicy(1, "web", 1008, 1009)
	payload := `{"Records":[{"Sns":{"Message":"{\"hostname\":\"web-01\",\"cve\":\"CVE-2021-44228\",\"enable_rules\":\"FALSE\"}"}}]}`
	res := New(backend, nil).Event(context.Background(), []byte(payload), "bus")

	require.False(t, res.Fatal())
	assert.Equal(t, "Successfully removed all relevant IPS rules", res.Outcome.Body)
	assert.Len(t, backend.Mutations("RemoveRules"), 1)
	assert.Empty(t, backend.Mutations("SetEndpointPolicy"))
}

func TestEventInvalidPayload(t *testing.T) {
	backend := seeded()
	res := New(backend, nil).Event(context.Background(), []byte(`{"hostname":"web-01"}`), "direct")

	assert.True(t, res.Fatal())
	assert.Equal(t, "invalid_payload", res.Reason)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, backend.Calls)
}

func TestEventInvalidSelector(t *testing.T) {
	backend := seeded()
	res := New(backend, nil).Event(context.Background(), []byte(`{"hostname":"web-01","cve":"CVE-2021-44228","enable_rules":"maybe"}`), "direct")

	assert.True(t, res.Fatal())
	assert.Equal(t, "invalid_selector", res.Reason)
	assert.Contains(t, res.Error, `"enable_rules" must be set to true or false`)
	assert.Empty(t, backend.Calls)
}

func TestRequestBackendFailure(t *testing.T) {
	backend := seeded()
	backend.Err = errors.New("connection refused")
	backend.ErrOn = "Rules"

	res := New(backend, nil).Request(context.Background(), ips.Request{
		Hostname:  "web-01",
		CVE:       "CVE-2021-44228",
		Direction: ips.DirectionEnable,
	}, logging.LevelCritical+1)

	assert.True(t, res.Fatal())
	assert.Equal(t, "backend", res.Reason)
	assert.Contains(t, res.Error, "connection refused")
}

func TestEventEmptySelectorIsFatal(t *testing.T) {
	for _, selector := range []string{`""`, `" TRUE "`} {
		backend := seeded()
		payload := `{"hostname":"web-01","policy_name":"web","cve":"CVE-2021-44228","enable_rules":` + selector + `}`
		res := New(backend, nil).Event(context.Background(), []byte(payload), "direct")

		assert.True(t, res.Fatal(), selector)
		assert.Equal(t, "invalid_selector", res.Reason, selector)
		assert.Empty(t, backend.Calls, selector)
	}
}

func TestEventSelectorCheckedBeforeCVELookup(t *testing.T) {
	backend := seeded()
	res := New(backend, nil).Event(context.Background(), []byte(`{"hostname":"web-01","cve":"CVE-1999-0001","enable_rules":"maybe"}`), "direct")

	require.True(t, res.Fatal())
	assert.Nil(t, res.Outcome)
	assert.Equal(t, "invalid_selector", res.Reason)
	assert.Empty(t, backend.Calls)
}

func TestEventEchoesRawPayloadAtDebug(t *testing.T) {
	var buf bytes.Buffer
	origOut, origFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
	})

	payload := `{"hostname":"web-01","cve":"cve-2021-44228","enable_rules":"maybe","log_level":"debug"}`
	New(seeded(), nil).Event(context.Background(), []byte("  "+payload+"\n"), "direct")

	var echo string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "Received event") {
			echo = line
		}
	}
	require.NotEmpty(t, echo, buf.String())
	assert.Contains(t, echo, "payload="+payload)
}
