// Package event normalizes invocation payloads, direct or wrapped in a
// notification-bus envelope, into an ips.Request.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cordum/ipspatch/core/infra/logging"
	"github.com/cordum/ipspatch/core/ips"
)

const schemaID = "inmemory://ipspatch/event.json"

const eventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["cve"],
  "properties": {
    "hostname":     {"type": ["string", "null"]},
    "policy_name":  {"type": ["string", "null"]},
    "cve":          {"type": "string", "minLength": 1},
    "enable_rules": {"type": ["string", "boolean", "null"]},
    "log_level":    {"type": ["string", "null"]}
  }
}`

var (
	// ErrInvalidPayload marks malformed or schema-violating events.
	ErrInvalidPayload = errors.New("invalid event payload")

	compiled *jsonschema.Schema
)

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaID, strings.NewReader(eventSchema)); err != nil {
		panic(fmt.Sprintf("event schema: %v", err))
	}
	compiled = compiler.MustCompile(schemaID)
}

// Params are the normalized invocation parameters.
type Params struct {
	Hostname    string `json:"hostname,omitempty"`
	PolicyName  string `json:"policy_name,omitempty"`
	CVE         string `json:"cve"`
	EnableRules string `json:"enable_rules"`
	LogLevel    string `json:"log_level"`

	// Source is "sns" when the payload arrived in a notification envelope.
	Source string `json:"-"`
}

type envelope struct {
	Records []struct {
		Sns struct {
			Message string `json:"Message"`
		} `json:"Sns"`
	} `json:"Records"`
}

// Unwrap returns the embedded message when data is a notification envelope,
// otherwise data itself.
func Unwrap(data []byte) ([]byte, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(env.Records) == 0 {
		return data, false, nil
	}
	msg := strings.TrimSpace(env.Records[0].Sns.Message)
	if msg == "" {
		return nil, true, fmt.Errorf("%w: empty notification message", ErrInvalidPayload)
	}
	return []byte(msg), true, nil
}

// Parse unwraps, validates and normalizes a raw event.
func Parse(data []byte) (Params, error) {
	body, wrapped, err := Unwrap(bytes.TrimSpace(data))
	if err != nil {
		return Params{}, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	fields, _ := doc.(map[string]any)
	p := Params{
		Hostname:    stringField(fields, "hostname"),
		PolicyName:  stringField(fields, "policy_name"),
		CVE:         ips.NormalizeCVE(stringField(fields, "cve")),
		EnableRules: selectorField(fields),
		LogLevel:    strings.ToUpper(strings.TrimSpace(stringField(fields, "log_level"))),
	}
	if p.CVE == "" {
		return Params{}, fmt.Errorf("%w: cve is required", ErrInvalidPayload)
	}
	if p.LogLevel == "" {
		p.LogLevel = "INFO"
	}
	if wrapped {
		p.Source = "sns"
	}
	return p, nil
}

// Request converts params into an ips.Request. A selector other than
// true/false is a fatal configuration error.
func (p Params) Request() (ips.Request, error) {
	direction, err := ips.ParseSelector(p.EnableRules)
	if err != nil {
		return ips.Request{}, err
	}
	return ips.Request{
		Hostname:   p.Hostname,
		PolicyName: p.PolicyName,
		CVE:        p.CVE,
		Direction:  direction,
	}, nil
}

// Level returns the requested log threshold, defaulting to INFO.
func (p Params) Level() logging.Level {
	level, err := logging.ParseLevel(p.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// selectorField returns enable_rules lower-cased but otherwise as sent. Only
// an absent or null key defaults to "true"; an empty string stays empty and
// is rejected by ips.ParseSelector.
func selectorField(fields map[string]any) string {
	switch v := fields["enable_rules"].(type) {
	case string:
		return strings.ToLower(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return "true"
	}
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
