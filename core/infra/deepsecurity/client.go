// Package deepsecurity implements ips.Backend against the Deep Security
// Manager REST API.
package deepsecurity

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cordum/ipspatch/core/infra/config"
	"github.com/cordum/ipspatch/core/ips"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 5000
	defaultVersion  = "v1"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	APIVersion  string
	Timeout     time.Duration
	TLSInsecure bool
	PageSize    int

	// Parent and description applied to created policies.
	PolicyParentID    int
	PolicyDescription string
}

// Client is a minimal HTTP client for the manager API.
type Client struct {
	BaseURL    string
	APIKey     string
	APIVersion string
	HTTPClient *http.Client

	pageSize          int
	policyParentID    int
	policyDescription string
}

var _ ips.Backend = (*Client)(nil)

// New returns a client whose transport is traced with otelhttp.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	version := opts.APIVersion
	if version == "" {
		version = defaultVersion
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLSInsecure {
		// #nosec G402 -- managers commonly run with self-signed certificates; opt-in only.
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		BaseURL:    opts.BaseURL,
		APIKey:     opts.APIKey,
		APIVersion: version,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		pageSize:          pageSize,
		policyParentID:    opts.PolicyParentID,
		policyDescription: opts.PolicyDescription,
	}
}

// FromConfig builds a client from process configuration and settings.
func FromConfig(cfg *config.Config, settings *config.Settings) *Client {
	opts := Options{
		BaseURL:     cfg.APIURL,
		APIKey:      cfg.APIKey,
		APIVersion:  cfg.APIVersion,
		TLSInsecure: cfg.TLSInsecure,
		Timeout:     settings.Timeout(),
	}
	if settings != nil {
		opts.PageSize = settings.Catalog.PageSize
		opts.PolicyParentID = settings.Policy.ParentID
		opts.PolicyDescription = settings.Policy.Description
	}
	return New(opts)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

type searchCriteria struct {
	FieldName    string `json:"fieldName"`
	StringTest   string `json:"stringTest,omitempty"`
	StringValue  string `json:"stringValue,omitempty"`
	NumericTest  string `json:"numericTest,omitempty"`
	NumericValue *int   `json:"numericValue,omitempty"`
	IDTest       string `json:"idTest,omitempty"`
	IDValue      *int   `json:"idValue,omitempty"`
}

type searchFilter struct {
	MaxItems       int              `json:"maxItems,omitempty"`
	SearchCriteria []searchCriteria `json:"searchCriteria,omitempty"`
	SortByObjectID bool             `json:"sortByObjectID,omitempty"`
}

type computer struct {
	ID       int    `json:"ID"`
	HostName string `json:"hostName"`
	PolicyID *int   `json:"policyID,omitempty"`
}

type policy struct {
	ID                  int    `json:"ID,omitempty"`
	Name                string `json:"name"`
	ParentID            int    `json:"parentID,omitempty"`
	Description         string `json:"description,omitempty"`
	IntrusionPrevention *struct {
		RuleIDs []int `json:"ruleIDs"`
	} `json:"intrusionPrevention,omitempty"`
}

type ipsRule struct {
	ID   int      `json:"ID"`
	Name string   `json:"name"`
	CVE  []string `json:"CVE"`
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-version", c.APIVersion)
	if c.APIKey != "" {
		req.Header.Set("api-secret-key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%s %s: %w", method, path, &StatusError{Code: resp.StatusCode, Message: msg})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Rules pages through the full intrusion prevention rule catalog.
func (c *Client) Rules(ctx context.Context) ([]ips.Rule, error) {
	var out []ips.Rule
	lastID := 0
	for {
		after := lastID
		filter := searchFilter{
			MaxItems:       c.pageSize,
			SortByObjectID: true,
			SearchCriteria: []searchCriteria{{FieldName: "ID", IDTest: "greater-than", IDValue: &after}},
		}
		var page struct {
			Rules []ipsRule `json:"intrusionPreventionRules"`
		}
		if err := c.doJSON(ctx, http.MethodPost, "/intrusionpreventionrules/search", filter, &page); err != nil {
			return nil, fmt.Errorf("list ips rules: %w", err)
		}
		for _, r := range page.Rules {
			out = append(out, ips.Rule{ID: r.ID, Name: r.Name, CVEs: r.CVE})
			if r.ID > lastID {
				lastID = r.ID
			}
		}
		if len(page.Rules) < c.pageSize || lastID == after {
			return out, nil
		}
	}
}

// EndpointByHostname returns the computer whose hostName matches exactly.
func (c *Client) EndpointByHostname(ctx context.Context, hostname string) (ips.Endpoint, error) {
	filter := searchFilter{
		MaxItems:       1,
		SearchCriteria: []searchCriteria{{FieldName: "hostName", StringTest: "equal", StringValue: hostname}},
	}
	var res struct {
		Computers []computer `json:"computers"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/computers/search?expand=none", filter, &res); err != nil {
		return ips.Endpoint{}, fmt.Errorf("search computers: %w", err)
	}
	if len(res.Computers) == 0 {
		return ips.Endpoint{}, fmt.Errorf("hostname %q: %w", hostname, ips.ErrEndpointNotFound)
	}
	comp := res.Computers[0]
	return ips.Endpoint{ID: comp.ID, Hostname: comp.HostName, PolicyID: comp.PolicyID}, nil
}

// PolicyByName searches policies by exact name.
func (c *Client) PolicyByName(ctx context.Context, name string) (ips.Policy, error) {
	return c.searchPolicy(ctx, searchCriteria{FieldName: "name", StringTest: "equal", StringValue: name}, name)
}

// PolicyByID searches policies by identifier.
func (c *Client) PolicyByID(ctx context.Context, id int) (ips.Policy, error) {
	return c.searchPolicy(ctx, searchCriteria{FieldName: "ID", NumericTest: "equal", NumericValue: &id}, fmt.Sprintf("%d", id))
}

func (c *Client) searchPolicy(ctx context.Context, criteria searchCriteria, label string) (ips.Policy, error) {
	filter := searchFilter{MaxItems: 1, SearchCriteria: []searchCriteria{criteria}}
	var res struct {
		Policies []policy `json:"policies"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/policies/search", filter, &res); err != nil {
		return ips.Policy{}, fmt.Errorf("search policies: %w", err)
	}
	if len(res.Policies) == 0 {
		return ips.Policy{}, fmt.Errorf("policy %s: %w", label, ips.ErrPolicyNotFound)
	}
	return toPolicy(res.Policies[0]), nil
}

// CreatePolicy creates an empty policy and returns its ID.
func (c *Client) CreatePolicy(ctx context.Context, name string) (int, error) {
	req := policy{Name: name, ParentID: c.policyParentID, Description: c.policyDescription}
	var created policy
	if err := c.doJSON(ctx, http.MethodPost, "/policies", req, &created); err != nil {
		return 0, fmt.Errorf("create policy %q: %w", name, err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("create policy %q: response missing ID", name)
	}
	return created.ID, nil
}

// AddRules assigns ruleIDs to the policy. The manager treats the call as a
// set union with the existing assignments.
func (c *Client) AddRules(ctx context.Context, policyID int, ruleIDs []int) error {
	body := map[string]any{"ruleIDs": ruleIDs}
	path := fmt.Sprintf("/policies/%d/intrusionprevention/assignments", policyID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("add ips rules: %w", err)
	}
	return nil
}

// RemoveRules unassigns ruleIDs from the policy. Rules that are not assigned
// are skipped.
func (c *Client) RemoveRules(ctx context.Context, policyID int, ruleIDs []int) error {
	for _, id := range ruleIDs {
		path := fmt.Sprintf("/policies/%d/intrusionprevention/assignments/%d", policyID, id)
		err := c.doJSON(ctx, http.MethodDelete, path, nil, nil)
		var se *StatusError
		if err != nil && !(errors.As(err, &se) && se.Code == http.StatusNotFound) {
			return fmt.Errorf("remove ips rule %d: %w", id, err)
		}
	}
	return nil
}

// SetEndpointPolicy assigns the computer to policyID.
func (c *Client) SetEndpointPolicy(ctx context.Context, endpointID, policyID int) error {
	body := map[string]any{"policyID": policyID}
	path := fmt.Sprintf("/computers/%d?expand=none", endpointID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("set computer policy: %w", err)
	}
	return nil
}

func toPolicy(p policy) ips.Policy {
	out := ips.Policy{ID: p.ID, Name: p.Name}
	if p.IntrusionPrevention != nil {
		out.RuleIDs = append([]int(nil), p.IntrusionPrevention.RuleIDs...)
	}
	return out
}
