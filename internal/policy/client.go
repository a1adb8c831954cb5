package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/docstore"
	"github.com/vyrodovalexey/docguard/internal/observability"
)

// DefaultEvaluationTimeout bounds a single policy endpoint call. There are
// no retries on the authorization path; a slow endpoint denies the request.
const DefaultEvaluationTimeout = 2 * time.Second

// maxPolicyResponse caps how much of a policy response is read.
const maxPolicyResponse = 1 << 20 // 1MB

// Input is the document sent to a policy endpoint.
type Input struct {
	// User is the verified subject attribute set.
	User *jwt.UserAttributes `json:"user"`

	// Resource is the document's security attributes, when one is in scope.
	Resource *docstore.DocumentAttributes `json:"resource,omitempty"`

	// Action is the operation being attempted (read, create, update, delete).
	Action string `json:"action,omitempty"`
}

// Result is a single endpoint's verdict.
type Result struct {
	// Allow indicates whether the endpoint permits the access.
	Allow bool `json:"allow"`

	// Reason is the endpoint's stated reason, when given.
	Reason string `json:"reason,omitempty"`

	// DecisionID is the engine's decision identifier, when given.
	DecisionID string `json:"decision_id,omitempty"`
}

// Client queries one policy endpoint.
type Client interface {
	// Name identifies the endpoint in logs and errors.
	Name() string

	// Evaluate queries the endpoint for a verdict.
	Evaluate(ctx context.Context, input *Input) (*Result, error)
}

// Endpoint configures a single policy endpoint.
type Endpoint struct {
	// Name identifies the endpoint (e.g. "base", "partner").
	Name string `yaml:"name" json:"name"`

	// URL is the policy engine base URL.
	URL string `yaml:"url" json:"url"`

	// Policy is the policy path to query, appended as /v1/data/<policy>.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Headers are additional headers to send.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Timeout bounds a single call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate validates the endpoint configuration.
func (e *Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if e.URL == "" {
		return fmt.Errorf("endpoint url is required")
	}
	if e.Timeout < 0 {
		return fmt.Errorf("endpoint timeout must not be negative")
	}
	return nil
}

// httpClient implements Client against an OPA-style HTTP API.
type httpClient struct {
	endpoint Endpoint
	client   *http.Client
	logger   observability.Logger
}

var _ Client = (*httpClient)(nil)

// ClientOption is a functional option for the HTTP policy client.
type ClientOption func(*httpClient)

// WithClientLogger sets the logger.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *httpClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *httpClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient creates a policy client for the given endpoint.
func NewClient(endpoint Endpoint, opts ...ClientOption) (Client, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy endpoint: %w", err)
	}

	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = DefaultEvaluationTimeout
	}

	c := &httpClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Name implements Client.
func (c *httpClient) Name() string {
	return c.endpoint.Name
}

// Evaluate implements Client.
func (c *httpClient) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	url := c.endpoint.URL
	if c.endpoint.Policy != "" {
		url = fmt.Sprintf("%s/v1/data/%s", c.endpoint.URL, c.endpoint.Policy)
	}

	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxPolicyResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read policy response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: endpoint returned status %d", ErrPolicyUnavailable, resp.StatusCode)
	}

	var envelope struct {
		Result     interface{} `json:"result"`
		DecisionID string      `json:"decision_id"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse policy response: %w", err)
	}

	result := &Result{DecisionID: envelope.DecisionID}
	switch v := envelope.Result.(type) {
	case bool:
		result.Allow = v
	case map[string]interface{}:
		if allow, ok := v["allow"].(bool); ok {
			result.Allow = allow
		}
		if reason, ok := v["reason"].(string); ok {
			result.Reason = reason
		}
	case nil:
		// An undefined result is a deny, not an error in the engine.
		result.Allow = false
	default:
		return nil, fmt.Errorf("unexpected policy result type: %T", envelope.Result)
	}

	c.logger.Debug("policy evaluated",
		observability.String("endpoint", c.endpoint.Name),
		observability.Bool("allowed", result.Allow),
		observability.String("decision_id", result.DecisionID),
	)

	return result, nil
}
