package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vyrodovalexey/docguard/internal/observability"
)

// DefaultRequestTimeout bounds a single repository call.
const DefaultRequestTimeout = 5 * time.Second

// maxResponseBody caps how much of a repository response is read.
const maxResponseBody = 8 << 20 // 8MB

// HTTPStore is a Store backed by the remote document repository service.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     observability.Logger
}

var _ Store = (*HTTPStore)(nil)

// HTTPStoreOption is a functional option for the HTTP store.
type HTTPStoreOption func(*HTTPStore)

// WithStoreHTTPClient sets the HTTP client.
func WithStoreHTTPClient(client *http.Client) HTTPStoreOption {
	return func(s *HTTPStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithStoreHeaders sets headers added to every repository request.
func WithStoreHeaders(headers map[string]string) HTTPStoreOption {
	return func(s *HTTPStore) {
		s.headers = headers
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger observability.Logger) HTTPStoreOption {
	return func(s *HTTPStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewHTTPStore creates a store client for the repository at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPStoreOption) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("document repository url is required")
	}

	s := &HTTPStore{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// FindByID implements Store.
func (s *HTTPStore) FindByID(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := s.do(ctx, http.MethodGet, s.docURL(id), nil, &doc); err != nil {
		return nil, NewStoreError("find", id, err)
	}
	return &doc, nil
}

// List implements Store.
func (s *HTTPStore) List(ctx context.Context) ([]*Document, error) {
	var docs []*Document
	if err := s.do(ctx, http.MethodGet, s.baseURL+"/documents", nil, &docs); err != nil {
		return nil, NewStoreError("list", "", err)
	}
	return docs, nil
}

// Create implements Store.
func (s *HTTPStore) Create(ctx context.Context, doc *Document) (*Document, error) {
	var created Document
	if err := s.do(ctx, http.MethodPost, s.baseURL+"/documents", doc, &created); err != nil {
		return nil, NewStoreError("create", "", err)
	}
	return &created, nil
}

// Update implements Store.
func (s *HTTPStore) Update(ctx context.Context, id string, doc *Document) (*Document, error) {
	var updated Document
	if err := s.do(ctx, http.MethodPut, s.docURL(id), doc, &updated); err != nil {
		return nil, NewStoreError("update", id, err)
	}
	return &updated, nil
}

// Delete implements Store.
func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	if err := s.do(ctx, http.MethodDelete, s.docURL(id), nil, nil); err != nil {
		return NewStoreError("delete", id, err)
	}
	return nil
}

func (s *HTTPStore) docURL(id string) string {
	return s.baseURL + "/documents/" + url.PathEscape(id)
}

// do performs a single repository request and decodes the response into out.
func (s *HTTPStore) do(ctx context.Context, method, rawURL string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: repository returned status %d", ErrStoreUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("repository returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
