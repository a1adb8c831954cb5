package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/docguard/internal/observability"
)

// Defaults for the key directory cache.
const (
	DefaultKeyCacheTTL     = 5 * time.Minute
	DefaultNegativeTTL     = 30 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
	DefaultFetchesPerMin   = 10
	maxKeyDirectoryPayload = 1 << 20 // 1MB
)

// JSONWebKeySet represents a JSON Web Key Set document.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey represents a single key from the directory.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`

	// RSA components
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC components
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// cacheEntry is one resolved signing key. Entries are refreshed lazily on
// miss or expiry; a failed refresh never evicts a still-usable entry.
type cacheEntry struct {
	key       crypto.PublicKey
	fetchedAt time.Time
}

// KeyDirectoryCache resolves signing keys by key id from a remote key
// directory, caching results with a TTL. Concurrent resolutions for an
// uncached kid coalesce into a single in-flight fetch, and outbound
// fetches are throttled so a burst of unknown kids cannot hammer the
// directory.
type KeyDirectoryCache struct {
	url          string
	ttl          time.Duration
	negativeTTL  time.Duration
	httpClient   *http.Client
	logger       observability.Logger
	metrics      *Metrics
	fetchLimiter *rate.Limiter
	group        singleflight.Group

	mu        sync.RWMutex
	entries   map[string]*cacheEntry
	missing   map[string]time.Time
	lastFetch time.Time
}

// KeyDirectoryOption is a functional option for the cache.
type KeyDirectoryOption func(*KeyDirectoryCache)

// WithCacheTTL sets the entry TTL.
func WithCacheTTL(ttl time.Duration) KeyDirectoryOption {
	return func(c *KeyDirectoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNegativeTTL sets how long an unknown kid is remembered before the
// directory is consulted again for it.
func WithNegativeTTL(ttl time.Duration) KeyDirectoryOption {
	return func(c *KeyDirectoryCache) {
		if ttl > 0 {
			c.negativeTTL = ttl
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) KeyDirectoryOption {
	return func(c *KeyDirectoryCache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithKeyDirectoryLogger sets the logger.
func WithKeyDirectoryLogger(logger observability.Logger) KeyDirectoryOption {
	return func(c *KeyDirectoryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeyDirectoryMetrics sets the metrics.
func WithKeyDirectoryMetrics(metrics *Metrics) KeyDirectoryOption {
	return func(c *KeyDirectoryCache) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithFetchLimit caps outbound directory fetches per minute.
func WithFetchLimit(perMinute int) KeyDirectoryOption {
	return func(c *KeyDirectoryCache) {
		if perMinute > 0 {
			c.fetchLimiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
	}
}

// NewKeyDirectoryCache creates a cache for the given directory URL.
func NewKeyDirectoryCache(url string, opts ...KeyDirectoryOption) (*KeyDirectoryCache, error) {
	if url == "" {
		return nil, fmt.Errorf("key directory url is required")
	}

	c := &KeyDirectoryCache{
		url:         url,
		ttl:         DefaultKeyCacheTTL,
		negativeTTL: DefaultNegativeTTL,
		httpClient: &http.Client{
			Timeout: DefaultFetchTimeout,
		},
		logger:       observability.NopLogger(),
		fetchLimiter: rate.NewLimiter(rate.Limit(float64(DefaultFetchesPerMin)/60.0), DefaultFetchesPerMin),
		entries:      make(map[string]*cacheEntry),
		missing:      make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = NewMetrics("docguard")
	}

	return c, nil
}

// Resolve returns the public key for the given key id. For a cached,
// non-expired kid no network I/O occurs. Lookup failures are negatively
// cached so repeated unknown kids do not each trigger a fetch.
func (c *KeyDirectoryCache) Resolve(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	now := time.Now()

	c.mu.RLock()
	entry := c.entries[keyID]
	missedAt, negative := c.missing[keyID]
	c.mu.RUnlock()

	if entry != nil && now.Sub(entry.fetchedAt) < c.ttl {
		c.metrics.RecordKeyResolution("hit")
		return entry.key, nil
	}

	if negative && now.Sub(missedAt) < c.negativeTTL {
		c.metrics.RecordKeyResolution("negative")
		return nil, NewKeyResolutionError(keyID, "key id not present in directory", ErrUnknownKeyID)
	}

	// Coalesce concurrent refreshes into one in-flight fetch. The whole
	// keyset is fetched at once, so a single flight serves every kid.
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})

	if err != nil {
		// Stale-but-valid beats unavailable: a failed refresh must not
		// invalidate a previously fetched key.
		if entry != nil {
			c.metrics.RecordKeyResolution("stale")
			c.logger.Warn("key directory refresh failed, serving cached key",
				observability.String("kid", keyID),
				observability.Error(err),
			)
			return entry.key, nil
		}
		c.metrics.RecordKeyResolution("error")
		return nil, NewKeyResolutionError(keyID, "directory fetch failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry := c.entries[keyID]; entry != nil {
		c.metrics.RecordKeyResolution("miss")
		return entry.key, nil
	}

	c.missing[keyID] = time.Now()
	c.metrics.RecordKeyResolution("unknown")
	return nil, NewKeyResolutionError(keyID, "key id not present in directory", ErrUnknownKeyID)
}

// refresh fetches the keyset and replaces cache entries for the keys it
// contains. Keys absent from the response keep their previous entries so a
// partially populated response does not invalidate in-use keys early.
func (c *KeyDirectoryCache) refresh(ctx context.Context) error {
	if !c.fetchLimiter.Allow() {
		return fmt.Errorf("directory fetch rate exceeded: %w", ErrKeyDirectoryUnavailable)
	}

	c.metrics.RecordKeyFetch()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: directory returned status %d: %s",
			ErrKeyDirectoryUnavailable, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyDirectoryPayload))
	if err != nil {
		return fmt.Errorf("failed to read directory response: %w", err)
	}

	var jwks JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse directory response: %w", err)
	}

	now := time.Now()
	parsed := 0

	c.mu.Lock()
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kid == "" {
			continue
		}
		key, err := jwk.PublicKey()
		if err != nil {
			c.logger.Warn("skipping malformed directory key",
				observability.String("kid", jwk.Kid),
				observability.Error(err),
			)
			continue
		}
		c.entries[jwk.Kid] = &cacheEntry{key: key, fetchedAt: now}
		delete(c.missing, jwk.Kid)
		parsed++
	}
	c.lastFetch = now
	c.mu.Unlock()

	c.logger.Debug("key directory refreshed",
		observability.String("url", c.url),
		observability.Int("keys", parsed),
	)

	return nil
}

// LastFetch returns the time of the last successful fetch.
func (c *KeyDirectoryCache) LastFetch() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetch
}

// URL returns the directory URL.
func (c *KeyDirectoryCache) URL() string {
	return c.url
}

// PublicKey converts the JWK to a crypto.PublicKey. Symmetric key types are
// rejected outright; the verifier only accepts asymmetric algorithms.
func (jwk *JSONWebKey) PublicKey() (crypto.PublicKey, error) {
	switch jwk.Kty {
	case "RSA":
		return jwk.rsaPublicKey()
	case "EC":
		return jwk.ecdsaPublicKey()
	case "OKP":
		return jwk.ed25519PublicKey()
	default:
		return nil, fmt.Errorf("%w: unsupported key type %q", ErrInvalidKey, jwk.Kty)
	}
}

// rsaPublicKey converts RSA modulus and exponent components.
func (jwk *JSONWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode modulus: %v", ErrInvalidKey, err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode exponent: %v", ErrInvalidKey, err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("%w: zero exponent", ErrInvalidKey)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// ecdsaPublicKey converts EC curve point components.
func (jwk *JSONWebKey) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch jwk.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKey, jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode x coordinate: %v", ErrInvalidKey, err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode y coordinate: %v", ErrInvalidKey, err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// ed25519PublicKey converts an OKP Ed25519 key.
func (jwk *JSONWebKey) ed25519PublicKey() (ed25519.PublicKey, error) {
	if jwk.Crv != "Ed25519" {
		return nil, fmt.Errorf("%w: unsupported OKP curve %q", ErrInvalidKey, jwk.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode public key: %v", ErrInvalidKey, err)
	}
	if len(xBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: wrong Ed25519 key length %d", ErrInvalidKey, len(xBytes))
	}

	return ed25519.PublicKey(xBytes), nil
}
