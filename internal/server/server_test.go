package server

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/authz"
	"github.com/vyrodovalexey/docguard/internal/clearance"
	"github.com/vyrodovalexey/docguard/internal/docstore"
	"github.com/vyrodovalexey/docguard/internal/health"
	"github.com/vyrodovalexey/docguard/internal/policy"
	"github.com/vyrodovalexey/docguard/internal/ratelimit"
	ratestore "github.com/vyrodovalexey/docguard/internal/ratelimit/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testKid    = "test-key"
	testIssuer = "https://idp.example.com"
)

type envOptions struct {
	baseAllow    bool
	partnerAllow bool
	docLimit     int
	authLimit    int
}

func defaultEnvOptions() envOptions {
	return envOptions{
		baseAllow:    true,
		partnerAllow: true,
		docLimit:     1000,
		authLimit:    1000,
	}
}

type testEnv struct {
	engine *gin.Engine
	store  *docstore.MemoryStore
	key    *rsa.PrivateKey
}

func policyEndpoint(t *testing.T, allow bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if allow {
			_, _ = w.Write([]byte(`{"result": true}`))
			return
		}
		_, _ = w.Write([]byte(`{"result": {"allow": false, "reason": "coalition policy denial"}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwkKey, err := jwk.FromRaw(key.Public())
	require.NoError(t, err)
	require.NoError(t, jwkKey.Set(jwk.KeyIDKey, testKid))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(jwkKey))
	keySet, err := json.Marshal(set)
	require.NoError(t, err)

	keyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(keySet)
	}))
	t.Cleanup(keyServer.Close)

	hierarchy := clearance.New(nil)
	verifier, err := jwt.NewVerifier(&jwt.Config{
		JWKSUrl:  keyServer.URL,
		Issuer:   testIssuer,
		Audience: []string{"docguard"},
	}, hierarchy)
	require.NoError(t, err)

	base, err := policy.NewClient(policy.Endpoint{Name: "base", URL: policyEndpoint(t, opts.baseAllow).URL, Timeout: time.Second})
	require.NoError(t, err)
	partner, err := policy.NewClient(policy.Endpoint{Name: "partner", URL: policyEndpoint(t, opts.partnerAllow).URL, Timeout: time.Second})
	require.NoError(t, err)
	orch, err := policy.NewOrchestrator([]policy.Client{base, partner})
	require.NoError(t, err)

	store := docstore.NewMemoryStore()
	guard, err := authz.NewGuard(orch, hierarchy, store)
	require.NoError(t, err)

	counters := ratestore.NewMemoryStore()
	t.Cleanup(func() { _ = counters.Close() })

	engine := NewRouter(RouterConfig{
		Verifier:    verifier,
		Guard:       guard,
		Handler:     NewDocumentHandler(guard, store, nil),
		DocLimiter:  ratelimit.NewFixedWindowLimiter(counters, "doc:", ratelimit.Limit{Requests: opts.docLimit, Window: time.Minute}, nil),
		AuthLimiter: ratelimit.NewFixedWindowLimiter(counters, "auth:", ratelimit.Limit{Requests: opts.authLimit, Window: time.Minute}, nil),
		Checker:     health.NewChecker("test"),
	})

	return &testEnv{engine: engine, store: store, key: key}
}

func (e *testEnv) mintToken(t *testing.T, mutate func(claims map[string]interface{})) string {
	t.Helper()

	claims := map[string]interface{}{
		"iss":                  testIssuer,
		"aud":                  "docguard",
		"sub":                  "alice@example.com",
		"exp":                  time.Now().Add(time.Hour).Unix(),
		"iat":                  time.Now().Unix(),
		"clearance":            "NATO SECRET",
		"countryOfAffiliation": "USA",
		"coiTags":              []string{"OpAlpha"},
	}
	if mutate != nil {
		mutate(claims)
	}

	header := map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": testKid}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	claimsJSON, err := json.Marshal(claims)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	hashed := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, e.key, crypto.SHA256, hashed[:])
	require.NoError(t, err)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature)
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:51234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func validRequest() DocumentRequest {
	return DocumentRequest{
		Title: "field report",
		Body:  "movement observed at grid 31U",
		Attributes: docstore.DocumentAttributes{
			Clearance:    "NATO CONFIDENTIAL",
			ReleasableTo: []string{"NATO"},
			COITags:      []string{"OpAlpha"},
		},
	}
}

func TestRouter_DocumentCRUD(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultEnvOptions())
	token := env.mintToken(t, nil)

	w := env.do(http.MethodPost, "/api/documents", token, validRequest())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created docstore.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "alice@example.com", created.Creator)

	w = env.do(http.MethodGet, "/api/documents/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched docstore.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, "field report", fetched.Title)

	w = env.do(http.MethodGet, "/api/documents", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []docstore.Document `json:"documents"`
		Count     int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	update := validRequest()
	update.Title = "amended field report"
	w = env.do(http.MethodPut, "/api/documents/"+created.ID, token, update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodDelete, "/api/documents/"+created.ID, token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/api/documents/"+created.ID, token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, authz.CodeDocumentNotFound, errorCode(t, w))
}

func TestRouter_Authentication(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultEnvOptions())

	t.Run("missing token answers 401 before any lookup", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/documents/no-such-id", "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, authz.CodeNoToken, errorCode(t, w))
	})

	t.Run("alg none rejected", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
		claims := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"alice@example.com"}`))
		w := env.do(http.MethodGet, "/api/documents", header+"."+claims+".", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, authz.CodeTokenInvalid, errorCode(t, w))
	})

	t.Run("garbage token answers malformed code", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/documents", "not-a-token", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, authz.CodeTokenMalformed, errorCode(t, w))
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := env.mintToken(t, func(claims map[string]interface{}) {
			claims["exp"] = time.Now().Add(-time.Hour).Unix()
		})
		w := env.do(http.MethodGet, "/api/documents", token, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, authz.CodeTokenInvalid, errorCode(t, w))
	})

	t.Run("unrecognized clearance rejected", func(t *testing.T) {
		token := env.mintToken(t, func(claims map[string]interface{}) {
			claims["clearance"] = "ULTRA"
		})
		w := env.do(http.MethodGet, "/api/documents", token, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, authz.CodeAttributesInvalid, errorCode(t, w))
	})
}

func TestRouter_DocumentRateLimit(t *testing.T) {
	t.Parallel()

	opts := defaultEnvOptions()
	opts.docLimit = 3
	env := newTestEnv(t, opts)
	token := env.mintToken(t, nil)

	for i := 0; i < 3; i++ {
		w := env.do(http.MethodGet, "/api/documents", token, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := env.do(http.MethodGet, "/api/documents", token, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, authz.CodeDocRateExceeded, errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))

	// The limit also answers before authentication is attempted.
	w = env.do(http.MethodGet, "/api/documents", "", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, authz.CodeDocRateExceeded, errorCode(t, w))
}

func TestRouter_AuthAttemptLimit(t *testing.T) {
	t.Parallel()

	t.Run("failed attempts accumulate", func(t *testing.T) {
		t.Parallel()

		opts := defaultEnvOptions()
		opts.authLimit = 2
		env := newTestEnv(t, opts)

		for i := 0; i < 2; i++ {
			w := env.do(http.MethodGet, "/api/documents", "bogus", nil)
			require.Equal(t, http.StatusUnauthorized, w.Code)
		}

		w := env.do(http.MethodGet, "/api/documents", "bogus", nil)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, authz.CodeAuthRateExceeded, errorCode(t, w))
	})

	t.Run("successful authentications are refunded", func(t *testing.T) {
		t.Parallel()

		opts := defaultEnvOptions()
		opts.authLimit = 2
		env := newTestEnv(t, opts)
		token := env.mintToken(t, nil)

		for i := 0; i < 6; i++ {
			w := env.do(http.MethodGet, "/api/documents", token, nil)
			require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		}
	})
}

func TestRouter_PolicyDenial(t *testing.T) {
	t.Parallel()

	opts := defaultEnvOptions()
	opts.partnerAllow = false
	env := newTestEnv(t, opts)
	token := env.mintToken(t, nil)

	doc := &docstore.Document{Title: "restricted", Attributes: docstore.DocumentAttributes{
		Clearance:    "NATO CONFIDENTIAL",
		ReleasableTo: []string{"PARTNERX"},
	}}
	stored, err := env.store.Create(context.Background(), doc)
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/documents/"+stored.ID, token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authz.CodePolicyDenied, errorCode(t, w))
}

func TestRouter_ClearanceGate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultEnvOptions())
	token := env.mintToken(t, nil)

	doc := &docstore.Document{Title: "cosmic", Attributes: docstore.DocumentAttributes{
		Clearance:    "COSMIC TOP SECRET",
		ReleasableTo: []string{"NATO"},
	}}
	stored, err := env.store.Create(context.Background(), doc)
	require.NoError(t, err)

	w := env.do(http.MethodDelete, "/api/documents/"+stored.ID, token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, authz.CodeInsufficientClearance, errorCode(t, w))
}

func TestRouter_CreateValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultEnvOptions())

	t.Run("missing mandatory subject attributes", func(t *testing.T) {
		token := env.mintToken(t, func(claims map[string]interface{}) {
			delete(claims, "countryOfAffiliation")
		})
		w := env.do(http.MethodPost, "/api/documents", token, validRequest())
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, authz.CodeMissingAttributes, errorCode(t, w))
	})

	t.Run("unknown marking values", func(t *testing.T) {
		token := env.mintToken(t, nil)
		req := validRequest()
		req.Attributes.ReleasableTo = []string{"MARS"}
		w := env.do(http.MethodPost, "/api/documents", token, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, authz.CodeInvalidField, errorCode(t, w))
	})

	t.Run("malformed body", func(t *testing.T) {
		token := env.mintToken(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/documents", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.engine.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, authz.CodeInvalidField, errorCode(t, w))
	})
}

func TestRouter_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultEnvOptions())

	w := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ResponseHeaders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, defaultEnvOptions())
	token := env.mintToken(t, nil)

	w := env.do(http.MethodGet, "/api/documents", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}
