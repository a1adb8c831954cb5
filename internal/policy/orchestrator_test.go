package policy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/docstore"
)

func testUser() *jwt.UserAttributes {
	return &jwt.UserAttributes{
		UniqueIdentifier:     "alice@example.com",
		Clearance:            "NATO SECRET",
		CountryOfAffiliation: "USA",
		COITags:              []string{"OpAlpha"},
	}
}

func testDocAttributes() *docstore.DocumentAttributes {
	return &docstore.DocumentAttributes{
		Clearance:    "NATO CONFIDENTIAL",
		ReleasableTo: []string{"NATO"},
		COITags:      []string{"OpAlpha"},
	}
}

// policyServer returns a policy endpoint answering with the given verdict.
func policyServer(t *testing.T, allow bool, reason string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		if reason != "" {
			_, _ = w.Write([]byte(`{"result": {"allow": ` + boolJSON(allow) + `, "reason": "` + reason + `"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result": ` + boolJSON(allow) + `}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newTestClient(t *testing.T, name, url string) Client {
	t.Helper()
	client, err := NewClient(Endpoint{Name: name, URL: url, Timeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()

	t.Run("requires at least two endpoints", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, "base", "http://policy.example.com")
		_, err := NewOrchestrator([]Client{client})
		assert.Error(t, err)
	})
}

func TestOrchestrator_EvaluateAccess(t *testing.T) {
	t.Parallel()

	t.Run("both allow", func(t *testing.T) {
		t.Parallel()

		base := policyServer(t, true, "")
		partner := policyServer(t, true, "")

		orch, err := NewOrchestrator([]Client{
			newTestClient(t, "base", base.URL),
			newTestClient(t, "partner", partner.URL),
		})
		require.NoError(t, err)

		verdict, err := orch.EvaluateAccess(context.Background(), testUser(), testDocAttributes(), "read")
		require.NoError(t, err)
		assert.True(t, verdict.Allow)
		assert.Empty(t, verdict.DeniedBy())
	})

	t.Run("one denial denies", func(t *testing.T) {
		t.Parallel()

		base := policyServer(t, true, "")
		partner := policyServer(t, false, "not releasable to coalition")

		orch, err := NewOrchestrator([]Client{
			newTestClient(t, "base", base.URL),
			newTestClient(t, "partner", partner.URL),
		})
		require.NoError(t, err)

		verdict, err := orch.EvaluateAccess(context.Background(), testUser(), testDocAttributes(), "read")
		require.NoError(t, err)
		assert.False(t, verdict.Allow)
		assert.Equal(t, []string{"partner"}, verdict.DeniedBy())

		// The denying endpoint's reason survives in the verdict.
		require.NotNil(t, verdict.Endpoints[1].Result)
		assert.Equal(t, "not releasable to coalition", verdict.Endpoints[1].Result.Reason)
	})

	t.Run("endpoint error denies and other verdict survives", func(t *testing.T) {
		t.Parallel()

		base := policyServer(t, true, "")
		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(broken.Close)

		orch, err := NewOrchestrator([]Client{
			newTestClient(t, "base", base.URL),
			newTestClient(t, "partner", broken.URL),
		})
		require.NoError(t, err)

		verdict, err := orch.EvaluateAccess(context.Background(), testUser(), testDocAttributes(), "read")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPolicyUnavailable)
		assert.False(t, verdict.Allow)

		var eerr *EndpointError
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, "partner", eerr.Endpoint)

		// The healthy endpoint's result is still captured.
		require.NotNil(t, verdict.Endpoints[0].Result)
		assert.True(t, verdict.Endpoints[0].Result.Allow)
		assert.NoError(t, verdict.Endpoints[0].Err)
	})

	t.Run("slow endpoint denies within the evaluation timeout", func(t *testing.T) {
		t.Parallel()

		base := policyServer(t, true, "")
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(500 * time.Millisecond)
			_, _ = w.Write([]byte(`{"result": true}`))
		}))
		t.Cleanup(slow.Close)

		orch, err := NewOrchestrator(
			[]Client{
				newTestClient(t, "base", base.URL),
				newTestClient(t, "partner", slow.URL),
			},
			WithEvaluationTimeout(50*time.Millisecond),
		)
		require.NoError(t, err)

		verdict, err := orch.EvaluateAccess(context.Background(), testUser(), testDocAttributes(), "read")
		require.Error(t, err)
		assert.False(t, verdict.Allow)
		assert.Contains(t, verdict.DeniedBy(), "partner")
	})

	t.Run("undefined result denies without error", func(t *testing.T) {
		t.Parallel()

		base := policyServer(t, true, "")
		undefined := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		t.Cleanup(undefined.Close)

		orch, err := NewOrchestrator([]Client{
			newTestClient(t, "base", base.URL),
			newTestClient(t, "partner", undefined.URL),
		})
		require.NoError(t, err)

		verdict, err := orch.EvaluateAccess(context.Background(), testUser(), testDocAttributes(), "read")
		require.NoError(t, err)
		assert.False(t, verdict.Allow)
	})
}

func TestOrchestrator_ValidateMandatoryAttributes(t *testing.T) {
	t.Parallel()

	// newOrchestrator wires a dedicated mandatory attribute endpoint next
	// to two access endpoints that always allow.
	newOrchestrator := func(t *testing.T, mandatoryURL string) *Orchestrator {
		t.Helper()
		base := policyServer(t, true, "")
		partner := policyServer(t, true, "")
		orch, err := NewOrchestrator(
			[]Client{
				newTestClient(t, "base", base.URL),
				newTestClient(t, "partner", partner.URL),
			},
			WithMandatoryAttributesClient(newTestClient(t, "mandatory", mandatoryURL)),
		)
		require.NoError(t, err)
		return orch
	}

	t.Run("engine confirms complete attributes", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int64
		engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte(`{"result": true}`))
		}))
		t.Cleanup(engine.Close)

		orch := newOrchestrator(t, engine.URL)
		assert.NoError(t, orch.ValidateMandatoryAttributes(context.Background(), testUser()))
		assert.Equal(t, int64(1), hits.Load())
	})

	t.Run("engine deny overrides complete fields", func(t *testing.T) {
		t.Parallel()

		engine := policyServer(t, false, "")
		orch := newOrchestrator(t, engine.URL)

		err := orch.ValidateMandatoryAttributes(context.Background(), testUser())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingAttributes)
	})

	t.Run("unreachable engine denies", func(t *testing.T) {
		t.Parallel()

		engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		engine.Close()

		orch := newOrchestrator(t, engine.URL)
		err := orch.ValidateMandatoryAttributes(context.Background(), testUser())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrPolicyUnavailable)
		assert.NotErrorIs(t, err, ErrMissingAttributes)
	})

	t.Run("missing fields fail before the engine is asked", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int64
		engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			_, _ = w.Write([]byte(`{"result": true}`))
		}))
		t.Cleanup(engine.Close)

		orch := newOrchestrator(t, engine.URL)
		user := &jwt.UserAttributes{UniqueIdentifier: "alice@example.com"}
		err := orch.ValidateMandatoryAttributes(context.Background(), user)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingAttributes)

		var merr *MissingAttributesError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, []string{"clearance", "countryOfAffiliation"}, merr.Missing)
		assert.Equal(t, int64(0), hits.Load())
	})

	t.Run("defaults to the first access client", func(t *testing.T) {
		t.Parallel()

		base := policyServer(t, false, "")
		partner := policyServer(t, true, "")
		orch, err := NewOrchestrator([]Client{
			newTestClient(t, "base", base.URL),
			newTestClient(t, "partner", partner.URL),
		})
		require.NoError(t, err)

		err = orch.ValidateMandatoryAttributes(context.Background(), testUser())
		assert.ErrorIs(t, err, ErrMissingAttributes)
	})
}
