package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/docguard/internal/observability"
)

func TestLogger_LogEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(WithWriter(&buf))

	event := NewEvent(EventTypeAuthorization, ActionRead, OutcomeDenied).
		WithStage("policy").
		WithCode("ACCESS001").
		WithReason("denied by partner policy").
		WithSubject(&Subject{ID: "alice@example.com", Clearance: "NATO SECRET"}).
		WithResource(&Resource{Type: "document", ID: "doc-1", Method: "GET"})

	logger.LogEvent(context.Background(), event)

	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.NotEmpty(t, decoded.ID)
	assert.False(t, decoded.Timestamp.IsZero())
	assert.Equal(t, EventTypeAuthorization, decoded.Type)
	assert.Equal(t, ActionRead, decoded.Action)
	assert.Equal(t, OutcomeDenied, decoded.Outcome)
	assert.Equal(t, "policy", decoded.Stage)
	assert.Equal(t, "ACCESS001", decoded.Code)
	assert.Equal(t, "alice@example.com", decoded.Subject.ID)
	assert.Equal(t, "doc-1", decoded.Resource.ID)
}

func TestLogger_RequestIDFromContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(WithWriter(&buf))

	ctx := observability.ContextWithRequestID(context.Background(), "req-42")
	logger.LogEvent(ctx, NewEvent(EventTypeAuthentication, ActionTokenVerify, OutcomeSuccess))

	var decoded Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "req-42", decoded.RequestID)
}

func TestLogger_EventIDsAreUnique(t *testing.T) {
	t.Parallel()

	first := NewEvent(EventTypeSecurity, ActionRateLimitExceeded, OutcomeDenied)
	second := NewEvent(EventTypeSecurity, ActionRateLimitExceeded, OutcomeDenied)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	logger.LogEvent(context.Background(), NewEvent(EventTypeAuthorization, ActionRead, OutcomeSuccess))
	assert.NoError(t, logger.Close())
}
