// Package audit records authorization decisions as structured events.
// Every gate in the request chain produces exactly one decision event,
// whatever stage decided it.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAuthorization  EventType = "authorization"
	EventTypeSecurity       EventType = "security"
)

// Action represents the action being audited.
type Action string

// Actions.
const (
	ActionRead   Action = "read"
	ActionList   Action = "list"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	ActionTokenVerify       Action = "token_verify"
	ActionRateLimitExceeded Action = "rate_limit_exceeded"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Subject is the entity attempting the action.
type Subject struct {
	// ID is the subject's unique identifier.
	ID string `json:"id,omitempty"`

	// Clearance is the subject's clearance label.
	Clearance string `json:"clearance,omitempty"`

	// Country is the subject's country of affiliation.
	Country string `json:"country,omitempty"`

	// IPAddress is the client IP address.
	IPAddress string `json:"ip_address,omitempty"`
}

// Resource is the document being accessed.
type Resource struct {
	// Type is the resource type.
	Type string `json:"type,omitempty"`

	// ID is the resource identifier.
	ID string `json:"id,omitempty"`

	// Path is the request path.
	Path string `json:"path,omitempty"`

	// Method is the HTTP method.
	Method string `json:"method,omitempty"`
}

// Event is one audited decision.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Stage is the chain stage that decided.
	Stage string `json:"stage,omitempty"`

	// Code is the machine code returned to the client.
	Code string `json:"code,omitempty"`

	// Reason is a short operator-facing explanation. Internal error
	// detail never appears here.
	Reason string `json:"reason,omitempty"`

	// Subject is the entity performing the action.
	Subject *Subject `json:"subject,omitempty"`

	// Resource is the resource being accessed.
	Resource *Resource `json:"resource,omitempty"`

	// RequestID correlates the event with request logs.
	RequestID string `json:"request_id,omitempty"`

	// TraceID correlates the event with distributed traces.
	TraceID string `json:"trace_id,omitempty"`

	// Metadata contains additional details.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithStage sets the deciding stage.
func (e *Event) WithStage(stage string) *Event {
	e.Stage = stage
	return e
}

// WithCode sets the machine code.
func (e *Event) WithCode(code string) *Event {
	e.Code = code
	return e
}

// WithReason sets the reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithRequestID sets the request id.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithMetadata adds a metadata entry.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
