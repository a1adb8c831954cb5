package authz

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/docguard/internal/audit"
	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/clearance"
	"github.com/vyrodovalexey/docguard/internal/docstore"
	"github.com/vyrodovalexey/docguard/internal/observability"
	"github.com/vyrodovalexey/docguard/internal/policy"
)

// Actions evaluated by the guard. These are the values sent to policy
// endpoints in the evaluation input.
const (
	ActionRead   = "read"
	ActionList   = "list"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Guard composes the document lookup, the compound policy evaluation and
// the local clearance gate into per-operation authorization checks. Each
// check returns exactly one Decision, which the guard records to the audit
// trail and metrics before returning.
type Guard struct {
	policies  *policy.Orchestrator
	hierarchy *clearance.Hierarchy
	store     docstore.Store
	vocab     *Vocabulary

	// reducedAssuranceMutations skips policy evaluation on update and
	// delete, leaving only the clearance gate. Off by default.
	reducedAssuranceMutations bool

	auditLog audit.Logger
	logger   observability.Logger
	metrics  *Metrics
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the operational logger.
func WithGuardLogger(logger observability.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGuardMetrics sets the metrics collector.
func WithGuardMetrics(metrics *Metrics) GuardOption {
	return func(g *Guard) {
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// WithAuditLogger sets the audit trail sink.
func WithAuditLogger(auditLog audit.Logger) GuardOption {
	return func(g *Guard) {
		if auditLog != nil {
			g.auditLog = auditLog
		}
	}
}

// WithVocabulary sets the document field vocabulary.
func WithVocabulary(vocab *Vocabulary) GuardOption {
	return func(g *Guard) {
		if vocab != nil {
			g.vocab = vocab
		}
	}
}

// WithReducedAssuranceMutations skips policy evaluation on mutating
// operations. The clearance gate still applies.
func WithReducedAssuranceMutations(enabled bool) GuardOption {
	return func(g *Guard) {
		g.reducedAssuranceMutations = enabled
	}
}

// NewGuard creates a Guard over the given collaborators.
func NewGuard(
	policies *policy.Orchestrator,
	hierarchy *clearance.Hierarchy,
	store docstore.Store,
	opts ...GuardOption,
) (*Guard, error) {
	if policies == nil {
		return nil, errors.New("authz: policy orchestrator is required")
	}
	if hierarchy == nil {
		return nil, errors.New("authz: clearance hierarchy is required")
	}
	if store == nil {
		return nil, errors.New("authz: document store is required")
	}

	g := &Guard{
		policies:  policies,
		hierarchy: hierarchy,
		store:     store,
		vocab:     NewVocabulary(nil, nil, nil),
		auditLog:  audit.NopLogger(),
		logger:    observability.NopLogger(),
		metrics:   GetSharedMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AuthorizeRead fetches the document and evaluates the compound policy for
// a read. Returns the document only on an allow decision.
func (g *Guard) AuthorizeRead(ctx context.Context, user *jwt.UserAttributes, docID string) (*docstore.Document, *Decision) {
	start := time.Now()

	doc, decision := g.fetch(ctx, docID)
	if decision != nil {
		g.record(ctx, audit.ActionRead, user, docID, decision, start)
		return nil, decision
	}

	decision = g.evaluatePolicy(ctx, user, &doc.Attributes, ActionRead)
	g.record(ctx, audit.ActionRead, user, docID, decision, start)
	if !decision.Allow {
		return nil, decision
	}
	return doc, decision
}

// AuthorizeUpdate fetches the document and applies the mutation gates:
// compound policy evaluation (unless reduced-assurance mode is on) and
// the local clearance comparison.
func (g *Guard) AuthorizeUpdate(ctx context.Context, user *jwt.UserAttributes, docID string, attrs *docstore.DocumentAttributes) (*docstore.Document, *Decision) {
	return g.authorizeMutation(ctx, audit.ActionUpdate, ActionUpdate, user, docID, attrs)
}

// AuthorizeDelete fetches the document and applies the mutation gates.
func (g *Guard) AuthorizeDelete(ctx context.Context, user *jwt.UserAttributes, docID string) (*docstore.Document, *Decision) {
	return g.authorizeMutation(ctx, audit.ActionDelete, ActionDelete, user, docID, nil)
}

// AuthorizeCreate checks the subject's mandatory attributes against the
// policy engine, validates the new document's marking fields, then applies
// the clearance gate against the requested document level. No per-document
// policy evaluation runs; there is no stored resource to evaluate against
// yet.
func (g *Guard) AuthorizeCreate(ctx context.Context, user *jwt.UserAttributes, attrs *docstore.DocumentAttributes) *Decision {
	start := time.Now()

	if err := g.policies.ValidateMandatoryAttributes(ctx, user); err != nil {
		var decision *Decision
		if errors.Is(err, policy.ErrMissingAttributes) {
			decision = DenyValidation(CodeMissingAttributes, err.Error())
		} else {
			// The engine could not be consulted; creation fails closed.
			decision = DenyPolicy("policy evaluation unavailable")
		}
		g.record(ctx, audit.ActionCreate, user, "", decision, start)
		return decision
	}

	if fieldErrs := g.vocab.ValidateAttributes(attrs, g.hierarchy); len(fieldErrs) > 0 {
		decision := DenyValidation(CodeInvalidField, fieldErrs.Error())
		g.record(ctx, audit.ActionCreate, user, "", decision, start)
		return decision
	}

	decision := g.checkClearance(user, attrs.Clearance)
	g.record(ctx, audit.ActionCreate, user, "", decision, start)
	return decision
}

// FilterReadable evaluates the compound policy for each document and
// returns the subset the subject may read. Documents whose evaluation
// fails are treated as denied, never surfaced. One list decision is
// recorded covering the whole operation, carrying the per-document
// outcome counts; a list where every document was withheld is recorded
// as denied, not as an allow.
func (g *Guard) FilterReadable(ctx context.Context, user *jwt.UserAttributes, docs []*docstore.Document) []*docstore.Document {
	start := time.Now()

	readable := make([]*docstore.Document, 0, len(docs))
	var denied, failed int
	for _, doc := range docs {
		verdict, err := g.policies.EvaluateAccess(ctx, user, &doc.Attributes, ActionRead)
		if err != nil {
			failed++
			continue
		}
		if !verdict.Allow {
			denied++
			continue
		}
		readable = append(readable, doc)
	}

	if failed > 0 {
		g.logger.Warn("list evaluation withheld documents on endpoint failure",
			observability.String("subject", user.UniqueIdentifier),
			observability.Int("failed", failed),
		)
	}

	decision := Allowed(StagePolicy)
	if len(docs) > 0 && len(readable) == 0 {
		decision = DenyPolicy("no listed document is readable")
	}

	g.metrics.RecordDecision(decision, time.Since(start))

	outcome := audit.OutcomeSuccess
	if !decision.Allow {
		outcome = audit.OutcomeDenied
	}
	if failed > 0 {
		outcome = audit.OutcomeError
	}
	event := audit.NewEvent(audit.EventTypeAuthorization, audit.ActionList, outcome).
		WithStage(decision.Stage).
		WithReason(decision.Reason).
		WithSubject(&audit.Subject{
			ID:        user.UniqueIdentifier,
			Clearance: user.Clearance,
			Country:   user.CountryOfAffiliation,
		}).
		WithMetadata("documents", len(docs)).
		WithMetadata("readable", len(readable)).
		WithMetadata("denied", denied).
		WithMetadata("errors", failed)
	if decision.Code != "" {
		event = event.WithCode(decision.Code)
	}
	g.auditLog.LogEvent(ctx, event)

	return readable
}

// ValidateAttributes exposes the vocabulary check for update payloads.
func (g *Guard) ValidateAttributes(attrs *docstore.DocumentAttributes) FieldErrors {
	return g.vocab.ValidateAttributes(attrs, g.hierarchy)
}

func (g *Guard) authorizeMutation(
	ctx context.Context,
	auditAction audit.Action,
	action string,
	user *jwt.UserAttributes,
	docID string,
	attrs *docstore.DocumentAttributes,
) (*docstore.Document, *Decision) {
	start := time.Now()

	doc, decision := g.fetch(ctx, docID)
	if decision != nil {
		g.record(ctx, auditAction, user, docID, decision, start)
		return nil, decision
	}

	if attrs != nil {
		if fieldErrs := g.vocab.ValidateAttributes(attrs, g.hierarchy); len(fieldErrs) > 0 {
			decision = DenyValidation(CodeInvalidField, fieldErrs.Error())
			g.record(ctx, auditAction, user, docID, decision, start)
			return nil, decision
		}
	}

	if !g.reducedAssuranceMutations {
		decision = g.evaluatePolicy(ctx, user, &doc.Attributes, action)
		if !decision.Allow {
			g.record(ctx, auditAction, user, docID, decision, start)
			return nil, decision
		}
	}

	decision = g.checkClearance(user, doc.Attributes.Clearance)
	if decision.Allow && attrs != nil {
		// Raising the document's level past the subject's own clearance
		// is not permitted either.
		decision = g.checkClearance(user, attrs.Clearance)
	}
	g.record(ctx, auditAction, user, docID, decision, start)
	if !decision.Allow {
		return nil, decision
	}
	return doc, decision
}

// fetch loads the document, translating store failures into decisions.
// A nil decision means the document was found.
func (g *Guard) fetch(ctx context.Context, docID string) (*docstore.Document, *Decision) {
	doc, err := g.store.FindByID(ctx, docID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, DenyNotFound()
		}
		g.logger.Error("document lookup failed",
			observability.String("document_id", docID),
			observability.Error(err),
		)
		return nil, DenyInternal(StageResource)
	}
	return doc, nil
}

func (g *Guard) evaluatePolicy(ctx context.Context, user *jwt.UserAttributes, attrs *docstore.DocumentAttributes, action string) *Decision {
	verdict, err := g.policies.EvaluateAccess(ctx, user, attrs, action)
	if err != nil {
		// Endpoint failures deny with the policy code; the cause is
		// already logged by the orchestrator.
		return DenyPolicy("policy evaluation unavailable")
	}
	if !verdict.Allow {
		reason := ""
		for _, ev := range verdict.Endpoints {
			if ev.Result != nil && !ev.Result.Allow && ev.Result.Reason != "" {
				reason = ev.Result.Reason
				break
			}
		}
		return DenyPolicy(reason)
	}
	return Allowed(StagePolicy)
}

func (g *Guard) checkClearance(user *jwt.UserAttributes, requiredLevel string) *Decision {
	meets, err := g.hierarchy.Meets(user.Clearance, requiredLevel)
	if err != nil {
		// Unrecognized labels deny; they never default to lowest.
		g.logger.Warn("clearance comparison failed",
			observability.String("subject_level", user.Clearance),
			observability.String("required_level", requiredLevel),
			observability.Error(err),
		)
		return DenyClearance()
	}
	if !meets {
		return DenyClearance()
	}
	return Allowed(StageClearance)
}

// record writes the decision to the audit trail and metrics. Called
// exactly once per guard check.
func (g *Guard) record(ctx context.Context, action audit.Action, user *jwt.UserAttributes, docID string, decision *Decision, start time.Time) {
	g.metrics.RecordDecision(decision, time.Since(start))

	outcome := audit.OutcomeDenied
	if decision.Allow {
		outcome = audit.OutcomeSuccess
	} else if decision.Code == CodeInternal {
		outcome = audit.OutcomeError
	}

	event := audit.NewEvent(audit.EventTypeAuthorization, action, outcome).
		WithStage(decision.Stage).
		WithReason(decision.Reason)
	if decision.Code != "" {
		event = event.WithCode(decision.Code)
	}
	if user != nil {
		event = event.WithSubject(&audit.Subject{
			ID:        user.UniqueIdentifier,
			Clearance: user.Clearance,
			Country:   user.CountryOfAffiliation,
		})
	}
	if docID != "" {
		event = event.WithResource(&audit.Resource{Type: "document", ID: docID})
	}

	g.auditLog.LogEvent(ctx, event)
}
