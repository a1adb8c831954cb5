package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/docguard/internal/auth/jwt"
	"github.com/vyrodovalexey/docguard/internal/docstore"
	"github.com/vyrodovalexey/docguard/internal/observability"
)

// Verdict is the combined outcome of a compound evaluation.
type Verdict struct {
	// Allow is true only when every endpoint allowed.
	Allow bool

	// Endpoints holds each endpoint's individual outcome.
	Endpoints []EndpointVerdict
}

// EndpointVerdict is one endpoint's contribution to a Verdict.
type EndpointVerdict struct {
	Endpoint string
	Result   *Result
	Err      error
}

// DeniedBy returns the names of the endpoints that denied or failed.
func (v *Verdict) DeniedBy() []string {
	var names []string
	for _, ev := range v.Endpoints {
		if ev.Err != nil || ev.Result == nil || !ev.Result.Allow {
			names = append(names, ev.Endpoint)
		}
	}
	return names
}

// Orchestrator fans an access question out to every configured policy
// endpoint and combines the verdicts by AND. Evaluation fails closed: an
// endpoint error or timeout counts as a deny.
type Orchestrator struct {
	clients   []Client
	mandatory Client
	timeout   time.Duration
	logger    observability.Logger
	metrics   *Metrics
}

// OrchestratorOption is a functional option for the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrchestratorMetrics sets the metrics.
func WithOrchestratorMetrics(metrics *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithMandatoryAttributesClient sets the client answering the mandatory
// attribute rule. Without this option the first access client is asked,
// which only works when its policy document also exposes the rule;
// production configuration points this at a dedicated policy path.
func WithMandatoryAttributesClient(client Client) OrchestratorOption {
	return func(o *Orchestrator) {
		if client != nil {
			o.mandatory = client
		}
	}
}

// WithEvaluationTimeout bounds the whole compound evaluation.
func WithEvaluationTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// NewOrchestrator creates an orchestrator over the given clients. At least
// two independently addressed endpoints are required so that no single
// policy source can grant access alone.
func NewOrchestrator(clients []Client, opts ...OrchestratorOption) (*Orchestrator, error) {
	if len(clients) < 2 {
		return nil, fmt.Errorf("at least two policy endpoints are required, got %d", len(clients))
	}

	o := &Orchestrator{
		clients: clients,
		timeout: DefaultEvaluationTimeout,
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.metrics == nil {
		o.metrics = GetSharedMetrics()
	}
	if o.mandatory == nil {
		o.mandatory = clients[0]
	}

	return o, nil
}

// EvaluateAccess asks every endpoint whether user may perform action on the
// document. The calls run concurrently; each endpoint's result and error are
// captured individually so one side's timeout never masks the other's
// outcome in logs.
func (o *Orchestrator) EvaluateAccess(
	ctx context.Context,
	user *jwt.UserAttributes,
	doc *docstore.DocumentAttributes,
	action string,
) (*Verdict, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	input := &Input{
		User:     user,
		Resource: doc,
		Action:   action,
	}

	verdict := &Verdict{
		Endpoints: make([]EndpointVerdict, len(o.clients)),
	}

	var wg sync.WaitGroup
	for i, client := range o.clients {
		wg.Add(1)
		go func(i int, client Client) {
			defer wg.Done()

			callStart := time.Now()
			result, err := client.Evaluate(ctx, input)
			o.metrics.RecordEndpointCall(client.Name(), outcomeLabel(result, err), time.Since(callStart))

			verdict.Endpoints[i] = EndpointVerdict{
				Endpoint: client.Name(),
				Result:   result,
				Err:      err,
			}
		}(i, client)
	}
	wg.Wait()

	allow := true
	var firstErr error
	for _, ev := range verdict.Endpoints {
		if ev.Err != nil {
			allow = false
			if firstErr == nil {
				firstErr = &EndpointError{Endpoint: ev.Endpoint, Cause: ev.Err}
			}
			o.logger.Error("policy endpoint failed, denying access",
				observability.String("endpoint", ev.Endpoint),
				observability.String("action", action),
				observability.Error(ev.Err),
			)
			continue
		}
		if ev.Result == nil || !ev.Result.Allow {
			allow = false
		}
	}
	verdict.Allow = allow

	o.metrics.RecordEvaluation(decisionLabel(allow), time.Since(start))
	o.logger.Debug("compound policy evaluation",
		observability.String("subject", user.UniqueIdentifier),
		observability.String("action", action),
		observability.Bool("allowed", allow),
	)

	if firstErr != nil {
		return verdict, firstErr
	}
	return verdict, nil
}

// ValidateMandatoryAttributes checks that the subject carries every
// attribute policy evaluation depends on. Called before document creation.
// The local field check rejects absent claims without a network round
// trip; the attribute set is then confirmed against the engine's mandatory
// attribute rule, which also covers constraints the fields alone cannot
// express. An unreachable engine denies.
func (o *Orchestrator) ValidateMandatoryAttributes(ctx context.Context, user *jwt.UserAttributes) error {
	if missing := missingMandatoryFields(user); len(missing) > 0 {
		return &MissingAttributesError{Missing: missing}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	callStart := time.Now()
	result, err := o.mandatory.Evaluate(ctx, &Input{User: user})
	o.metrics.RecordEndpointCall(o.mandatory.Name(), outcomeLabel(result, err), time.Since(callStart))

	if err != nil {
		o.logger.Error("mandatory attribute check failed, denying",
			observability.String("endpoint", o.mandatory.Name()),
			observability.Error(err),
		)
		return &EndpointError{Endpoint: o.mandatory.Name(), Cause: err}
	}
	if result == nil || !result.Allow {
		return &MissingAttributesError{}
	}
	return nil
}

func missingMandatoryFields(user *jwt.UserAttributes) []string {
	var missing []string
	if user.UniqueIdentifier == "" {
		missing = append(missing, "uniqueIdentifier")
	}
	if user.Clearance == "" {
		missing = append(missing, "clearance")
	}
	if user.CountryOfAffiliation == "" {
		missing = append(missing, "countryOfAffiliation")
	}
	return missing
}

func outcomeLabel(result *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case result != nil && result.Allow:
		return "allow"
	default:
		return "deny"
	}
}

func decisionLabel(allow bool) string {
	if allow {
		return "allow"
	}
	return "deny"
}
