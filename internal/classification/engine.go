package classification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"shelver/internal/library"
	"shelver/internal/logging"
	"shelver/internal/media"
	"shelver/internal/metrics"
	"shelver/internal/notifications"
	"shelver/internal/services"
	"shelver/internal/services/arr"
	"shelver/internal/services/llm"
)

// Catalog is the read side of the library store.
type Catalog interface {
	EnabledLibraries(ctx context.Context, mediaType string) ([]library.Library, error)
	Rules(ctx context.Context, mediaType string) ([]library.Rule, error)
	Library(ctx context.Context, id int64) (*library.Library, error)
}

// History is the persistence the engine needs. *Store implements it.
type History interface {
	LatestCorrection(ctx context.Context, externalID, mediaType string) (*Correction, error)
	Patterns(ctx context.Context, mediaType string) ([]Pattern, error)
	InsertRecord(ctx context.Context, rec *Record) error
	Record(ctx context.Context, id int64) (*Record, error)
	ApplyCorrection(ctx context.Context, c Correction, md media.Metadata) (Correction, error)
	RecordClarification(ctx context.Context, cl Clarification, libraryID *int64) (Clarification, error)
}

// Enricher resolves metadata and never fails.
type Enricher interface {
	Enrich(ctx context.Context, externalID, mediaType string) media.Metadata
}

// AIClassifier picks one of the candidate libraries.
type AIClassifier interface {
	ChooseLibrary(ctx context.Context, prompt string, candidates []llm.Candidate) (llm.Choice, error)
}

// Router applies and previews library assignments on the media managers.
type Router interface {
	Route(ctx context.Context, lib library.Library, md media.Metadata) (arr.Result, error)
	Preview(ctx context.Context, lib library.Library, md media.Metadata) (arr.Preview, error)
}

// Engine runs the tiered decision function and the correction primitives.
type Engine struct {
	catalog  Catalog
	history  History
	enricher Enricher
	ai       AIClassifier
	router   Router
	notifier notifications.Service
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAI sets the AI fallback. Without it the AI tier behaves as a failed call.
func WithAI(ai AIClassifier) Option { return func(e *Engine) { e.ai = ai } }

// WithRouter sets the router. Without it assignments are recorded only.
func WithRouter(router Router) Option { return func(e *Engine) { e.router = router } }

// WithNotifier sets the notification sink.
func WithNotifier(n notifications.Service) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine wires the engine.
func NewEngine(catalog Catalog, history History, enricher Enricher, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		history:  history,
		enricher: enricher,
		notifier: notifications.NewService(nil),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "classification")
	return e
}

// Decide evaluates the tiers in order and returns the first accepted
// decision. Errors come only from the stores.
func (e *Engine) Decide(ctx context.Context, md media.Metadata, mediaType string) (Decision, error) {
	libs, err := e.catalog.EnabledLibraries(ctx, mediaType)
	if err != nil {
		return Decision{}, err
	}
	if len(libs) == 0 {
		return Decision{Method: MethodNoLibraries, Reason: "No enabled libraries for media type " + mediaType}, nil
	}
	byID := make(map[int64]library.Library, len(libs))
	for _, lib := range libs {
		byID[lib.ID] = lib
	}

	if decision, ok, err := e.exactMatch(ctx, md, mediaType, byID); err != nil || ok {
		return decision, err
	}
	if decision, ok, err := e.learnedPattern(ctx, md, mediaType, byID); err != nil || ok {
		return decision, err
	}
	if decision, ok, err := e.ruleMatch(ctx, md, mediaType, byID); err != nil || ok {
		return decision, err
	}
	return e.aiClassification(ctx, md, libs), nil
}

func decisionFor(lib library.Library, confidence int, method Method, reason string) Decision {
	id := lib.ID
	return Decision{LibraryID: &id, LibraryName: lib.Name, Confidence: clampConfidence(confidence), Method: method, Reason: reason}
}

func (e *Engine) exactMatch(ctx context.Context, md media.Metadata, mediaType string, libs map[int64]library.Library) (Decision, bool, error) {
	if md.ExternalID == "" {
		return Decision{}, false, nil
	}
	correction, err := e.history.LatestCorrection(ctx, md.ExternalID, mediaType)
	if err != nil || correction == nil {
		return Decision{}, false, err
	}
	lib, ok := libs[correction.CorrectedLibraryID]
	if !ok {
		return Decision{}, false, nil
	}
	reason := fmt.Sprintf("Previously corrected to %s", lib.Name)
	if correction.CorrectedBy != "" {
		reason += " by " + correction.CorrectedBy
	}
	return decisionFor(lib, ExactMatchConfidence, MethodExactMatch, reason), true, nil
}

// learnedPattern takes the first matching pattern in rank order and accepts
// it only when it clears the threshold; a weaker first match falls through
// rather than trying lower ranked patterns.
func (e *Engine) learnedPattern(ctx context.Context, md media.Metadata, mediaType string, libs map[int64]library.Library) (Decision, bool, error) {
	patterns, err := e.history.Patterns(ctx, mediaType)
	if err != nil {
		return Decision{}, false, err
	}
	for _, pattern := range patterns {
		lib, ok := libs[pattern.LibraryID]
		if !ok || !pattern.Matches(md) {
			continue
		}
		percent := pattern.Percent()
		if percent < LearnedPatternThreshold {
			e.logger.Debug("learned pattern below threshold",
				logging.String("pattern_type", string(pattern.Type)),
				logging.String("pattern_key", pattern.Key),
				logging.Float64("score", percent))
			return Decision{}, false, nil
		}
		reason := fmt.Sprintf("Learned %s pattern %q (seen %d times)", pattern.Type, displayValue(pattern), pattern.Occurrences)
		return decisionFor(lib, int(math.Round(percent)), MethodLearnedPattern, reason), true, nil
	}
	return Decision{}, false, nil
}

func displayValue(p Pattern) string {
	if p.Value != "" {
		return p.Value
	}
	return p.Key
}

func (e *Engine) ruleMatch(ctx context.Context, md media.Metadata, mediaType string, libs map[int64]library.Library) (Decision, bool, error) {
	rules, err := e.catalog.Rules(ctx, mediaType)
	if err != nil {
		return Decision{}, false, err
	}
	for _, rule := range rules {
		lib, ok := libs[rule.LibraryID]
		if !ok || !rule.Matches(md) {
			continue
		}
		if RuleMatchConfidence < RuleMatchThreshold {
			return Decision{}, false, nil
		}
		return decisionFor(lib, RuleMatchConfidence, MethodRuleMatch, fmt.Sprintf("Matched rule %q", rule.Name)), true, nil
	}
	return Decision{}, false, nil
}

func (e *Engine) aiClassification(ctx context.Context, md media.Metadata, libs []library.Library) Decision {
	candidates := make([]llm.Candidate, 0, len(libs))
	for _, lib := range libs {
		candidates = append(candidates, llm.Candidate{ID: lib.ID, Name: lib.Name, Description: lib.Description})
	}
	if e.ai == nil {
		metrics.AIRequestsTotal.WithLabelValues("error").Inc()
		return decisionFor(libs[0], AIFailureConfidence, MethodAI, ReasonAIFailure)
	}

	start := time.Now()
	choice, err := e.ai.ChooseLibrary(ctx, BuildPrompt(md), candidates)
	metrics.AILatency.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, llm.ErrMalformedResponse):
		metrics.AIRequestsTotal.WithLabelValues("parse_error").Inc()
		logging.WarnWithContext(e.logger, "ai response could not be parsed", "ai_parse_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "first candidate library chosen with low confidence"),
			logging.String(logging.FieldErrorHint, "check the model's JSON output or switch models"))
		return decisionFor(libs[0], AIParseFailureConfidence, MethodAI, ReasonParseFailure)
	case err != nil:
		metrics.AIRequestsTotal.WithLabelValues("error").Inc()
		logging.WarnWithContext(e.logger, "ai classification failed", "ai_failed",
			logging.Error(err),
			logging.ErrorKind(services.Kind(err)),
			logging.String(logging.FieldImpact, "first candidate library chosen"),
			logging.String(logging.FieldErrorHint, "verify the llm base_url and that the model is loaded"))
		return decisionFor(libs[0], AIFailureConfidence, MethodAI, ReasonAIFailure)
	case choice.Index < 0 || choice.Index >= len(libs):
		metrics.AIRequestsTotal.WithLabelValues("parse_error").Inc()
		return decisionFor(libs[0], AIParseFailureConfidence, MethodAI, ReasonParseFailure)
	}
	metrics.AIRequestsTotal.WithLabelValues("ok").Inc()
	reason := choice.Reason
	if reason == "" {
		reason = "AI classification"
	}
	return decisionFor(libs[choice.Index], int(math.Round(choice.Confidence)), MethodAI, reason)
}

// Classify enriches, decides, routes best-effort and persists one item.
func (e *Engine) Classify(ctx context.Context, req Request) (Outcome, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	logger := logging.WithContext(ctx, e.logger).With(
		logging.String("external_id", req.ExternalID),
		logging.String("media_type", req.MediaType))

	md := e.enricher.Enrich(ctx, req.ExternalID, req.MediaType)
	md.ExternalID, md.MediaType = req.ExternalID, req.MediaType
	if md.Title == "" {
		md.Title = req.Title
	}

	decision, err := e.Decide(ctx, md, req.MediaType)
	if err != nil {
		return Outcome{}, fmt.Errorf("decide: %w", err)
	}

	rec := Record{
		ExternalID: req.ExternalID,
		MediaType:  req.MediaType,
		Title:      md.DisplayTitle(),
		Metadata:   md,
		LibraryID:  decision.LibraryID,
		Confidence: decision.Confidence,
		Method:     decision.Method,
		Reason:     decision.Reason,
	}
	if req.TaskID > 0 {
		taskID := req.TaskID
		rec.TaskID = &taskID
	}

	outcome := Outcome{Decision: decision}
	if decision.Assigned() {
		outcome.Route = e.routeLive(ctx, logger, *decision.LibraryID, md, &rec)
	}

	if err := e.history.InsertRecord(ctx, &rec); err != nil {
		return Outcome{}, err
	}
	outcome.Record = rec

	metrics.ObserveDecision(string(decision.Method), req.MediaType, decision.Confidence)
	logger.Info("item classified",
		logging.Args(append(logging.DecisionAttrs("classification", string(decision.Method), decision.Reason),
			logging.Int64(logging.FieldClassificationID, rec.ID),
			logging.String("library", decision.LibraryName),
			logging.Int("confidence", decision.Confidence),
			logging.Bool("routed", rec.Routed),
			logging.Bool("degraded_metadata", md.IsDegraded()))...)...)
	e.publish(ctx, notifications.EventClassified, notifications.Payload{
		"title":      rec.Title,
		"library":    decision.LibraryName,
		"confidence": decision.Confidence,
		"method":     string(decision.Method),
		"mediaType":  req.MediaType,
	})
	return outcome, nil
}

// routeLive forwards a live decision. The library is re-read so a library
// disabled since the decision is not routed to; every failure is recorded on
// the record and never fails the classification.
func (e *Engine) routeLive(ctx context.Context, logger *slog.Logger, libraryID int64, md media.Metadata, rec *Record) *arr.Result {
	if e.router == nil {
		return nil
	}
	lib, err := e.catalog.Library(ctx, libraryID)
	switch {
	case err != nil:
		rec.RouteError = "resolve library: " + err.Error()
	case lib == nil || !lib.Enabled:
		rec.RouteError = fmt.Sprintf("library %d was disabled before routing", libraryID)
	case !lib.Route.Configured():
		return nil
	default:
		result, routeErr := e.router.Route(ctx, *lib, md)
		if routeErr == nil {
			metrics.RoutesTotal.WithLabelValues("live", "ok").Inc()
			rec.Routed = true
			return &result
		}
		rec.RouteError = routeErr.Error()
	}
	metrics.RoutesTotal.WithLabelValues("live", "error").Inc()
	logging.WarnWithContext(logger, "routing failed; classification kept", "route_failed",
		logging.Int64(logging.FieldLibraryID, libraryID),
		logging.String("route_error", rec.RouteError),
		logging.String(logging.FieldImpact, "item not moved in the media manager"),
		logging.String(logging.FieldErrorHint, "reassign the classification once the router is reachable"))
	name := strconv.FormatInt(libraryID, 10)
	if lib != nil {
		name = lib.Name
	}
	e.publish(ctx, notifications.EventRouteFailed, notifications.Payload{
		"title":   md.DisplayTitle(),
		"library": name,
		"error":   rec.RouteError,
	})
	return nil
}

func (e *Engine) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		e.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
