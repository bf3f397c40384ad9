package classification

import (
	"context"
	"fmt"
	"strings"

	"shelver/internal/library"
	"shelver/internal/logging"
	"shelver/internal/metrics"
	"shelver/internal/services"
	"shelver/internal/services/arr"
)

// ReassignResult is what the execution primitive returns.
type ReassignResult struct {
	Correction Correction  `json:"correction"`
	Route      *arr.Result `json:"route,omitempty"`
}

// PreviewResult describes a reassignment without performing it.
type PreviewResult struct {
	ClassificationID int64        `json:"classification_id"`
	Title            string       `json:"title"`
	FromLibraryID    *int64       `json:"from_library_id"`
	ToLibrary        string       `json:"to_library"`
	Route            *arr.Preview `json:"route,omitempty"`
}

// target loads the record and the enabled destination library for a
// reassignment and checks that they agree on media type.
func (e *Engine) target(ctx context.Context, op string, classificationID, libraryID int64) (*Record, library.Library, error) {
	rec, err := e.history.Record(ctx, classificationID)
	if err != nil {
		return nil, library.Library{}, err
	}
	if rec == nil {
		return nil, library.Library{}, services.Wrap(services.ErrNotFound, "classification", op, fmt.Sprintf("classification %d", classificationID), nil)
	}
	lib, err := e.catalog.Library(ctx, libraryID)
	if err != nil {
		return nil, library.Library{}, err
	}
	if lib == nil {
		return nil, library.Library{}, services.Wrap(services.ErrNotFound, "classification", op, fmt.Sprintf("library %d", libraryID), nil)
	}
	if !lib.Enabled {
		return nil, library.Library{}, services.Wrap(services.ErrValidation, "classification", op, fmt.Sprintf("library %q is disabled", lib.Name), nil)
	}
	if lib.MediaType != rec.MediaType {
		return nil, library.Library{}, services.Wrap(services.ErrValidation, "classification", op,
			fmt.Sprintf("library %q holds %s, classification %d is %s", lib.Name, lib.MediaType, rec.ID, rec.MediaType), nil)
	}
	if e.router != nil && !lib.Route.Configured() {
		return nil, library.Library{}, services.Wrap(services.ErrValidation, "classification", op, fmt.Sprintf("library %q has no routing mapping", lib.Name), nil)
	}
	return rec, *lib, nil
}

// PreviewReassign runs every check Reassign would, plus a read-only probe of
// the router, without changing anything.
func (e *Engine) PreviewReassign(ctx context.Context, classificationID, libraryID int64) (PreviewResult, error) {
	rec, lib, err := e.target(ctx, "preview", classificationID, libraryID)
	if err != nil {
		return PreviewResult{}, err
	}
	result := PreviewResult{ClassificationID: rec.ID, Title: rec.Title, FromLibraryID: rec.LibraryID, ToLibrary: lib.Name}
	if e.router == nil {
		return result, nil
	}
	preview, err := e.router.Preview(ctx, lib, rec.Metadata)
	if err != nil {
		return result, err
	}
	result.Route = &preview
	return result, nil
}

// Reassign moves a classification to another library: route first, then
// record the correction and update the record, then learn from it. A routing
// failure leaves the record untouched.
func (e *Engine) Reassign(ctx context.Context, classificationID, libraryID int64, correctedBy string) (ReassignResult, error) {
	rec, lib, err := e.target(ctx, "reassign", classificationID, libraryID)
	if err != nil {
		return ReassignResult{}, err
	}
	logger := logging.WithContext(ctx, e.logger).With(
		logging.Int64(logging.FieldClassificationID, rec.ID),
		logging.Int64(logging.FieldLibraryID, lib.ID))

	var out ReassignResult
	if e.router != nil {
		result, err := e.router.Route(ctx, lib, rec.Metadata)
		if err != nil {
			metrics.RoutesTotal.WithLabelValues("reassign", "error").Inc()
			return ReassignResult{}, err
		}
		metrics.RoutesTotal.WithLabelValues("reassign", "ok").Inc()
		out.Route = &result
	}

	correction, err := e.history.ApplyCorrection(ctx, Correction{
		ClassificationID:   rec.ID,
		ExternalID:         rec.ExternalID,
		MediaType:          rec.MediaType,
		OriginalLibraryID:  rec.LibraryID,
		CorrectedLibraryID: lib.ID,
		CorrectedBy:        strings.TrimSpace(correctedBy),
	}, rec.Metadata)
	if err != nil {
		return ReassignResult{}, fmt.Errorf("record correction: %w", err)
	}
	out.Correction = correction
	logger.Info("classification reassigned",
		logging.String("title", rec.Title),
		logging.String("library", lib.Name),
		logging.String("corrected_by", correction.CorrectedBy))
	return out, nil
}

// RecordResponse stores an operator's answer to a clarifying question. The
// record's confidence becomes confidenceBefore+boost clamped to 0..100.
func (e *Engine) RecordResponse(ctx context.Context, classificationID int64, question, answer string, confidenceBefore, boost int) (Clarification, error) {
	question, answer = strings.TrimSpace(question), strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return Clarification{}, services.Wrap(services.ErrValidation, "classification", "clarify", "question and answer are required", nil)
	}
	rec, err := e.history.Record(ctx, classificationID)
	if err != nil {
		return Clarification{}, err
	}
	if rec == nil {
		return Clarification{}, services.Wrap(services.ErrNotFound, "classification", "clarify", fmt.Sprintf("classification %d", classificationID), nil)
	}
	cl := Clarification{
		ClassificationID: rec.ID,
		Question:         question,
		Answer:           answer,
		ConfidenceBefore: clampConfidence(confidenceBefore),
		ConfidenceAfter:  clampConfidence(confidenceBefore + boost),
		Boost:            boost,
	}
	return e.history.RecordClarification(ctx, cl, rec.LibraryID)
}
