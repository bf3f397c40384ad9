package classification

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"shelver/internal/database"
	"shelver/internal/media"
	"shelver/internal/services"
	"shelver/internal/services/arr"
)

// Method names the tier that produced a decision.
type Method string

const (
	MethodExactMatch     Method = "exact_match"
	MethodLearnedPattern Method = "learned_pattern"
	MethodRuleMatch      Method = "rule_match"
	MethodAI             Method = "ai_classification"
	MethodNoLibraries    Method = "no_libraries"
)

// Tier confidences and acceptance thresholds (0-100).
const (
	ExactMatchConfidence     = 100
	LearnedPatternThreshold  = 80
	RuleMatchConfidence      = 85
	RuleMatchThreshold       = 70
	AIParseFailureConfidence = 30
	AIFailureConfidence      = 50
	CorrectionConfidence     = 100
)

const (
	ReasonParseFailure = "Fallback classification (parsing failed)"
	ReasonAIFailure    = "Fallback classification (AI failed)"
)

// Decision is the outcome of the tiered decision function.
type Decision struct {
	LibraryID   *int64 `json:"library_id"`
	LibraryName string `json:"library_name,omitempty"`
	Confidence  int    `json:"confidence"`
	Method      Method `json:"method"`
	Reason      string `json:"reason"`
}

// Assigned reports whether a destination library was chosen.
func (d Decision) Assigned() bool { return d.LibraryID != nil }

// Request asks for one item to be classified.
type Request struct {
	ExternalID string `json:"external_id"`
	MediaType  string `json:"media_type"`
	Title      string `json:"title,omitempty"`
	TaskID     int64  `json:"-"`
}

// Normalize trims fields and canonicalises the media type.
func (r Request) Normalize() Request {
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.MediaType = media.NormalizeType(r.MediaType)
	r.Title = strings.TrimSpace(r.Title)
	return r
}

// Validate rejects requests that can never be classified.
func (r Request) Validate() error {
	if r.ExternalID == "" {
		return services.Wrap(services.ErrValidation, "classification", "validate", "external id is required", nil)
	}
	if !media.ValidType(r.MediaType) {
		return services.Wrap(services.ErrValidation, "classification", "validate", "unsupported media type "+r.MediaType, nil)
	}
	return nil
}

// Record is one persisted classification run.
type Record struct {
	ID         int64          `json:"id"`
	ExternalID string         `json:"external_id"`
	MediaType  string         `json:"media_type"`
	Title      string         `json:"title"`
	Metadata   media.Metadata `json:"metadata"`
	LibraryID  *int64         `json:"library_id"`
	Confidence int            `json:"confidence"`
	Method     Method         `json:"method"`
	Reason     string         `json:"reason"`
	Routed     bool           `json:"routed"`
	RouteError string         `json:"route_error,omitempty"`
	TaskID     *int64         `json:"task_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Correction is the audit entry of a manual override.
type Correction struct {
	ID                 int64     `json:"id"`
	ClassificationID   int64     `json:"classification_id"`
	ExternalID         string    `json:"external_id"`
	MediaType          string    `json:"media_type"`
	OriginalLibraryID  *int64    `json:"original_library_id"`
	CorrectedLibraryID int64     `json:"corrected_library_id"`
	CorrectedBy        string    `json:"corrected_by,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Clarification is an operator answer that adjusted a record's confidence.
type Clarification struct {
	ID               int64     `json:"id"`
	ClassificationID int64     `json:"classification_id"`
	Question         string    `json:"question"`
	Answer           string    `json:"answer"`
	ConfidenceBefore int       `json:"confidence_before"`
	ConfidenceAfter  int       `json:"confidence_after"`
	Boost            int       `json:"boost"`
	CreatedAt        time.Time `json:"created_at"`
}

// Outcome is what Classify returns.
type Outcome struct {
	Record   Record      `json:"record"`
	Decision Decision    `json:"decision"`
	Route    *arr.Result `json:"route,omitempty"`
}

const recordColumns = "id, external_id, media_type, title, metadata_snapshot, library_id, confidence, method, reason, routed, route_error, task_id, created_at, updated_at"

type recordRow struct {
	ID         int64          `db:"id"`
	ExternalID string         `db:"external_id"`
	MediaType  string         `db:"media_type"`
	Title      sql.NullString `db:"title"`
	Metadata   string         `db:"metadata_snapshot"`
	LibraryID  sql.NullInt64  `db:"library_id"`
	Confidence int            `db:"confidence"`
	Method     string         `db:"method"`
	Reason     sql.NullString `db:"reason"`
	Routed     int            `db:"routed"`
	RouteError sql.NullString `db:"route_error"`
	TaskID     sql.NullInt64  `db:"task_id"`
	CreatedAt  string         `db:"created_at"`
	UpdatedAt  string         `db:"updated_at"`
}

func (r recordRow) toRecord() Record {
	rec := Record{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		MediaType:  r.MediaType,
		Title:      r.Title.String,
		LibraryID:  nullInt(r.LibraryID),
		Confidence: r.Confidence,
		Method:     Method(r.Method),
		Reason:     r.Reason.String,
		Routed:     r.Routed != 0,
		RouteError: r.RouteError.String,
		TaskID:     nullInt(r.TaskID),
	}
	_ = json.Unmarshal([]byte(r.Metadata), &rec.Metadata)
	rec.CreatedAt, _ = database.ParseTime(r.CreatedAt)
	rec.UpdatedAt, _ = database.ParseTime(r.UpdatedAt)
	return rec
}

type correctionRow struct {
	ID                 int64          `db:"id"`
	ClassificationID   int64          `db:"classification_id"`
	ExternalID         string         `db:"external_id"`
	MediaType          string         `db:"media_type"`
	OriginalLibraryID  sql.NullInt64  `db:"original_library_id"`
	CorrectedLibraryID int64          `db:"corrected_library_id"`
	CorrectedBy        sql.NullString `db:"corrected_by"`
	CreatedAt          string         `db:"created_at"`
}

func (r correctionRow) toCorrection() Correction {
	c := Correction{
		ID:                 r.ID,
		ClassificationID:   r.ClassificationID,
		ExternalID:         r.ExternalID,
		MediaType:          r.MediaType,
		OriginalLibraryID:  nullInt(r.OriginalLibraryID),
		CorrectedLibraryID: r.CorrectedLibraryID,
		CorrectedBy:        r.CorrectedBy.String,
	}
	c.CreatedAt, _ = database.ParseTime(r.CreatedAt)
	return c
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func clampConfidence(value int) int {
	return max(0, min(100, value))
}
