package classification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shelver/internal/database"
	"shelver/internal/media"
	"shelver/internal/services"
)

// Store persists classification history, corrections, clarifications and
// learned patterns.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore binds a history store to an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) timestamp() string {
	return database.FormatTime(s.now())
}

// InsertRecord persists a new classification record and sets its id and
// timestamps.
func (s *Store) InsertRecord(ctx context.Context, rec *Record) error {
	snapshot, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata snapshot: %w", err)
	}
	now := s.timestamp()
	id, err := s.db.InsertReturningID(ctx,
		`INSERT INTO classification_history (external_id, media_type, title, metadata_snapshot, library_id, confidence, method, reason, routed, route_error, task_id, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		rec.ExternalID, rec.MediaType, database.NullableString(rec.Title), string(snapshot),
		database.NullableInt64(rec.LibraryID), clampConfidence(rec.Confidence), string(rec.Method),
		database.NullableString(rec.Reason), database.BoolToInt(rec.Routed), database.NullableString(rec.RouteError),
		database.NullableInt64(rec.TaskID), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert classification record: %w", err)
	}
	rec.ID = id
	rec.CreatedAt, _ = database.ParseTime(now)
	rec.UpdatedAt = rec.CreatedAt
	return nil
}

// Record fetches one record. It returns nil when the id is unknown.
func (s *Store) Record(ctx context.Context, id int64) (*Record, error) {
	var row recordRow
	if err := s.db.GetWithRetry(ctx, &row, `SELECT `+recordColumns+` FROM classification_history WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get classification %d: %w", id, err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	ExternalID string
	MediaType  string
	LibraryID  int64
	Limit      int
}

// ListRecords returns the newest records first.
func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM classification_history WHERE 1 = 1`
	var args []any
	if filter.ExternalID != "" {
		query += ` AND external_id = ?`
		args = append(args, filter.ExternalID)
	}
	if filter.MediaType != "" {
		query += ` AND media_type = ?`
		args = append(args, filter.MediaType)
	}
	if filter.LibraryID > 0 {
		query += ` AND library_id = ?`
		args = append(args, filter.LibraryID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var rows []recordRow
	if err := s.db.SelectWithRetry(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// SetRouteStatus records the routing outcome of a record.
func (s *Store) SetRouteStatus(ctx context.Context, id int64, routed bool, routeErr string) error {
	res, err := s.db.ExecWithRetry(ctx,
		`UPDATE classification_history SET routed = ?, route_error = ?, updated_at = ? WHERE id = ?`,
		database.BoolToInt(routed), database.NullableString(routeErr), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update route status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "classification", "set route status", fmt.Sprintf("classification %d", id), nil)
	}
	return nil
}

// LatestCorrection returns the newest correction for the item whose target
// library is still enabled, or nil.
func (s *Store) LatestCorrection(ctx context.Context, externalID, mediaType string) (*Correction, error) {
	var row correctionRow
	err := s.db.GetWithRetry(ctx, &row,
		`SELECT c.id, c.classification_id, c.external_id, c.media_type, c.original_library_id, c.corrected_library_id, c.corrected_by, c.created_at
         FROM classification_corrections c
         JOIN libraries l ON l.id = c.corrected_library_id
         WHERE c.external_id = ? AND c.media_type = ? AND l.enabled = 1
         ORDER BY c.created_at DESC, c.id DESC
         LIMIT 1`, externalID, mediaType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest correction: %w", err)
	}
	c := row.toCorrection()
	return &c, nil
}

// Corrections lists the corrections applied to one record, oldest first.
func (s *Store) Corrections(ctx context.Context, classificationID int64) ([]Correction, error) {
	var rows []correctionRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT id, classification_id, external_id, media_type, original_library_id, corrected_library_id, corrected_by, created_at
         FROM classification_corrections WHERE classification_id = ? ORDER BY created_at ASC, id ASC`, classificationID); err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	out := make([]Correction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toCorrection())
	}
	return out, nil
}

// Patterns returns the learned patterns of enabled libraries for a media
// type in evaluation order.
func (s *Store) Patterns(ctx context.Context, mediaType string) ([]Pattern, error) {
	var rows []patternRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT p.id, p.pattern_type, p.pattern_key, p.pattern_value, p.library_id, p.confidence_score, p.occurrence_count, p.last_seen
         FROM learning_patterns p
         JOIN libraries l ON l.id = p.library_id
         WHERE l.media_type = ? AND l.enabled = 1
         ORDER BY p.confidence_score DESC, p.occurrence_count DESC, p.id ASC`, mediaType); err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	out := make([]Pattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPattern())
	}
	return out, nil
}

// LibraryPatterns lists every pattern learned for one library.
func (s *Store) LibraryPatterns(ctx context.Context, libraryID int64) ([]Pattern, error) {
	var rows []patternRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT `+patternColumns+` FROM learning_patterns WHERE library_id = ?
         ORDER BY confidence_score DESC, occurrence_count DESC, id ASC`, libraryID); err != nil {
		return nil, fmt.Errorf("list library patterns: %w", err)
	}
	out := make([]Pattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toPattern())
	}
	return out, nil
}

// ApplyCorrection records a manual override in one transaction: the audit
// row, the record's new library and confidence, and the reinforced patterns.
func (s *Store) ApplyCorrection(ctx context.Context, c Correction, md media.Metadata) (Correction, error) {
	now := s.timestamp()
	err := s.db.InTx(ctx, func(tx *database.Tx) error {
		id, err := tx.InsertReturningID(ctx,
			`INSERT INTO classification_corrections (classification_id, external_id, media_type, original_library_id, corrected_library_id, corrected_by, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			c.ClassificationID, c.ExternalID, c.MediaType, database.NullableInt64(c.OriginalLibraryID),
			c.CorrectedLibraryID, database.NullableString(c.CorrectedBy), now)
		if err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}
		c.ID = id
		res, err := tx.Exec(ctx,
			`UPDATE classification_history SET library_id = ?, confidence = ?, routed = 1, route_error = NULL, updated_at = ? WHERE id = ?`,
			c.CorrectedLibraryID, CorrectionConfidence, now, c.ClassificationID)
		if err != nil {
			return fmt.Errorf("update classification: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrNotFound, "classification", "apply correction", fmt.Sprintf("classification %d", c.ClassificationID), nil)
		}
		for _, seed := range seedsFromMetadata(md) {
			if err := reinforce(ctx, tx, seed, c.CorrectedLibraryID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Correction{}, err
	}
	c.CreatedAt, _ = database.ParseTime(now)
	return c, nil
}

// RecordClarification stores an operator answer, updates the record's
// confidence and reinforces the clarification pattern of its library.
func (s *Store) RecordClarification(ctx context.Context, cl Clarification, libraryID *int64) (Clarification, error) {
	now := s.timestamp()
	err := s.db.InTx(ctx, func(tx *database.Tx) error {
		id, err := tx.InsertReturningID(ctx,
			`INSERT INTO classification_clarifications (classification_id, question, answer, confidence_before, confidence_after, boost, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			cl.ClassificationID, cl.Question, cl.Answer, cl.ConfidenceBefore, cl.ConfidenceAfter, cl.Boost, now)
		if err != nil {
			return fmt.Errorf("insert clarification: %w", err)
		}
		cl.ID = id
		if _, err := tx.Exec(ctx, `UPDATE classification_history SET confidence = ?, updated_at = ? WHERE id = ?`,
			cl.ConfidenceAfter, now, cl.ClassificationID); err != nil {
			return fmt.Errorf("update confidence: %w", err)
		}
		if libraryID == nil {
			return nil
		}
		return reinforce(ctx, tx, clarificationSeed(cl.Question, cl.Answer), *libraryID, now)
	})
	if err != nil {
		return Clarification{}, err
	}
	cl.CreatedAt, _ = database.ParseTime(now)
	return cl, nil
}

// reinforce inserts a pattern at the initial score or bumps an existing one
// by one step, capped.
func reinforce(ctx context.Context, tx *database.Tx, seed patternSeed, libraryID int64, now string) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO learning_patterns (pattern_type, pattern_key, pattern_value, library_id, confidence_score, occurrence_count, last_seen, created_at)
         VALUES (?, ?, ?, ?, ?, 1, ?, ?)
         ON CONFLICT (pattern_type, pattern_key, library_id) DO UPDATE SET
             confidence_score = CASE
                 WHEN learning_patterns.confidence_score + ? > ? THEN ?
                 ELSE learning_patterns.confidence_score + ?
             END,
             occurrence_count = learning_patterns.occurrence_count + 1,
             pattern_value = excluded.pattern_value,
             last_seen = excluded.last_seen`,
		string(seed.Type), seed.Key, database.NullableString(seed.Value), libraryID, InitialPatternScore, now, now,
		PatternScoreStep, MaxPatternScore, MaxPatternScore, PatternScoreStep,
	); err != nil {
		return fmt.Errorf("reinforce %s pattern %q: %w", seed.Type, seed.Key, err)
	}
	return nil
}
