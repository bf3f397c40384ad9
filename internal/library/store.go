package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shelver/internal/config"
	"shelver/internal/database"
	"shelver/internal/services"
)

// Store persists libraries and rules.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore binds a library store to an open database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Sync makes the database mirror the configured libraries. Libraries missing
// from configuration are disabled rather than deleted so history keeps its
// references. Rules of every configured library are replaced.
func (s *Store) Sync(ctx context.Context, libs []config.Library) error {
	now := database.FormatTime(s.now())
	return s.db.InTx(ctx, func(tx *database.Tx) error {
		ids := make([]any, 0, len(libs))
		for _, lib := range libs {
			tags, err := json.Marshal(nonNilInts(lib.Route.Tags))
			if err != nil {
				return fmt.Errorf("encode tags for library %d: %w", lib.ID, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO libraries (id, name, media_type, enabled, priority, description, router, root_folder, quality_profile_id, tags, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT (id) DO UPDATE SET
                     name = excluded.name, media_type = excluded.media_type, enabled = excluded.enabled,
                     priority = excluded.priority, description = excluded.description, router = excluded.router,
                     root_folder = excluded.root_folder, quality_profile_id = excluded.quality_profile_id,
                     tags = excluded.tags, updated_at = excluded.updated_at`,
				lib.ID, lib.Name, lib.MediaType, database.BoolToInt(lib.Enabled), lib.Priority,
				database.NullableString(lib.Description), database.NullableString(lib.Route.Router),
				database.NullableString(lib.Route.RootFolder), lib.Route.QualityProfileID, string(tags), now, now,
			); err != nil {
				return fmt.Errorf("upsert library %d: %w", lib.ID, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM custom_rules WHERE library_id = ?`, lib.ID); err != nil {
				return fmt.Errorf("clear rules for library %d: %w", lib.ID, err)
			}
			for _, rule := range lib.Rules {
				predicates := make([]Predicate, 0, len(rule.Predicates))
				for _, p := range rule.Predicates {
					predicates = append(predicates, PredicateFromConfig(p))
				}
				encoded, err := json.Marshal(predicates)
				if err != nil {
					return fmt.Errorf("encode rule %q: %w", rule.Name, err)
				}
				if _, err := tx.Exec(ctx,
					`INSERT INTO custom_rules (library_id, name, priority, enabled, predicates, created_at, updated_at)
                     VALUES (?, ?, ?, ?, ?, ?, ?)`,
					lib.ID, rule.Name, rule.Priority, database.BoolToInt(rule.Enabled), string(encoded), now, now,
				); err != nil {
					return fmt.Errorf("insert rule %q for library %d: %w", rule.Name, lib.ID, err)
				}
			}
			ids = append(ids, lib.ID)
		}

		query := `UPDATE libraries SET enabled = 0, updated_at = ? WHERE enabled = 1`
		args := []any{now}
		if len(ids) > 0 {
			query += ` AND id NOT IN (` + database.Placeholders(len(ids)) + `)`
			args = append(args, ids...)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("disable removed libraries: %w", err)
		}
		return nil
	})
}

// List returns every known library ordered by media type, priority, and id.
func (s *Store) List(ctx context.Context) ([]Library, error) {
	var rows []libraryRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT `+libraryColumns+` FROM libraries ORDER BY media_type ASC, priority DESC, id ASC`); err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	return toLibraries(rows), nil
}

// EnabledLibraries returns the enabled libraries for a media type, highest priority first.
func (s *Store) EnabledLibraries(ctx context.Context, mediaType string) ([]Library, error) {
	var rows []libraryRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT `+libraryColumns+` FROM libraries WHERE media_type = ? AND enabled = 1 ORDER BY priority DESC, id ASC`,
		mediaType); err != nil {
		return nil, fmt.Errorf("list enabled libraries: %w", err)
	}
	return toLibraries(rows), nil
}

// Library fetches one library. It returns nil when the id is unknown.
func (s *Store) Library(ctx context.Context, id int64) (*Library, error) {
	var row libraryRow
	if err := s.db.GetWithRetry(ctx, &row, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get library %d: %w", id, err)
	}
	lib := row.toLibrary()
	return &lib, nil
}

// SetEnabled toggles a library until the next Sync.
func (s *Store) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecWithRetry(ctx, `UPDATE libraries SET enabled = ?, updated_at = ? WHERE id = ?`,
		database.BoolToInt(enabled), database.FormatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("set library %d enabled: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "library", "set enabled", fmt.Sprintf("library %d", id), nil)
	}
	return nil
}

// Rules returns the enabled rules of enabled libraries for a media type,
// highest priority first.
func (s *Store) Rules(ctx context.Context, mediaType string) ([]Rule, error) {
	var rows []ruleRow
	if err := s.db.SelectWithRetry(ctx, &rows,
		`SELECT r.id, r.library_id, r.name, r.priority, r.enabled, r.predicates
         FROM custom_rules r
         JOIN libraries l ON l.id = r.library_id
         WHERE l.media_type = ? AND l.enabled = 1 AND r.enabled = 1
         ORDER BY r.priority DESC, r.id ASC`, mediaType); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, fmt.Errorf("decode rule %d: %w", row.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func toLibraries(rows []libraryRow) []Library {
	libs := make([]Library, 0, len(rows))
	for _, row := range rows {
		libs = append(libs, row.toLibrary())
	}
	return libs
}

func nonNilInts(values []int) []int {
	if values == nil {
		return []int{}
	}
	return values
}
