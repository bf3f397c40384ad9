package library

import (
	"database/sql"
	"encoding/json"
	"time"

	"shelver/internal/database"
)

// Library is a destination an item can be assigned to.
type Library struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	MediaType   string    `json:"media_type"`
	Enabled     bool      `json:"enabled"`
	Priority    int       `json:"priority"`
	Description string    `json:"description,omitempty"`
	Route       Route     `json:"route"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Route maps a library onto a router instance.
type Route struct {
	Router           string `json:"router,omitempty"`
	RootFolder       string `json:"root_folder,omitempty"`
	QualityProfileID int    `json:"quality_profile_id,omitempty"`
	Tags             []int  `json:"tags,omitempty"`
}

// Configured reports whether the library can be routed.
func (r Route) Configured() bool {
	return r.Router != "" && r.RootFolder != ""
}

// Rule is a custom classification rule. It matches when every predicate holds.
type Rule struct {
	ID         int64       `json:"id"`
	LibraryID  int64       `json:"library_id"`
	Name       string      `json:"name"`
	Priority   int         `json:"priority"`
	Enabled    bool        `json:"enabled"`
	Predicates []Predicate `json:"predicates"`
}

const libraryColumns = "id, name, media_type, enabled, priority, description, router, root_folder, quality_profile_id, tags, updated_at"

type libraryRow struct {
	ID               int64          `db:"id"`
	Name             string         `db:"name"`
	MediaType        string         `db:"media_type"`
	Enabled          int            `db:"enabled"`
	Priority         int            `db:"priority"`
	Description      sql.NullString `db:"description"`
	Router           sql.NullString `db:"router"`
	RootFolder       sql.NullString `db:"root_folder"`
	QualityProfileID int            `db:"quality_profile_id"`
	Tags             string         `db:"tags"`
	UpdatedAt        string         `db:"updated_at"`
}

func (r libraryRow) toLibrary() Library {
	lib := Library{
		ID:          r.ID,
		Name:        r.Name,
		MediaType:   r.MediaType,
		Enabled:     r.Enabled != 0,
		Priority:    r.Priority,
		Description: r.Description.String,
		Route: Route{
			Router:           r.Router.String,
			RootFolder:       r.RootFolder.String,
			QualityProfileID: r.QualityProfileID,
		},
	}
	_ = json.Unmarshal([]byte(r.Tags), &lib.Route.Tags)
	if t, err := database.ParseTime(r.UpdatedAt); err == nil {
		lib.UpdatedAt = t
	}
	return lib
}

type ruleRow struct {
	ID         int64  `db:"id"`
	LibraryID  int64  `db:"library_id"`
	Name       string `db:"name"`
	Priority   int    `db:"priority"`
	Enabled    int    `db:"enabled"`
	Predicates string `db:"predicates"`
}

func (r ruleRow) toRule() (Rule, error) {
	rule := Rule{
		ID:        r.ID,
		LibraryID: r.LibraryID,
		Name:      r.Name,
		Priority:  r.Priority,
		Enabled:   r.Enabled != 0,
	}
	if err := json.Unmarshal([]byte(r.Predicates), &rule.Predicates); err != nil {
		return Rule{}, err
	}
	return rule, nil
}
