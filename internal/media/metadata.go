package media

import (
	"strconv"
	"strings"
)

// Media types understood by libraries and the decision engine.
const (
	TypeMovie = "movie"
	TypeTV    = "tv"
)

// NormalizeType maps common spellings onto TypeMovie or TypeTV.
func NormalizeType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "movie", "movies", "film":
		return TypeMovie
	case "tv", "series", "show", "shows":
		return TypeTV
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

// ValidType reports whether value is a supported media type.
func ValidType(value string) bool {
	return value == TypeMovie || value == TypeTV
}

// Metadata is the enriched description of one media item. When enrichment
// fails the record is degraded: only the identifiers are set and Error
// explains why.
type Metadata struct {
	ExternalID       string   `json:"external_id"`
	MediaType        string   `json:"media_type"`
	Title            string   `json:"title"`
	OriginalTitle    string   `json:"original_title,omitempty"`
	Year             int      `json:"year,omitempty"`
	Genres           []string `json:"genres,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	Certification    string   `json:"certification,omitempty"`
	OriginalLanguage string   `json:"original_language,omitempty"`
	Runtime          int      `json:"runtime,omitempty"`
	VoteAverage      float64  `json:"vote_average,omitempty"`
	Popularity       float64  `json:"popularity,omitempty"`
	Networks         []string `json:"networks,omitempty"`
	Overview         string   `json:"overview,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Degraded builds the minimal metadata used when enrichment fails.
func Degraded(externalID, mediaType, title string, err error) Metadata {
	md := Metadata{ExternalID: externalID, MediaType: mediaType, Title: title}
	if err != nil {
		md.Error = err.Error()
	} else {
		md.Error = "enrichment unavailable"
	}
	return md
}

// IsDegraded reports whether enrichment failed for this record.
func (m Metadata) IsDegraded() bool {
	return m.Error != ""
}

// DisplayTitle renders "Title (Year)" when the year is known.
func (m Metadata) DisplayTitle() string {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = m.ExternalID
	}
	if m.Year > 0 {
		return title + " (" + strconv.Itoa(m.Year) + ")"
	}
	return title
}
