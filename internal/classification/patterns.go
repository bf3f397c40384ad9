package classification

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"shelver/internal/database"
	"shelver/internal/media"
	"shelver/internal/textutil"
)

// PatternType is the kind of heuristic a learned pattern encodes.
type PatternType string

const (
	PatternGenre         PatternType = "genre"
	PatternKeyword       PatternType = "keyword"
	PatternRating        PatternType = "rating"
	PatternYearRange     PatternType = "year_range"
	PatternClarification PatternType = "clarification_pattern"
)

// Learning constants. Scores are fractions; the decision engine compares them
// as percentages.
const (
	InitialPatternScore  = 0.60
	PatternScoreStep     = 0.05
	MaxPatternScore      = 0.95
	maxLearnedKeywords   = 10
	yearRangeBucketWidth = 10
)

// Pattern is a learned association between a metadata feature and a library.
type Pattern struct {
	ID          int64       `json:"id"`
	Type        PatternType `json:"pattern_type"`
	Key         string      `json:"pattern_key"`
	Value       string      `json:"pattern_value,omitempty"`
	LibraryID   int64       `json:"library_id"`
	Score       float64     `json:"confidence_score"`
	Occurrences int         `json:"occurrence_count"`
	LastSeen    time.Time   `json:"last_seen"`
}

// Percent is the score on the 0-100 scale, rounded to two decimals so that
// accumulated float steps compare exactly against thresholds.
func (p Pattern) Percent() float64 {
	return math.Round(p.Score*10000) / 100
}

// Matches evaluates the pattern against metadata. Clarification patterns are
// bookkeeping only and never match.
func (p Pattern) Matches(md media.Metadata) bool {
	switch p.Type {
	case PatternGenre:
		return containsFolded(md.Genres, p.Key)
	case PatternKeyword:
		return containsFolded(md.Keywords, p.Key)
	case PatternRating:
		return md.Certification != "" && textutil.Equal(md.Certification, p.Key)
	case PatternYearRange:
		low, high, ok := ParseYearRange(p.Key)
		return ok && md.Year > 0 && md.Year >= low && md.Year <= high
	default:
		return false
	}
}

func containsFolded(values []string, key string) bool {
	key = textutil.Fold(key)
	for _, value := range values {
		if textutil.Fold(value) == key {
			return true
		}
	}
	return false
}

// ParseYearRange decodes an inclusive "min-max" range.
func ParseYearRange(key string) (int, int, bool) {
	lowText, highText, ok := strings.Cut(strings.TrimSpace(key), "-")
	if !ok {
		return 0, 0, false
	}
	low, err := strconv.Atoi(strings.TrimSpace(lowText))
	if err != nil {
		return 0, 0, false
	}
	high, err := strconv.Atoi(strings.TrimSpace(highText))
	if err != nil || high < low {
		return 0, 0, false
	}
	return low, high, true
}

// FormatYearRange returns the decade bucket containing year.
func FormatYearRange(year int) string {
	low := year - year%yearRangeBucketWidth
	return fmt.Sprintf("%d-%d", low, low+yearRangeBucketWidth-1)
}

// patternSeed is a pattern observation derived from metadata.
type patternSeed struct {
	Type  PatternType
	Key   string
	Value string
}

// seedsFromMetadata lists the patterns a confirmed assignment reinforces:
// every genre, the first keywords, the certification and the decade.
func seedsFromMetadata(md media.Metadata) []patternSeed {
	var seeds []patternSeed
	seen := map[string]bool{}
	add := func(kind PatternType, raw string) {
		key := textutil.Fold(raw)
		if key == "" || seen[string(kind)+"\x00"+key] {
			return
		}
		seen[string(kind)+"\x00"+key] = true
		seeds = append(seeds, patternSeed{Type: kind, Key: key, Value: strings.TrimSpace(raw)})
	}
	for _, genre := range md.Genres {
		add(PatternGenre, genre)
	}
	for i, keyword := range md.Keywords {
		if i >= maxLearnedKeywords {
			break
		}
		add(PatternKeyword, keyword)
	}
	if md.Certification != "" {
		add(PatternRating, md.Certification)
	}
	if md.Year > 0 {
		bucket := FormatYearRange(md.Year)
		seeds = append(seeds, patternSeed{Type: PatternYearRange, Key: bucket, Value: bucket})
	}
	return seeds
}

// clarificationSeed keys a clarification by its folded question and answer.
func clarificationSeed(question, answer string) patternSeed {
	return patternSeed{
		Type:  PatternClarification,
		Key:   textutil.Fold(question) + "=" + textutil.Fold(answer),
		Value: strings.TrimSpace(answer),
	}
}

const patternColumns = "id, pattern_type, pattern_key, pattern_value, library_id, confidence_score, occurrence_count, last_seen"

type patternRow struct {
	ID          int64          `db:"id"`
	Type        string         `db:"pattern_type"`
	Key         string         `db:"pattern_key"`
	Value       sql.NullString `db:"pattern_value"`
	LibraryID   int64          `db:"library_id"`
	Score       float64        `db:"confidence_score"`
	Occurrences int            `db:"occurrence_count"`
	LastSeen    string         `db:"last_seen"`
}

func (r patternRow) toPattern() Pattern {
	p := Pattern{
		ID:          r.ID,
		Type:        PatternType(r.Type),
		Key:         r.Key,
		Value:       r.Value.String,
		LibraryID:   r.LibraryID,
		Score:       r.Score,
		Occurrences: r.Occurrences,
	}
	p.LastSeen, _ = database.ParseTime(r.LastSeen)
	return p
}
