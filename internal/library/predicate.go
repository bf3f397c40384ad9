package library

import (
	"fmt"
	"strconv"
	"strings"

	"shelver/internal/config"
	"shelver/internal/language"
	"shelver/internal/media"
	"shelver/internal/textutil"
)

// Op is a predicate operator.
type Op string

const (
	// OpEquals: the field equals the operand (a list field holds it).
	OpEquals Op = "equals"
	// OpIncludes: a list field holds at least one operand.
	OpIncludes Op = "includes"
	// OpIsOneOf: a scalar field equals one of the operands.
	OpIsOneOf Op = "is_one_of"
	// OpContains: a list field holds every operand; a text field contains every operand as a substring.
	OpContains Op = "contains"
	// OpGreaterThan: a numeric field is strictly greater than the operand.
	OpGreaterThan Op = "greater_than"
)

// Field selects a metadata attribute.
type Field string

const (
	FieldTitle            Field = "title"
	FieldYear             Field = "year"
	FieldGenres           Field = "genres"
	FieldKeywords         Field = "keywords"
	FieldCertification    Field = "certification"
	FieldOriginalLanguage Field = "original_language"
	FieldRuntime          Field = "runtime"
	FieldVoteAverage      Field = "vote_average"
	FieldPopularity       Field = "popularity"
	FieldNetworks         Field = "networks"
)

// Predicate is one typed condition of a rule.
type Predicate struct {
	Field  Field    `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values"`
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %s", p.Field, p.Op, strings.Join(p.Values, "|"))
}

type valueKind int

const (
	kindText valueKind = iota
	kindList
	kindNumber
	kindLanguage
)

type fieldValue struct {
	kind   valueKind
	text   string
	list   []string
	number float64
}

// lookup resolves a field on metadata. Unknown or empty values report ok=false.
func lookup(md media.Metadata, field Field) (fieldValue, bool) {
	switch field {
	case FieldTitle:
		return textValue(md.Title)
	case FieldCertification:
		return textValue(md.Certification)
	case FieldOriginalLanguage:
		key := languageKey(md.OriginalLanguage)
		return fieldValue{kind: kindLanguage, text: key}, key != ""
	case FieldGenres:
		return listValue(md.Genres)
	case FieldKeywords:
		return listValue(md.Keywords)
	case FieldNetworks:
		return listValue(md.Networks)
	case FieldYear:
		return numberValue(float64(md.Year))
	case FieldRuntime:
		return numberValue(float64(md.Runtime))
	case FieldVoteAverage:
		return numberValue(md.VoteAverage)
	case FieldPopularity:
		return numberValue(md.Popularity)
	default:
		return fieldValue{}, false
	}
}

func textValue(s string) (fieldValue, bool) {
	key := textutil.Fold(s)
	return fieldValue{kind: kindText, text: key}, key != ""
}

// languageKey reduces "English", "eng" and "en" to the same code. Languages
// outside the known table compare by folded text.
func languageKey(s string) string {
	if code := language.ToISO2(s); code != "" {
		return code
	}
	return textutil.Fold(s)
}

func listValue(values []string) (fieldValue, bool) {
	folded := textutil.FoldAll(values)
	return fieldValue{kind: kindList, list: folded}, len(folded) > 0
}

func numberValue(n float64) (fieldValue, bool) {
	return fieldValue{kind: kindNumber, number: n}, n != 0
}

// Evaluate reports whether md satisfies p.
func Evaluate(p Predicate, md media.Metadata) bool {
	value, ok := lookup(md, p.Field)
	if !ok || len(p.Values) == 0 {
		return false
	}
	switch p.Op {
	case OpEquals:
		return matchesAny(value, p.Values[:1])
	case OpIncludes, OpIsOneOf:
		return matchesAny(value, p.Values)
	case OpContains:
		return matchesAll(value, p.Values)
	case OpGreaterThan:
		if value.kind != kindNumber {
			return false
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(p.Values[0]), 64)
		return err == nil && value.number > threshold
	default:
		return false
	}
}

func matchesAny(value fieldValue, operands []string) bool {
	for _, operand := range operands {
		if matchesOne(value, operand) {
			return true
		}
	}
	return false
}

func matchesAll(value fieldValue, operands []string) bool {
	for _, operand := range operands {
		if value.kind == kindText {
			key := textutil.Fold(operand)
			if key == "" || !strings.Contains(value.text, key) {
				return false
			}
			continue
		}
		if !matchesOne(value, operand) {
			return false
		}
	}
	return true
}

func matchesOne(value fieldValue, operand string) bool {
	switch value.kind {
	case kindText:
		return value.text == textutil.Fold(operand)
	case kindLanguage:
		return value.text == languageKey(operand)
	case kindList:
		key := textutil.Fold(operand)
		for _, item := range value.list {
			if item == key {
				return true
			}
		}
		return false
	case kindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(operand), 64)
		return err == nil && n == value.number
	default:
		return false
	}
}

// Matches reports whether every predicate of the rule holds. A rule without
// predicates never matches.
func (r Rule) Matches(md media.Metadata) bool {
	if len(r.Predicates) == 0 {
		return false
	}
	for _, p := range r.Predicates {
		if !Evaluate(p, md) {
			return false
		}
	}
	return true
}

// PredicateFromConfig converts a configured predicate, merging value and values.
func PredicateFromConfig(p config.Predicate) Predicate {
	values := make([]string, 0, len(p.Values)+1)
	if v := strings.TrimSpace(p.Value); v != "" {
		values = append(values, v)
	}
	for _, v := range p.Values {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return Predicate{Field: Field(p.Field), Op: Op(p.Op), Values: values}
}
