package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedResponse marks model output that could not be parsed into a
// valid library choice. Callers treat it differently from transport failures.
var ErrMalformedResponse = errors.New("malformed ai response")

// LibraryPrompt is the system prompt for destination library selection.
const LibraryPrompt = `You sort media items into libraries for a home media server.
You are given an item description and a numbered list of candidate libraries.
Pick the single best library for the item.

Respond with JSON only:
{"library_index": <number from the list>, "confidence": <0-100>, "reason": "<one sentence>"}`

// Candidate is a library offered to the model.
type Candidate struct {
	ID          int64
	Name        string
	Description string
}

// Choice is the model's answer. Index is 0-based into the candidate slice.
type Choice struct {
	Index      int
	Confidence float64
	Reason     string
	Raw        string
}

type choicePayload struct {
	LibraryIndex *int     `json:"library_index"`
	Confidence   *float64 `json:"confidence"`
	Reason       string   `json:"reason"`
}

// ChooseLibrary asks the model to pick one of the candidates for the item
// described by prompt. Parse failures and out-of-range answers wrap
// ErrMalformedResponse.
func (c *Client) ChooseLibrary(ctx context.Context, prompt string, candidates []Candidate) (Choice, error) {
	if len(candidates) == 0 {
		return Choice{}, errors.New("llm choose library: no candidates")
	}
	content, err := c.CompleteJSON(ctx, LibraryPrompt, BuildUserPrompt(prompt, candidates))
	if err != nil {
		return Choice{}, err
	}
	return ParseChoice(content, len(candidates))
}

// BuildUserPrompt renders the item description followed by the 1-based
// candidate list.
func BuildUserPrompt(prompt string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n\nLibraries:\n")
	for i, candidate := range candidates {
		fmt.Fprintf(&b, "%d. %s", i+1, candidate.Name)
		if desc := strings.TrimSpace(candidate.Description); desc != "" {
			b.WriteString(" - ")
			b.WriteString(desc)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseChoice validates raw model output against the candidate count.
func ParseChoice(content string, candidateCount int) (Choice, error) {
	var payload choicePayload
	if err := DecodeLLMJSON(content, &payload); err != nil {
		return Choice{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.LibraryIndex == nil {
		return Choice{}, fmt.Errorf("%w: missing library_index (payload snippet: %s)", ErrMalformedResponse, summarizePayloadSnippet(content))
	}
	index := *payload.LibraryIndex
	if index < 1 || index > candidateCount {
		return Choice{}, fmt.Errorf("%w: library_index %d outside 1..%d", ErrMalformedResponse, index, candidateCount)
	}
	confidence := 0.0
	if payload.Confidence != nil {
		confidence = normalizeConfidence(*payload.Confidence)
	}
	return Choice{
		Index:      index - 1,
		Confidence: confidence,
		Reason:     strings.TrimSpace(payload.Reason),
		Raw:        content,
	}, nil
}

// normalizeConfidence accepts both 0-1 fractions and 0-100 percentages.
func normalizeConfidence(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	if value > 0 && value < 1 {
		value *= 100
	}
	return math.Round(math.Max(0, math.Min(100, value))*100) / 100
}
