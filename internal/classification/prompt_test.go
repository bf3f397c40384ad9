package classification

import (
	"errors"
	"strings"
	"testing"

	"shelver/internal/media"
)

func TestBuildPrompt(t *testing.T) {
	md := media.Metadata{
		Title:            "Spirited Away",
		Year:             2001,
		MediaType:        "movie",
		Genres:           []string{"Animation", "Fantasy"},
		OriginalLanguage: "ja",
		Runtime:          125,
	}
	prompt := BuildPrompt(md)
	for _, want := range []string{"Genres: Animation, Fantasy", "Original language: Japanese", "Runtime: 125 minutes"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt %q missing %q", prompt, want)
		}
	}
	if strings.Contains(prompt, "Certification") || strings.Contains(prompt, "Note:") {
		t.Fatalf("prompt should omit empty fields: %q", prompt)
	}
}

func TestBuildPromptFlagsDegradedMetadata(t *testing.T) {
	prompt := BuildPrompt(media.Degraded("999", media.TypeMovie, "Unknown Thing", errors.New("tmdb: 404")))
	if !strings.Contains(prompt, "metadata lookup failed") {
		t.Fatalf("expected degraded note in %q", prompt)
	}
	if strings.Contains(prompt, "Original language") {
		t.Fatalf("unexpected language line in %q", prompt)
	}
}
