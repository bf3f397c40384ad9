package media_test

import (
	"errors"
	"testing"

	"shelver/internal/media"
)

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{"Movies": media.TypeMovie, " series": media.TypeTV, "tv": media.TypeTV, "music": "music"}
	for in, want := range cases {
		if got := media.NormalizeType(in); got != want {
			t.Fatalf("NormalizeType(%q) = %q want %q", in, got, want)
		}
	}
	if media.ValidType("music") {
		t.Fatal("music is not a supported media type")
	}
}

func TestDegraded(t *testing.T) {
	md := media.Degraded("603", media.TypeMovie, "", errors.New("tmdb: 503"))
	if !md.IsDegraded() || md.Error != "tmdb: 503" {
		t.Fatalf("unexpected degraded metadata %+v", md)
	}
	if md.DisplayTitle() != "603" {
		t.Fatalf("expected external id as display title, got %q", md.DisplayTitle())
	}
	full := media.Metadata{Title: "The Matrix", Year: 1999}
	if full.DisplayTitle() != "The Matrix (1999)" {
		t.Fatalf("unexpected display title %q", full.DisplayTitle())
	}
}
