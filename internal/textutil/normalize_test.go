package textutil

import (
	"slices"
	"testing"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"  Science   Fiction ": "science fiction",
		"Amélie":               "amelie",
		"STRASSE":              "strasse",
		"":                     "",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Fatalf("Fold(%q) = %q want %q", in, got, want)
		}
	}
}

func TestFoldAllDedupes(t *testing.T) {
	got := FoldAll([]string{"Drama", "drama ", "", "Crime"})
	if !slices.Equal(got, []string{"drama", "crime"}) {
		t.Fatalf("unexpected fold result %v", got)
	}
}

func TestEqualAndTitle(t *testing.T) {
	if !Equal("Animación", "animacion") {
		t.Fatal("expected accent-insensitive equality")
	}
	if got := Title("science fiction"); got != "Science Fiction" {
		t.Fatalf("unexpected title %q", got)
	}
}
