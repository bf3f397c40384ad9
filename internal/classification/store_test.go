package classification_test

import (
	"context"
	"testing"

	"shelver/internal/classification"
	"shelver/internal/library"
	"shelver/internal/media"
	"shelver/internal/testsupport"
)

type fixedEnricher struct{ md media.Metadata }

func (f fixedEnricher) Enrich(_ context.Context, externalID, mediaType string) media.Metadata {
	md := f.md
	md.ExternalID, md.MediaType = externalID, mediaType
	return md
}

func newEngine(t *testing.T, md media.Metadata) (*classification.Engine, *classification.Store, *library.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithLibraries(
		testsupport.Movie(1, "Movies"),
		testsupport.Movie(2, "Kids"),
		testsupport.Show(3, "TV"),
	))
	db := testsupport.MustOpenDB(t, cfg)
	libs := library.NewStore(db)
	if err := libs.Sync(context.Background(), cfg.Libraries); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	store := classification.NewStore(db)
	return classification.NewEngine(libs, store, fixedEnricher{md: md}), store, libs
}

func toyStory() media.Metadata {
	return media.Metadata{Title: "Toy Story", Year: 1995, Genres: []string{"Animation", "Family"}, Keywords: []string{"toy", "friendship"}, Certification: "G"}
}

func TestReassignRecordsCorrectionAndLearns(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newEngine(t, toyStory())

	outcome, err := engine.Classify(ctx, classification.Request{ExternalID: "tmdb:862", MediaType: "movie"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Record.Method != classification.MethodAI {
		t.Fatalf("expected AI fallback on a fresh database, got %+v", outcome.Decision)
	}

	result, err := engine.Reassign(ctx, outcome.Record.ID, 2, "alice")
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if result.Correction.ID == 0 || result.Correction.CorrectedLibraryID != 2 || result.Route != nil {
		t.Fatalf("unexpected result %+v", result)
	}

	rec, err := store.Record(ctx, outcome.Record.ID)
	if err != nil || rec == nil {
		t.Fatalf("Record: %v %v", rec, err)
	}
	if *rec.LibraryID != 2 || rec.Confidence != 100 || !rec.Routed {
		t.Fatalf("record not updated: %+v", rec)
	}

	patterns, err := store.LibraryPatterns(ctx, 2)
	if err != nil {
		t.Fatalf("LibraryPatterns: %v", err)
	}
	// two genres, two keywords, one rating, one decade
	if len(patterns) != 6 {
		t.Fatalf("expected 6 learned patterns, got %+v", patterns)
	}
	for _, p := range patterns {
		if p.Score != classification.InitialPatternScore || p.Occurrences != 1 {
			t.Fatalf("unexpected initial pattern %+v", p)
		}
	}

	again, err := engine.Classify(ctx, classification.Request{ExternalID: "tmdb:862", MediaType: "movie"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if again.Decision.Method != classification.MethodExactMatch || *again.Decision.LibraryID != 2 {
		t.Fatalf("expected exact match after correction, got %+v", again.Decision)
	}
}

func TestRepeatedCorrectionsPromoteLearnedPattern(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newEngine(t, toyStory())

	for i := range 5 {
		outcome, err := engine.Classify(ctx, classification.Request{ExternalID: "tmdb:" + string(rune('a'+i)), MediaType: "movie"})
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if _, err := engine.Reassign(ctx, outcome.Record.ID, 2, ""); err != nil {
			t.Fatalf("Reassign: %v", err)
		}
	}
	patterns, err := store.Patterns(ctx, "movie")
	if err != nil {
		t.Fatalf("Patterns: %v", err)
	}
	if patterns[0].Percent() != 80 || patterns[0].Occurrences != 5 {
		t.Fatalf("expected 0.80 after five confirmations, got %+v", patterns[0])
	}

	outcome, err := engine.Classify(ctx, classification.Request{ExternalID: "tmdb:new", MediaType: "movie"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Decision.Method != classification.MethodLearnedPattern || *outcome.Decision.LibraryID != 2 || outcome.Decision.Confidence != 80 {
		t.Fatalf("expected learned pattern decision, got %+v", outcome.Decision)
	}
}

func TestExactMatchIgnoredOnceLibraryDisabled(t *testing.T) {
	ctx := context.Background()
	engine, store, libs := newEngine(t, toyStory())

	outcome, err := engine.Classify(ctx, classification.Request{ExternalID: "tmdb:862", MediaType: "movie"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, err := engine.Reassign(ctx, outcome.Record.ID, 2, "alice"); err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if err := libs.SetEnabled(ctx, 2, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	correction, err := store.LatestCorrection(ctx, "tmdb:862", "movie")
	if err != nil {
		t.Fatalf("LatestCorrection: %v", err)
	}
	if correction != nil {
		t.Fatalf("expected no usable correction, got %+v", correction)
	}
	if _, err := engine.Reassign(ctx, outcome.Record.ID, 2, "alice"); err == nil {
		t.Fatal("expected reassign to a disabled library to fail")
	}
}

func TestRecordResponsePersistsClarification(t *testing.T) {
	ctx := context.Background()
	engine, store, _ := newEngine(t, toyStory())
	outcome, err := engine.Classify(ctx, classification.Request{ExternalID: "tmdb:862", MediaType: "movie"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	cl, err := engine.RecordResponse(ctx, outcome.Record.ID, "Is it for kids?", "Yes", 95, 30)
	if err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if cl.ID == 0 || cl.ConfidenceAfter != 100 {
		t.Fatalf("unexpected clarification %+v", cl)
	}
	rec, err := store.Record(ctx, outcome.Record.ID)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Confidence != 100 {
		t.Fatalf("expected confidence 100, got %d", rec.Confidence)
	}
	patterns, err := store.LibraryPatterns(ctx, *rec.LibraryID)
	if err != nil {
		t.Fatalf("LibraryPatterns: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Type != classification.PatternClarification {
		t.Fatalf("expected one clarification pattern, got %+v", patterns)
	}

	cl, err = engine.RecordResponse(ctx, outcome.Record.ID, "Is it for kids?", "No", 30, -50)
	if err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}
	if cl.ConfidenceAfter != 0 {
		t.Fatalf("expected 0, got %d", cl.ConfidenceAfter)
	}
}
