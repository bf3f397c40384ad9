package arr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"shelver/internal/config"
	"shelver/internal/library"
	"shelver/internal/media"
	"shelver/internal/services"
)

type fakeRadarr struct {
	mu      sync.Mutex
	movies  []map[string]any
	added   []map[string]any
	moved   []map[string]any
	folders []string
	status  int
}

func (f *fakeRadarr) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/v3/system/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		write(w, http.StatusOK, map[string]string{"version": "5.2.0"})
	})
	mux.HandleFunc("GET /api/v3/rootfolder", func(w http.ResponseWriter, r *http.Request) {
		out := []map[string]string{}
		for _, folder := range f.folders {
			out = append(out, map[string]string{"path": folder})
		}
		write(w, http.StatusOK, out)
	})
	mux.HandleFunc("GET /api/v3/movie", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		write(w, http.StatusOK, f.movies)
	})
	mux.HandleFunc("GET /api/v3/movie/lookup/tmdb", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, map[string]any{"title": "Coco", "tmdbId": 354912, "year": 2017})
	})
	mux.HandleFunc("POST /api/v3/movie", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.added = append(f.added, body)
		f.mu.Unlock()
		body["id"] = 7
		body["path"] = body["rootFolderPath"].(string) + "/Coco (2017)"
		write(w, http.StatusCreated, body)
	})
	mux.HandleFunc("PUT /api/v3/movie/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("moveFiles") != "true" {
			t.Errorf("expected moveFiles=true, got %q", r.URL.RawQuery)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.moved = append(f.moved, body)
		f.mu.Unlock()
		write(w, http.StatusAccepted, body)
	})
	return mux
}

func newTestRouter(t *testing.T, fake *fakeRadarr) (*Router, library.Library) {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	router := NewRouter([]config.Router{{Name: "radarr", Kind: "radarr", URL: server.URL, APIKey: "key"}}, nil)
	t.Cleanup(func() { _ = router.Close() })
	lib := library.Library{
		ID: 2, Name: "Kids Movies", MediaType: media.TypeMovie, Enabled: true,
		Route: library.Route{Router: "radarr", RootFolder: "/media/kids-movies", QualityProfileID: 4, Tags: []int{3}},
	}
	return router, lib
}

var coco = media.Metadata{ExternalID: "354912", MediaType: media.TypeMovie, Title: "Coco", Year: 2017}

func TestRouteAddsUnknownItem(t *testing.T) {
	fake := &fakeRadarr{}
	router, lib := newTestRouter(t, fake)

	result, err := router.Route(context.Background(), lib, coco)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Action != ActionAdded || result.RemoteID != 7 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.added) != 1 {
		t.Fatalf("expected one add, got %d", len(fake.added))
	}
	added := fake.added[0]
	if added["rootFolderPath"] != "/media/kids-movies" || added["qualityProfileId"] != float64(4) {
		t.Fatalf("unexpected add payload %v", added)
	}
}

func TestRouteMovesManagedItem(t *testing.T) {
	fake := &fakeRadarr{movies: []map[string]any{{"id": 3, "tmdbId": 354912, "path": "/media/movies/Coco (2017)", "qualityProfileId": 1}}}
	router, lib := newTestRouter(t, fake)

	result, err := router.Route(context.Background(), lib, coco)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Action != ActionMoved || result.Path != "/media/kids-movies/Coco (2017)" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(fake.moved) != 1 || fake.moved[0]["path"] != "/media/kids-movies/Coco (2017)" {
		t.Fatalf("unexpected move payload %v", fake.moved)
	}
}

func TestRouteLeavesItemInPlace(t *testing.T) {
	fake := &fakeRadarr{movies: []map[string]any{{"id": 3, "tmdbId": 354912, "path": "/media/kids-movies/Coco (2017)"}}}
	router, lib := newTestRouter(t, fake)

	result, err := router.Route(context.Background(), lib, coco)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Action != ActionUnchanged || len(fake.moved)+len(fake.added) != 0 {
		t.Fatalf("expected no remote changes, got %+v", result)
	}
}

func TestRouteErrorsAreClassified(t *testing.T) {
	fake := &fakeRadarr{status: http.StatusBadGateway}
	router, lib := newTestRouter(t, fake)
	if _, err := router.Route(context.Background(), lib, coco); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}

	unmapped := lib
	unmapped.Route = library.Route{}
	if _, err := router.Route(context.Background(), unmapped, coco); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	tvLib := lib
	tvLib.MediaType = media.TypeTV
	if _, err := router.Route(context.Background(), tvLib, coco); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected kind mismatch to be a configuration error, got %v", err)
	}
}

func TestPreview(t *testing.T) {
	fake := &fakeRadarr{folders: []string{"/media/movies", "/media/kids-movies/"}}
	router, lib := newTestRouter(t, fake)

	preview, err := router.Preview(context.Background(), lib, coco)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if preview.Version != "5.2.0" || preview.Exists {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if len(fake.added)+len(fake.moved) != 0 {
		t.Fatal("preview must not mutate the instance")
	}

	lib.Route.RootFolder = "/media/missing"
	if _, err := router.Preview(context.Background(), lib, coco); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown root folder, got %v", err)
	}
}
