package arr

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"shelver/internal/config"
	"shelver/internal/library"
	"shelver/internal/logging"
	"shelver/internal/media"
	"shelver/internal/services"
	"shelver/internal/services/tmdb"
)

// Action describes what routing did on the remote instance.
type Action string

const (
	ActionAdded     Action = "added"
	ActionMoved     Action = "moved"
	ActionUnchanged Action = "unchanged"
)

// Result is the outcome of one routing call.
type Result struct {
	Router   string `json:"router"`
	Action   Action `json:"action"`
	RemoteID int64  `json:"remote_id,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Preview is the outcome of a non-mutating routing check.
type Preview struct {
	Router     string `json:"router"`
	Version    string `json:"version,omitempty"`
	RootFolder string `json:"root_folder"`
	Exists     bool   `json:"exists"`
}

// Router dispatches library routes to the configured instances.
type Router struct {
	clients map[string]*Client
	logger  *slog.Logger
}

// NewRouter builds a client for every configured instance.
func NewRouter(routers []config.Router, logger *slog.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Router{clients: make(map[string]*Client, len(routers)), logger: logging.NewComponentLogger(logger, "router")}
	for _, cfg := range routers {
		r.clients[strings.ToLower(cfg.Name)] = NewClient(cfg)
	}
	return r
}

// Close releases every client.
func (r *Router) Close() error {
	for _, client := range r.clients {
		_ = client.Close()
	}
	return nil
}

func (r *Router) client(lib library.Library) (*Client, error) {
	if !lib.Route.Configured() {
		return nil, services.Wrap(services.ErrConfiguration, "router", "resolve", fmt.Sprintf("library %q has no routing mapping", lib.Name), nil)
	}
	client, ok := r.clients[strings.ToLower(lib.Route.Router)]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "router", "resolve", fmt.Sprintf("library %q references unknown router %q", lib.Name, lib.Route.Router), nil)
	}
	want := KindRadarr
	if lib.MediaType == media.TypeTV {
		want = KindSonarr
	}
	if client.Kind() != want {
		return nil, services.Wrap(services.ErrConfiguration, "router", "resolve", fmt.Sprintf("router %q is %s but library %q holds %s", client.Name(), client.Kind(), lib.Name, lib.MediaType), nil)
	}
	return client, nil
}

// Preview checks that lib can receive md without changing anything: the
// mapping exists, the instance answers and knows the root folder.
func (r *Router) Preview(ctx context.Context, lib library.Library, md media.Metadata) (Preview, error) {
	client, err := r.client(lib)
	if err != nil {
		return Preview{}, err
	}
	preview := Preview{Router: client.Name(), RootFolder: lib.Route.RootFolder}
	if preview.Version, err = client.SystemStatus(ctx); err != nil {
		return preview, err
	}
	folders, err := client.RootFolders(ctx)
	if err != nil {
		return preview, err
	}
	if !slices.Contains(folders, strings.TrimRight(lib.Route.RootFolder, "/")) {
		return preview, services.Wrap(services.ErrValidation, "router", "preview", fmt.Sprintf("root folder %q not configured on %s", lib.Route.RootFolder, client.Name()), nil)
	}
	if tmdbID, idErr := tmdb.ParseID(md.ExternalID); idErr == nil {
		existing, err := client.Existing(ctx, tmdbID)
		if err != nil {
			return preview, err
		}
		preview.Exists = existing != nil
	}
	return preview, nil
}

// Route makes the instance manage md under lib's root folder: new items are
// added, items managed elsewhere are moved, items already in place are left
// alone. Repeating a call is harmless.
func (r *Router) Route(ctx context.Context, lib library.Library, md media.Metadata) (Result, error) {
	client, err := r.client(lib)
	if err != nil {
		return Result{}, err
	}
	tmdbID, err := tmdb.ParseID(md.ExternalID)
	if err != nil {
		return Result{}, err
	}
	root := strings.TrimRight(lib.Route.RootFolder, "/")
	result := Result{Router: client.Name()}

	existing, err := client.Existing(ctx, tmdbID)
	if err != nil {
		return result, err
	}
	if existing != nil {
		result.RemoteID = remoteID(existing)
		current, _ := existing["path"].(string)
		if path.Dir(strings.TrimRight(current, "/")) == root {
			result.Action, result.Path = ActionUnchanged, current
			return result, nil
		}
		target := path.Join(root, path.Base(current))
		existing["path"] = target
		existing["rootFolderPath"] = root
		existing["qualityProfileId"] = profileOr(lib.Route.QualityProfileID, existing["qualityProfileId"])
		if _, err := client.Move(ctx, existing); err != nil {
			return result, err
		}
		result.Action, result.Path = ActionMoved, target
		r.logger.Info("moved item between libraries",
			logging.String(logging.FieldEventType, "route_moved"),
			logging.String("router", client.Name()),
			logging.String("title", md.DisplayTitle()),
			logging.String("from", current),
			logging.String("to", target))
		return result, nil
	}

	item, err := client.Lookup(ctx, tmdbID)
	if err != nil {
		return result, err
	}
	item["rootFolderPath"] = root
	item["qualityProfileId"] = profileOr(lib.Route.QualityProfileID, item["qualityProfileId"])
	item["monitored"] = true
	if len(lib.Route.Tags) > 0 {
		item["tags"] = lib.Route.Tags
	}
	if client.Kind() == KindSonarr {
		item["seasonFolder"] = true
		item["addOptions"] = map[string]any{"searchForMissingEpisodes": true}
	} else {
		item["addOptions"] = map[string]any{"searchForMovie": true}
	}
	created, err := client.Add(ctx, item)
	if err != nil {
		return result, err
	}
	result.Action = ActionAdded
	result.RemoteID = remoteID(created)
	result.Path, _ = created["path"].(string)
	r.logger.Info("added item to library",
		logging.String(logging.FieldEventType, "route_added"),
		logging.String("router", client.Name()),
		logging.String("title", md.DisplayTitle()),
		logging.String("root_folder", root))
	return result, nil
}

func remoteID(item map[string]any) int64 {
	id, _ := item["id"].(float64)
	return int64(id)
}

func profileOr(configured int, current any) any {
	if configured > 0 {
		return configured
	}
	if current == nil {
		return 1
	}
	return current
}
