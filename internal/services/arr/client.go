package arr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"

	"shelver/internal/config"
	"shelver/internal/services"
)

// Router kinds.
const (
	KindRadarr = "radarr"
	KindSonarr = "sonarr"
)

// Client talks to one Radarr or Sonarr instance through its v3 API.
type Client struct {
	name string
	kind string
	http *resty.Client
}

// NewClient builds a client for the configured instance.
func NewClient(cfg config.Router) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.URL), "/")).
		SetHeader("X-Api-Key", strings.TrimSpace(cfg.APIKey)).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{name: cfg.Name, kind: strings.ToLower(strings.TrimSpace(cfg.Kind)), http: rc}
}

// Name reports the configured instance name.
func (c *Client) Name() string { return c.name }

// Kind reports radarr or sonarr.
func (c *Client) Kind() string { return c.kind }

// Close releases idle connections.
func (c *Client) Close() error { return c.http.Close() }

func (c *Client) resource() string {
	if c.kind == KindSonarr {
		return "series"
	}
	return "movie"
}

// SystemStatus verifies the instance is reachable and the key is accepted.
func (c *Client) SystemStatus(ctx context.Context) (string, error) {
	var status struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/system/status", nil, nil, &status); err != nil {
		return "", err
	}
	return status.Version, nil
}

// RootFolders lists the root folder paths known to the instance.
func (c *Client) RootFolders(ctx context.Context) ([]string, error) {
	var folders []struct {
		Path string `json:"path"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/rootfolder", nil, nil, &folders); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(folders))
	for _, folder := range folders {
		out = append(out, strings.TrimRight(folder.Path, "/"))
	}
	return out, nil
}

// Existing returns the managed item with the given TMDB id, or nil.
// Resources are kept as generic maps so updates send back every field.
func (c *Client) Existing(ctx context.Context, tmdbID int64) (map[string]any, error) {
	var items []map[string]any
	query := map[string]string{}
	if c.kind == KindRadarr {
		query["tmdbId"] = fmt.Sprint(tmdbID)
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/"+c.resource(), query, nil, &items); err != nil {
		return nil, err
	}
	for _, item := range items {
		if id, ok := item["tmdbId"].(float64); ok && int64(id) == tmdbID {
			return item, nil
		}
	}
	return nil, nil
}

// Lookup resolves a TMDB id into an addable resource.
func (c *Client) Lookup(ctx context.Context, tmdbID int64) (map[string]any, error) {
	if c.kind == KindRadarr {
		var item map[string]any
		err := c.do(ctx, http.MethodGet, "/api/v3/movie/lookup/tmdb", map[string]string{"tmdbId": fmt.Sprint(tmdbID)}, nil, &item)
		return item, err
	}
	var items []map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/v3/series/lookup", map[string]string{"term": fmt.Sprintf("tmdb:%d", tmdbID)}, nil, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "arr", "lookup", fmt.Sprintf("%s has no series for tmdb id %d", c.name, tmdbID), nil)
	}
	return items[0], nil
}

// Add creates a new managed item.
func (c *Client) Add(ctx context.Context, item map[string]any) (map[string]any, error) {
	var created map[string]any
	if err := c.do(ctx, http.MethodPost, "/api/v3/"+c.resource(), nil, item, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// Move updates an existing item and asks the instance to move its files.
func (c *Client) Move(ctx context.Context, item map[string]any) (map[string]any, error) {
	id, _ := item["id"].(float64)
	var updated map[string]any
	path := fmt.Sprintf("/api/v3/%s/%d", c.resource(), int64(id))
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"moveFiles": "true"}, item, &updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, result any) error {
	// Reverse proxies in front of *arr instances often rewrite Content-Type.
	req := c.http.R().SetContext(ctx).SetQueryParams(query).SetForceResponseContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	op := method + " " + path
	if err != nil && (resp == nil || !resp.IsError()) {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "arr", op, c.name, err)
		}
		return services.Wrap(services.ErrTransient, "arr", op, c.name, err)
	}
	if !resp.IsError() {
		return nil
	}
	detail := fmt.Sprintf("%s returned %d: %s", c.name, resp.StatusCode(), snippet(resp.String()))
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "arr", op, detail, nil)
	case code == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "arr", op, detail, nil)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "arr", op, detail, nil)
	default:
		return services.Wrap(services.ErrValidation, "arr", op, detail, nil)
	}
}

func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > 200 {
		return body[:200] + "..."
	}
	return body
}
