package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shelver/internal/media"
	"shelver/internal/services"
)

// Client fetches movie and TV details from the TMDB v3 API.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	region     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a TMDB client. The certification region is derived from the
// language tag ("en-US" -> "US").
func New(apiKey, baseURL, language string, timeout time.Duration, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	language = strings.TrimSpace(language)
	region := "US"
	if _, after, ok := strings.Cut(language, "-"); ok && after != "" {
		region = strings.ToUpper(after)
	}
	client := &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		region:     region,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type namedEntry struct {
	Name string `json:"name"`
}

type movieDetails struct {
	Title            string       `json:"title"`
	OriginalTitle    string       `json:"original_title"`
	ReleaseDate      string       `json:"release_date"`
	Genres           []namedEntry `json:"genres"`
	OriginalLanguage string       `json:"original_language"`
	Runtime          int          `json:"runtime"`
	VoteAverage      float64      `json:"vote_average"`
	Popularity       float64      `json:"popularity"`
	Overview         string       `json:"overview"`
	Keywords         struct {
		Keywords []namedEntry `json:"keywords"`
	} `json:"keywords"`
	ReleaseDates struct {
		Results []struct {
			Country      string `json:"iso_3166_1"`
			ReleaseDates []struct {
				Certification string `json:"certification"`
			} `json:"release_dates"`
		} `json:"results"`
	} `json:"release_dates"`
}

type tvDetails struct {
	Name             string       `json:"name"`
	OriginalName     string       `json:"original_name"`
	FirstAirDate     string       `json:"first_air_date"`
	Genres           []namedEntry `json:"genres"`
	OriginalLanguage string       `json:"original_language"`
	EpisodeRunTime   []int        `json:"episode_run_time"`
	VoteAverage      float64      `json:"vote_average"`
	Popularity       float64      `json:"popularity"`
	Overview         string       `json:"overview"`
	Networks         []namedEntry `json:"networks"`
	Keywords         struct {
		Results []namedEntry `json:"results"`
	} `json:"keywords"`
	ContentRatings struct {
		Results []struct {
			Country string `json:"iso_3166_1"`
			Rating  string `json:"rating"`
		} `json:"results"`
	} `json:"content_ratings"`
}

// ParseID accepts "123", "tmdb:123" and "tmdb-123".
func ParseID(externalID string) (int64, error) {
	value := strings.ToLower(strings.TrimSpace(externalID))
	value = strings.TrimPrefix(strings.TrimPrefix(value, "tmdb:"), "tmdb-")
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "tmdb", "parse id", fmt.Sprintf("invalid tmdb id %q", externalID), nil)
	}
	return id, nil
}

// Details fetches the metadata of one movie or series.
func (c *Client) Details(ctx context.Context, externalID, mediaType string) (media.Metadata, error) {
	id, err := ParseID(externalID)
	if err != nil {
		return media.Metadata{}, err
	}
	switch media.NormalizeType(mediaType) {
	case media.TypeMovie:
		var payload movieDetails
		if err := c.get(ctx, fmt.Sprintf("/movie/%d", id), "keywords,release_dates", &payload); err != nil {
			return media.Metadata{}, err
		}
		return c.movieMetadata(externalID, payload), nil
	case media.TypeTV:
		var payload tvDetails
		if err := c.get(ctx, fmt.Sprintf("/tv/%d", id), "keywords,content_ratings", &payload); err != nil {
			return media.Metadata{}, err
		}
		return c.tvMetadata(externalID, payload), nil
	default:
		return media.Metadata{}, services.Wrap(services.ErrValidation, "tmdb", "details", fmt.Sprintf("unsupported media type %q", mediaType), nil)
	}
}

func (c *Client) get(ctx context.Context, path, appendTo string, target any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("language", c.language)
	}
	if appendTo != "" {
		params.Set("append_to_response", appendTo)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return services.Wrap(services.ErrTransient, "tmdb", "get "+path, fmt.Sprintf("latency=%v", latency), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "tmdb", "get "+path, "no such title", nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return services.Wrap(services.ErrConfiguration, "tmdb", "get "+path, "api key rejected", nil)
	case resp.StatusCode != http.StatusOK:
		return services.Wrap(services.ErrTransient, "tmdb", "get "+path, fmt.Sprintf("returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return services.Wrap(services.ErrExternalTool, "tmdb", "get "+path, "decode response", err)
	}
	return nil
}

func (c *Client) movieMetadata(externalID string, d movieDetails) media.Metadata {
	md := media.Metadata{
		ExternalID:       externalID,
		MediaType:        media.TypeMovie,
		Title:            strings.TrimSpace(d.Title),
		OriginalTitle:    strings.TrimSpace(d.OriginalTitle),
		Year:             yearOf(d.ReleaseDate),
		Genres:           names(d.Genres),
		Keywords:         names(d.Keywords.Keywords),
		OriginalLanguage: d.OriginalLanguage,
		Runtime:          d.Runtime,
		VoteAverage:      d.VoteAverage,
		Popularity:       d.Popularity,
		Overview:         strings.TrimSpace(d.Overview),
	}
	for _, result := range d.ReleaseDates.Results {
		if !strings.EqualFold(result.Country, c.region) {
			continue
		}
		for _, release := range result.ReleaseDates {
			if cert := strings.TrimSpace(release.Certification); cert != "" {
				md.Certification = cert
				break
			}
		}
	}
	return md
}

func (c *Client) tvMetadata(externalID string, d tvDetails) media.Metadata {
	md := media.Metadata{
		ExternalID:       externalID,
		MediaType:        media.TypeTV,
		Title:            strings.TrimSpace(d.Name),
		OriginalTitle:    strings.TrimSpace(d.OriginalName),
		Year:             yearOf(d.FirstAirDate),
		Genres:           names(d.Genres),
		Keywords:         names(d.Keywords.Results),
		OriginalLanguage: d.OriginalLanguage,
		VoteAverage:      d.VoteAverage,
		Popularity:       d.Popularity,
		Networks:         names(d.Networks),
		Overview:         strings.TrimSpace(d.Overview),
	}
	if len(d.EpisodeRunTime) > 0 {
		md.Runtime = d.EpisodeRunTime[0]
	}
	for _, rating := range d.ContentRatings.Results {
		if strings.EqualFold(rating.Country, c.region) {
			md.Certification = strings.TrimSpace(rating.Rating)
			break
		}
	}
	return md
}

func names(entries []namedEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if name := strings.TrimSpace(entry.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
