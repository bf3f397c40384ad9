package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"shelver/internal/cache"
	"shelver/internal/logging"
	"shelver/internal/media"
	"shelver/internal/services"
)

// Fetcher is the subset of Client used by the Enricher.
type Fetcher interface {
	Details(ctx context.Context, externalID, mediaType string) (media.Metadata, error)
}

// Enricher turns an external id into metadata. It never fails: lookup errors
// produce degraded metadata carrying the error text.
type Enricher struct {
	fetcher Fetcher
	cache   cache.Store
	ttl     time.Duration
	logger  *slog.Logger
}

// NewEnricher wires a fetcher with an optional cache. A nil fetcher means no
// API key is configured and every lookup degrades.
func NewEnricher(fetcher Fetcher, store cache.Store, ttl time.Duration, logger *slog.Logger) *Enricher {
	if store == nil {
		store = cache.Nop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Enricher{
		fetcher: fetcher,
		cache:   store,
		ttl:     ttl,
		logger:  logging.NewComponentLogger(logger, "enrichment"),
	}
}

func cacheKey(externalID, mediaType string) string {
	return "tmdb:" + mediaType + ":" + externalID
}

// Enrich returns metadata for the item. Successful lookups are cached;
// degraded results are not.
func (e *Enricher) Enrich(ctx context.Context, externalID, mediaType string) media.Metadata {
	mediaType = media.NormalizeType(mediaType)
	if e.fetcher == nil {
		return media.Degraded(externalID, mediaType, "", errors.New("metadata enrichment not configured"))
	}
	key := cacheKey(externalID, mediaType)
	if data, err := e.cache.Get(ctx, key); err == nil {
		var md media.Metadata
		if jsonErr := json.Unmarshal(data, &md); jsonErr == nil {
			return md
		}
		_ = e.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		e.logger.Debug("enrichment cache read failed", logging.Error(err))
	}

	md, err := e.fetcher.Details(ctx, externalID, mediaType)
	if err != nil {
		e.logger.Warn("metadata enrichment failed",
			logging.String(logging.FieldEventType, "enrichment_failed"),
			logging.String("external_id", externalID),
			logging.String("media_type", mediaType),
			logging.Error(err),
			logging.ErrorKind(services.Kind(err)),
			logging.String(logging.FieldImpact, "classification continues with degraded metadata"))
		return media.Degraded(externalID, mediaType, "", err)
	}
	if data, jsonErr := json.Marshal(md); jsonErr == nil {
		if err := e.cache.Set(ctx, key, data, e.ttl); err != nil {
			e.logger.Debug("enrichment cache write failed", logging.Error(err))
		}
	}
	return md
}
