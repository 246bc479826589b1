package corpus

import (
	"context"

	"go.uber.org/zap"
)

// Library fronts the corpus service with the semantic cache. Lookups try
// the cache first; misses go to the service and the results are written
// back best-effort. A nil cache degrades to service-only operation.
type Library struct {
	client *Client
	cache  *Cache
	logger *zap.Logger
}

// NewLibrary combines a corpus client with an optional cache.
func NewLibrary(client *Client, cache *Cache, logger *zap.Logger) *Library {
	return &Library{client: client, cache: cache, logger: logger}
}

// Passages returns up to limit passages for the philosopher and topic.
func (l *Library) Passages(ctx context.Context, philosopher, topic string, limit int) ([]Passage, error) {
	if l.cache != nil {
		hits, err := l.cache.Lookup(ctx, philosopher, topic, limit)
		if err != nil {
			l.logger.Warn("passage cache lookup failed",
				zap.String("philosopher", philosopher), zap.Error(err))
		} else if len(hits) > 0 {
			return hits, nil
		}
	}

	passages, err := l.client.Passages(ctx, philosopher, topic, limit)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		for _, p := range passages {
			if err := l.cache.Put(ctx, philosopher, p); err != nil {
				l.logger.Warn("passage cache write failed",
					zap.String("philosopher", philosopher), zap.Error(err))
			}
		}
	}
	return passages, nil
}
