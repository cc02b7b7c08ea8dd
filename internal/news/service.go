package news

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyItems   = "items"
	cacheKeySummary = "summary"
)

// Service serves the headline list and its digest, optionally through a cache.
type Service struct {
	feed       FeedSource
	summarizer Summarizer
	prompt     string
	cache      Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
	flights    singleflight.Group
}

// ServiceConfig describes a Service.
type ServiceConfig struct {
	Feed       FeedSource
	Summarizer Summarizer
	Prompt     string
	// Cache is optional.
	Cache    Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewService(configuration ServiceConfig) *Service {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheTTL := configuration.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	prompt := configuration.Prompt
	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}
	return &Service{
		feed:       configuration.Feed,
		summarizer: configuration.Summarizer,
		prompt:     prompt,
		cache:      configuration.Cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// Items returns the recent headlines.
func (service *Service) Items(ctx context.Context) ([]Item, error) {
	var items []Item
	loadErr := service.cached(ctx, cacheKeyItems, &items, func(ctx context.Context) (any, error) {
		if service.feed == nil {
			return nil, fmt.Errorf("%w: no feed configured", ErrFeedUnavailable)
		}
		return service.feed.Items(ctx)
	})
	return items, loadErr
}

// Summary returns the digest of the recent headlines.
func (service *Service) Summary(ctx context.Context) (string, error) {
	var summary string
	loadErr := service.cached(ctx, cacheKeySummary, &summary, func(ctx context.Context) (any, error) {
		if service.summarizer == nil {
			return nil, fmt.Errorf("%w: no summarizer configured", ErrSummaryUnavailable)
		}
		items, itemsErr := service.Items(ctx)
		if itemsErr != nil {
			return nil, itemsErr
		}
		return service.summarizer.Summarize(ctx, BuildAnalysisPrompt(service.prompt, items))
	})
	return summary, loadErr
}

// cached serves key from the cache when possible and otherwise loads, stores and decodes it into target.
// Concurrent loads of the same key share one call. Cache failures are logged and bypassed.
func (service *Service) cached(ctx context.Context, key string, target any, load func(context.Context) (any, error)) error {
	if service.cache != nil {
		encoded, found, getErr := service.cache.Get(ctx, key)
		if getErr != nil {
			service.logger.Warn("news_cache_get_failed", zap.String("key", key), zap.Error(getErr))
		}
		if found && json.Unmarshal(encoded, target) == nil {
			return nil
		}
	}

	encoded, loadErr, _ := service.flights.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		encodedValue, encodeErr := json.Marshal(value)
		if encodeErr != nil {
			return nil, encodeErr
		}
		if service.cache != nil {
			if setErr := service.cache.Set(ctx, key, encodedValue, service.cacheTTL); setErr != nil {
				service.logger.Warn("news_cache_set_failed", zap.String("key", key), zap.Error(setErr))
			}
		}
		return encodedValue, nil
	})
	if loadErr != nil {
		return loadErr
	}
	return json.Unmarshal(encoded.([]byte), target)
}
