package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/infoboard/internal/keys"
	"github.com/MarkoPoloResearchLab/infoboard/internal/metrics"
	"github.com/MarkoPoloResearchLab/infoboard/internal/modules"
	"github.com/MarkoPoloResearchLab/infoboard/internal/news"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	logEventOpenDatabase     = "open_db"
	logEventConnectRedis     = "connect_redis"
	logEventLoadPrompt       = "load_prompt"
	logEventRedisClose       = "close_redis"
	errorMessageBuildRuntime = "build server"
	summaryTimeoutFactor     = 3
)

// serverRuntime holds the wired components behind the router.
type serverRuntime struct {
	router    *gin.Engine
	sessions  *httpapi.DashboardSessions
	collector *metrics.Collector
	closers   []func()
}

func (runtime *serverRuntime) StopDashboards() {
	if runtime.sessions != nil {
		runtime.sessions.Close()
	}
}

// Close releases every component in reverse construction order.
func (runtime *serverRuntime) Close() {
	runtime.StopDashboards()
	for index := len(runtime.closers) - 1; index >= 0; index-- {
		runtime.closers[index]()
	}
	runtime.closers = nil
}

func (application *ServerApplication) newServerRuntime(ctx context.Context, configuration ServerConfig, logger *zap.Logger) (*serverRuntime, error) {
	runtime := &serverRuntime{collector: metrics.NewCollector()}

	keyStore, keyStoreErr := application.buildKeyStore(configuration, logger, runtime)
	if keyStoreErr != nil {
		runtime.Close()
		return nil, keyStoreErr
	}
	issuer := keys.NewIssuer(keyStore)

	newsService, newsErr := buildNewsService(ctx, configuration, keyStore, logger, runtime)
	if newsErr != nil {
		runtime.Close()
		return nil, newsErr
	}

	if configuration.ServeMode.servesDashboard() {
		dashboardSessions, sessionsErr := buildDashboardSessions(configuration, issuer, logger, runtime.collector)
		if sessionsErr != nil {
			runtime.Close()
			return nil, sessionsErr
		}
		runtime.sessions = dashboardSessions
		runtime.sessions.Start(ctx)
	}
	handlers := httpapi.NewDashboardHandlers(logger, runtime.sessions, issuer, newsService, configuration.PublicDirectory)

	runtime.router = newRouter(configuration.ServeMode, handlers, runtime.collector, logger)
	return runtime, nil
}

func (application *ServerApplication) buildKeyStore(configuration ServerConfig, logger *zap.Logger, runtime *serverRuntime) (keys.Store, error) {
	environmentStore := keys.NewEnvironmentStore(configuration.KeyLabels, application.lookupEnv)
	if configuration.DatabaseDataSource == "" {
		return environmentStore, nil
	}
	keyDatabase, openErr := application.databaseOpener(configuration.DatabaseDataSource)
	if openErr != nil {
		logger.Error(logEventOpenDatabase, zap.Error(openErr))
		return nil, fmt.Errorf("%s: %w", errorMessageBuildRuntime, openErr)
	}
	runtime.closers = append(runtime.closers, func() { _ = keyDatabase.Close() })
	return keys.NewChainStore(environmentStore, keys.NewDatabaseStore(keyDatabase.DB())), nil
}

func buildNewsService(ctx context.Context, configuration ServerConfig, keyStore keys.Store, logger *zap.Logger, runtime *serverRuntime) (*news.Service, error) {
	prompt, promptErr := news.LoadPrompt(configuration.PromptsFile)
	if promptErr != nil {
		logger.Warn(logEventLoadPrompt, zap.String("path", configuration.PromptsFile), zap.Error(promptErr))
		prompt = ""
	}

	var cache news.Cache
	if configuration.RedisURL != "" {
		redisCache, redisErr := news.NewRedisCache(ctx, configuration.RedisURL)
		if redisErr != nil {
			logger.Error(logEventConnectRedis, zap.Error(redisErr))
			return nil, fmt.Errorf("%s: %w", errorMessageBuildRuntime, redisErr)
		}
		runtime.closers = append(runtime.closers, func() {
			if closeErr := redisCache.Close(); closeErr != nil {
				logger.Warn(logEventRedisClose, zap.Error(closeErr))
			}
		})
		cache = redisCache
	}

	return news.NewService(news.ServiceConfig{
		Feed: news.NewFeedClient(configuration.NewsFeedURL, nil),
		Summarizer: &storedKeySummarizer{
			store:    keyStore,
			endpoint: configuration.GeminiEndpoint,
			model:    configuration.GeminiModel,
			client:   resty.New().SetTimeout(configuration.FetchTimeout * summaryTimeoutFactor),
		},
		Prompt:   prompt,
		Cache:    cache,
		CacheTTL: configuration.NewsCacheTTL,
		Logger:   logger,
	}), nil
}

func buildDashboardSessions(configuration ServerConfig, issuer widget.CredentialIssuer, logger *zap.Logger, collector *metrics.Collector) (*httpapi.DashboardSessions, error) {
	httpClient := widget.NewHTTPClient(configuration.FetchTimeout)
	credentialIssuer := issuer
	if configuration.CredentialIssuerURL != "" {
		credentialIssuer = widget.NewHTTPCredentialIssuer(configuration.CredentialIssuerURL, httpClient)
	}
	registry := widget.NewModuleRegistry()
	if registerErr := modules.Register(registry); registerErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageBuildRuntime, registerErr)
	}
	return httpapi.NewDashboardSessions(httpapi.DashboardSessionsConfig{
		Page:              httpapi.DirectoryPageSource(configuration.PublicDirectory),
		Registry:          registry,
		Credentials:       widget.NewCredentialCache(credentialIssuer, logger, collector),
		HTTPClient:        httpClient,
		BaseURL:           configuration.PublicBaseURL,
		GeolocationMode:   configuration.GeolocationMode,
		StaticCoordinates: configuration.StaticCoordinates,
		IdleTTL:           configuration.SessionIdleTTL,
		PendingTTL:        configuration.SessionPendingTTL,
		MaxSessions:       configuration.MaxSessions,
		SessionSecret:     []byte(configuration.SessionSecret),
		SecureCookies:     configuration.TLSEnabled(),
		Recorder:          collector,
		Observer:          collector,
		Logger:            logger,
	}), nil
}

// storedKeySummarizer looks the Gemini key up on every call so keys stored at runtime apply immediately.
type storedKeySummarizer struct {
	store    keys.Store
	endpoint string
	model    string
	client   *resty.Client
}

func (summarizer *storedKeySummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	apiKey, lookupErr := summarizer.store.Lookup(ctx, keys.LabelGemini)
	if lookupErr != nil {
		return "", fmt.Errorf("%w: %v", news.ErrSummaryUnavailable, lookupErr)
	}
	return news.NewGeminiSummarizer(summarizer.endpoint, summarizer.model, apiKey, summarizer.client).Summarize(ctx, prompt)
}
