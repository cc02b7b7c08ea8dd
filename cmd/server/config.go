package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/infoboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/infoboard/internal/keys"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	environmentKeyServeMode            = "SERVE_MODE"
	environmentKeyApplicationAddress   = "APP_ADDR"
	environmentKeyPublicDirectory      = "PUBLIC_DIR"
	environmentKeyPublicBaseURL        = "PUBLIC_BASE_URL"
	environmentKeyTLSCertificateFile   = "TLS_CERT_FILE"
	environmentKeyTLSKeyFile           = "TLS_KEY_FILE"
	environmentKeyDatabaseDataSource   = "DB_DSN"
	environmentKeyRedisURL             = "REDIS_URL"
	environmentKeyNewsFeedURL          = "NEWS_FEED_URL"
	environmentKeyNewsCacheTTL         = "NEWS_CACHE_TTL"
	environmentKeyGeminiModel          = "GEMINI_MODEL"
	environmentKeyGeminiEndpoint       = "GEMINI_ENDPOINT"
	environmentKeyPromptsFile          = "PROMPTS_FILE"
	environmentKeyCredentialIssuerURL  = "CREDENTIAL_ISSUER_URL"
	environmentKeyFetchTimeout         = "FETCH_TIMEOUT"
	environmentKeySessionSecret        = "SESSION_SECRET"
	environmentKeySessionIdleTTL       = "SESSION_IDLE_TTL"
	environmentKeySessionPendingTTL    = "SESSION_PENDING_TTL"
	environmentKeyMaxSessions          = "MAX_DASHBOARD_SESSIONS"
	environmentKeyGeolocationMode      = "GEOLOCATION_MODE"
	environmentKeyGeolocationLatitude  = "GEOLOCATION_LATITUDE"
	environmentKeyGeolocationLongitude = "GEOLOCATION_LONGITUDE"
	environmentKeyKeyLabels            = "KEY_LABELS"

	defaultApplicationAddress = ":8080"
	defaultPublicDirectory    = "public"
	defaultNewsCacheTTL       = "5m"
	defaultGeminiModel        = "gemini-2.0-flash"
	defaultGeminiEndpoint     = "https://generativelanguage.googleapis.com/v1beta"
	defaultFetchTimeout       = "10s"
	defaultSessionIdleTTL     = "30m"
	defaultSessionPendingTTL  = "2m"
	defaultMaxSessions        = "64"
	defaultDotEnvPath         = ".env"
	dotEnvConfigType          = "env"
	localHostName             = "localhost"

	missingConfigurationMessage   = "missing required configuration"
	invalidConfigurationMessage   = "invalid configuration"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
)

var errIncompleteTLSConfiguration = errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")

type configurationOption struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
}

var serverConfigurationOptions = []configurationOption{
	{environmentKeyServeMode, "serve-mode", string(ServeModeMonolith), "which surfaces to serve: monolith, web or api"},
	{environmentKeyApplicationAddress, "app-addr", defaultApplicationAddress, "address for the HTTP server to listen on"},
	{environmentKeyPublicDirectory, "public-dir", defaultPublicDirectory, "directory holding index.html and static assets"},
	{environmentKeyPublicBaseURL, "public-base-url", "", "base URL used to resolve relative widget apiUrl values"},
	{environmentKeyTLSCertificateFile, "tls-cert-file", "", "TLS certificate file; enables HTTPS together with --tls-key-file"},
	{environmentKeyTLSKeyFile, "tls-key-file", "", "TLS private key file"},
	{environmentKeyDatabaseDataSource, "db-dsn", "", "SQLite data source holding provider keys"},
	{environmentKeyRedisURL, "redis-url", "", "Redis URL used to cache the news feed and summary"},
	{environmentKeyNewsFeedURL, "news-feed-url", "", "RSS feed proxied by /api/news"},
	{environmentKeyNewsCacheTTL, "news-cache-ttl", defaultNewsCacheTTL, "lifetime of cached news responses"},
	{environmentKeyGeminiModel, "gemini-model", defaultGeminiModel, "Gemini model used by /api/analyze-news"},
	{environmentKeyGeminiEndpoint, "gemini-endpoint", defaultGeminiEndpoint, "Gemini REST API base URL"},
	{environmentKeyPromptsFile, "prompts-file", "", "JSON file holding the news-analysis prompt"},
	{environmentKeyCredentialIssuerURL, "credential-issuer-url", "", "remote /api/key endpoint; defaults to the in-process key store"},
	{environmentKeyFetchTimeout, "fetch-timeout", defaultFetchTimeout, "timeout for widget upstream requests"},
	{environmentKeySessionSecret, "session-secret", "", "secret used to sign dashboard cookies"},
	{environmentKeySessionIdleTTL, "session-idle-ttl", defaultSessionIdleTTL, "idle time after which a dashboard session is stopped"},
	{environmentKeySessionPendingTTL, "session-pending-ttl", defaultSessionPendingTTL, "lifetime of a dashboard session that never attached an event stream"},
	{environmentKeyMaxSessions, "max-dashboard-sessions", defaultMaxSessions, "upper bound on live dashboard sessions"},
	{environmentKeyGeolocationMode, "geolocation-mode", string(httpapi.GeolocationModePrompt), "prompt, static or off"},
	{environmentKeyGeolocationLatitude, "geolocation-latitude", "", "latitude served in static geolocation mode"},
	{environmentKeyGeolocationLongitude, "geolocation-longitude", "", "longitude served in static geolocation mode"},
	{environmentKeyKeyLabels, "key-labels", "", "label=ENV_NAME pairs adding or overriding provider key labels"},
}

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ServeMode           ServeMode
	ApplicationAddress  string
	PublicDirectory     string
	PublicBaseURL       *url.URL
	TLSCertificateFile  string
	TLSKeyFile          string
	DatabaseDataSource  string
	RedisURL            string
	NewsFeedURL         string
	NewsCacheTTL        time.Duration
	GeminiModel         string
	GeminiEndpoint      string
	PromptsFile         string
	CredentialIssuerURL string
	FetchTimeout        time.Duration
	SessionSecret       string
	SessionIdleTTL      time.Duration
	SessionPendingTTL   time.Duration
	MaxSessions         int
	GeolocationMode     httpapi.GeolocationMode
	StaticCoordinates   widget.Coordinates
	KeyLabels           map[string]string
}

// TLSEnabled reports whether the server listens with HTTPS.
func (configuration ServerConfig) TLSEnabled() bool {
	return configuration.TLSCertificateFile != "" && configuration.TLSKeyFile != ""
}

func (application *ServerApplication) defineOptions(flagSet *pflag.FlagSet, options []configurationOption) error {
	for _, option := range options {
		application.configurationLoader.SetDefault(option.environmentKey, option.defaultValue)
		flagSet.String(option.flagName, option.defaultValue, option.usage)
		if bindErr := application.bindFlag(flagSet, option.environmentKey, option.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(flagSet, option.environmentKey, option.flagName); environmentErr != nil {
			return environmentErr
		}
	}
	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := application.lookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

// loadDotEnv exports the dotenv file's entries that the process environment does not already define.
func (application *ServerApplication) loadDotEnv() error {
	if application.dotEnvPath == "" {
		return nil
	}
	if _, statErr := os.Stat(application.dotEnvPath); statErr != nil {
		return nil
	}
	dotEnvLoader := viper.New()
	dotEnvLoader.SetConfigFile(application.dotEnvPath)
	dotEnvLoader.SetConfigType(dotEnvConfigType)
	if readErr := dotEnvLoader.ReadInConfig(); readErr != nil {
		return fmt.Errorf("read %s: %w", application.dotEnvPath, readErr)
	}
	for _, key := range dotEnvLoader.AllKeys() {
		environmentKey := strings.ToUpper(key)
		if _, exists := os.LookupEnv(environmentKey); exists {
			continue
		}
		if setErr := os.Setenv(environmentKey, dotEnvLoader.GetString(key)); setErr != nil {
			return setErr
		}
	}
	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	loader := application.configurationLoader
	var invalid []string

	serveMode, serveModeErr := ParseServeMode(loader.GetString(environmentKeyServeMode))
	if serveModeErr != nil {
		invalid = append(invalid, serveModeErr.Error())
	}
	geolocationMode, geolocationErr := httpapi.ParseGeolocationMode(loader.GetString(environmentKeyGeolocationMode))
	if geolocationErr != nil {
		invalid = append(invalid, geolocationErr.Error())
	}

	configuration := ServerConfig{
		ServeMode:           serveMode,
		ApplicationAddress:  strings.TrimSpace(loader.GetString(environmentKeyApplicationAddress)),
		PublicDirectory:     strings.TrimSpace(loader.GetString(environmentKeyPublicDirectory)),
		TLSCertificateFile:  strings.TrimSpace(loader.GetString(environmentKeyTLSCertificateFile)),
		TLSKeyFile:          strings.TrimSpace(loader.GetString(environmentKeyTLSKeyFile)),
		DatabaseDataSource:  strings.TrimSpace(loader.GetString(environmentKeyDatabaseDataSource)),
		RedisURL:            strings.TrimSpace(loader.GetString(environmentKeyRedisURL)),
		NewsFeedURL:         strings.TrimSpace(loader.GetString(environmentKeyNewsFeedURL)),
		GeminiModel:         strings.TrimSpace(loader.GetString(environmentKeyGeminiModel)),
		GeminiEndpoint:      strings.TrimSpace(loader.GetString(environmentKeyGeminiEndpoint)),
		PromptsFile:         strings.TrimSpace(loader.GetString(environmentKeyPromptsFile)),
		CredentialIssuerURL: strings.TrimSpace(loader.GetString(environmentKeyCredentialIssuerURL)),
		SessionSecret:       loader.GetString(environmentKeySessionSecret),
		GeolocationMode:     geolocationMode,
	}

	for _, duration := range []struct {
		key    string
		target *time.Duration
	}{
		{environmentKeyNewsCacheTTL, &configuration.NewsCacheTTL},
		{environmentKeyFetchTimeout, &configuration.FetchTimeout},
		{environmentKeySessionIdleTTL, &configuration.SessionIdleTTL},
		{environmentKeySessionPendingTTL, &configuration.SessionPendingTTL},
	} {
		parsed, parseErr := time.ParseDuration(strings.TrimSpace(loader.GetString(duration.key)))
		if parseErr != nil || parsed <= 0 {
			invalid = append(invalid, fmt.Sprintf("%s must be a positive duration", duration.key))
			continue
		}
		*duration.target = parsed
	}

	maxSessions, maxSessionsErr := strconv.Atoi(strings.TrimSpace(loader.GetString(environmentKeyMaxSessions)))
	if maxSessionsErr != nil || maxSessions <= 0 {
		invalid = append(invalid, fmt.Sprintf("%s must be a positive integer", environmentKeyMaxSessions))
	}
	configuration.MaxSessions = maxSessions

	if configuration.ApplicationAddress == "" {
		invalid = append(invalid, fmt.Sprintf("%s must not be empty", environmentKeyApplicationAddress))
	}
	if (configuration.TLSCertificateFile == "") != (configuration.TLSKeyFile == "") {
		invalid = append(invalid, errIncompleteTLSConfiguration.Error())
	}

	baseURL, baseErr := resolvePublicBaseURL(loader.GetString(environmentKeyPublicBaseURL), configuration.ApplicationAddress, configuration.TLSEnabled())
	if baseErr != nil {
		invalid = append(invalid, baseErr.Error())
	}
	configuration.PublicBaseURL = baseURL

	if geolocationMode == httpapi.GeolocationModeStatic {
		coordinates, coordinatesErr := parseCoordinates(loader.GetString(environmentKeyGeolocationLatitude), loader.GetString(environmentKeyGeolocationLongitude))
		if coordinatesErr != nil {
			invalid = append(invalid, coordinatesErr.Error())
		}
		configuration.StaticCoordinates = coordinates
	}

	labels := keys.DefaultLabelEnvironment()
	extraLabels, labelsErr := keys.ParseLabelEnvironment(loader.GetString(environmentKeyKeyLabels))
	if labelsErr != nil {
		invalid = append(invalid, labelsErr.Error())
	}
	for label, environmentName := range extraLabels {
		labels[label] = environmentName
	}
	configuration.KeyLabels = labels

	if len(invalid) > 0 {
		return ServerConfig{}, fmt.Errorf("%s: %s", invalidConfigurationMessage, strings.Join(invalid, "; "))
	}
	return configuration, nil
}

// resolvePublicBaseURL falls back to the listen address on localhost.
func resolvePublicBaseURL(raw string, applicationAddress string, tlsEnabled bool) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		scheme := "http"
		if tlsEnabled {
			scheme = "https"
		}
		host, port, splitErr := net.SplitHostPort(applicationAddress)
		if splitErr != nil {
			return nil, fmt.Errorf("%s: %w", environmentKeyApplicationAddress, splitErr)
		}
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = localHostName
		}
		trimmed = scheme + "://" + net.JoinHostPort(host, port)
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%s must be an absolute URL", environmentKeyPublicBaseURL)
	}
	return parsed, nil
}

func parseCoordinates(rawLatitude string, rawLongitude string) (widget.Coordinates, error) {
	latitude, latitudeErr := strconv.ParseFloat(strings.TrimSpace(rawLatitude), 64)
	longitude, longitudeErr := strconv.ParseFloat(strings.TrimSpace(rawLongitude), 64)
	if latitudeErr != nil || longitudeErr != nil || latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return widget.Coordinates{}, fmt.Errorf("%s and %s must be valid coordinates in static geolocation mode", environmentKeyGeolocationLatitude, environmentKeyGeolocationLongitude)
	}
	return widget.Coordinates{Latitude: latitude, Longitude: longitude}, nil
}
