package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultFetchTimeout = 10 * time.Second
	arrayKeySuffix      = "[]"
	headerAccept        = "Accept"
	mimeTypeJSON        = "application/json"
)

// NewHTTPClient returns the resty client used for upstream and issuer calls.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader(headerAccept, mimeTypeJSON)
}

// DataFetcher requests one widget's upstream endpoint.
type DataFetcher struct {
	baseURL             string
	authorizationHeader string
	credential          string
	client              *resty.Client
	geolocation         CapabilityProvider
	query               url.Values
	logger              *zap.Logger
}

// FetcherConfig describes a DataFetcher.
type FetcherConfig struct {
	BaseURL             string
	AuthorizationHeader string
	Credential          string
	Client              *resty.Client
	// Geolocation answers the lat and lon capability tokens.
	Geolocation CapabilityProvider
	// Query holds the dashboard URL query parameters used by $name tokens.
	Query  url.Values
	Logger *zap.Logger
}

// NewDataFetcher builds a fetcher from its configuration.
func NewDataFetcher(configuration FetcherConfig) *DataFetcher {
	client := configuration.Client
	if client == nil {
		client = NewHTTPClient(defaultFetchTimeout)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataFetcher{
		baseURL:             configuration.BaseURL,
		authorizationHeader: strings.TrimSpace(configuration.AuthorizationHeader),
		credential:          configuration.Credential,
		client:              client,
		geolocation:         configuration.Geolocation,
		query:               configuration.Query,
		logger:              logger,
	}
}

// Capability answers #apikey with the fetcher's credential and delegates the rest to geolocation.
func (fetcher *DataFetcher) Capability(ctx context.Context, name string) (any, bool) {
	if name == CapabilityAPIKey {
		return fetcher.credential, true
	}
	if fetcher.geolocation == nil {
		return nil, false
	}
	return fetcher.geolocation.Capability(ctx, name)
}

// Fetch resolves the parameters, performs the request and decodes the JSON body.
// Every failure is logged and returned as a nil payload wrapped in ErrFetch; it never panics outward.
func (fetcher *DataFetcher) Fetch(ctx context.Context, parameters map[string]any) (any, error) {
	targetURL, buildErr := fetcher.BuildURL(ctx, parameters)
	if buildErr != nil {
		fetcher.logger.Warn("widget_fetch_failed", zap.String("url", fetcher.baseURL), zap.Error(buildErr))
		return nil, buildErr
	}

	request := fetcher.client.R().SetContext(ctx)
	if fetcher.authorizationHeader != "" && fetcher.credential != "" {
		request.SetHeader(fetcher.authorizationHeader, fetcher.credential)
	}

	response, requestErr := request.Get(targetURL)
	if requestErr != nil {
		fetchErr := fmt.Errorf("%w: %v", ErrFetch, requestErr)
		fetcher.logger.Warn("widget_fetch_failed", zap.String("url", fetcher.baseURL), zap.Error(fetchErr))
		return nil, fetchErr
	}
	if !response.IsSuccess() {
		fetchErr := fmt.Errorf("%w: status %s", ErrFetch, response.Status())
		fetcher.logger.Warn("widget_fetch_failed", zap.String("url", fetcher.baseURL), zap.Error(fetchErr))
		return nil, fetchErr
	}

	var payload any
	if decodeErr := json.Unmarshal(response.Body(), &payload); decodeErr != nil {
		fetchErr := fmt.Errorf("%w: decode response: %v", ErrFetch, decodeErr)
		fetcher.logger.Warn("widget_fetch_failed", zap.String("url", fetcher.baseURL), zap.Error(fetchErr))
		return nil, fetchErr
	}
	return payload, nil
}

// BuildURL appends every resolved parameter to the base URL. Array values become repeated name[] entries;
// parameters that resolve to nil are omitted.
func (fetcher *DataFetcher) BuildURL(ctx context.Context, parameters map[string]any) (string, error) {
	target, parseErr := url.Parse(fetcher.baseURL)
	if parseErr != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrFetch, parseErr)
	}

	resolver := NewPlaceholderResolver(fetcher.query, fetcher)
	values := target.Query()

	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		resolved := resolver.Resolve(ctx, parameters[name])
		if elements, isArray := resolved.([]any); isArray {
			for _, element := range elements {
				if element == nil {
					continue
				}
				values.Add(name+arrayKeySuffix, formatParameter(element))
			}
			continue
		}
		if resolved == nil {
			continue
		}
		values.Add(name, formatParameter(resolved))
	}

	target.RawQuery = values.Encode()
	return target.String(), nil
}

func formatParameter(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	case json.Number:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
