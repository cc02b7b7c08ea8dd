package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/infoboard/internal/keys"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	testWeatherSecret     = "weather-secret"
	testEventuallyTimeout = 3 * time.Second
	testEventuallyTick    = 20 * time.Millisecond
	testWeatherPayload    = `{"main":{"temp":20.4,"feels_like":19.1,"temp_min":18.0,"temp_max":22.0},"weather":[{"description":"clear sky","icon":"01d"}],"name":"Praha"}`
	testDashboardPage     = `<!doctype html><html><head><title>Board</title></head><body><div id="weather" data-config='{"type":"weather_open","apiUrl":"%s/weather","apiKeyLabel":"weatherApiKey","appid":"#apikey","units":"metric"}'></div></body></html>`
	testRSSDocument       = `<?xml version="1.0"?><rss><channel><item><title>Headline</title><link>https://example.com/1</link><description>Body</description><pubDate>%s</pubDate></item></channel></rss>`
)

type runtimeHarness struct {
	runtime   *serverRuntime
	upstream  *httptest.Server
	publicDir string
}

func newRuntimeHarness(testingT *testing.T, mode ServeMode) *runtimeHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	upstreamMux := http.NewServeMux()
	upstreamMux.HandleFunc("/weather", func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("appid") != testWeatherSecret {
			http.Error(writer, "unauthorized", http.StatusUnauthorized)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(testWeatherPayload))
	})
	upstreamMux.HandleFunc("/rss", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprintf(writer, testRSSDocument, time.Now().Add(-time.Hour).Format(time.RFC1123Z))
	})
	upstream := httptest.NewServer(upstreamMux)
	testingT.Cleanup(upstream.Close)

	publicDir := testingT.TempDir()
	require.NoError(testingT, os.WriteFile(filepath.Join(publicDir, "index.html"), []byte(fmt.Sprintf(testDashboardPage, upstream.URL)), 0o600))
	require.NoError(testingT, os.MkdirAll(filepath.Join(publicDir, "img"), 0o755))
	require.NoError(testingT, os.WriteFile(filepath.Join(publicDir, "img", "travel-bus.svg"), []byte("<svg></svg>"), 0o600))

	baseURL, parseErr := url.Parse("http://localhost:8080")
	require.NoError(testingT, parseErr)

	configuration := ServerConfig{
		ServeMode:          mode,
		ApplicationAddress: ":8080",
		PublicDirectory:    publicDir,
		PublicBaseURL:      baseURL,
		NewsFeedURL:        upstream.URL + "/rss",
		NewsCacheTTL:       time.Minute,
		GeminiModel:        "gemini-test",
		GeminiEndpoint:     upstream.URL,
		FetchTimeout:       time.Second,
		SessionIdleTTL:     time.Minute,
		GeolocationMode:    httpapi.GeolocationModeOff,
		KeyLabels:          keys.DefaultLabelEnvironment(),
	}

	application := NewServerApplication().WithDotEnvPath("")
	application.lookupEnv = func(name string) (string, bool) {
		if name == "WEATHER_API_KEY" {
			return testWeatherSecret, true
		}
		return "", false
	}

	runtime, runtimeErr := application.newServerRuntime(context.Background(), configuration, zap.NewNop())
	require.NoError(testingT, runtimeErr)
	testingT.Cleanup(runtime.Close)

	return &runtimeHarness{runtime: runtime, upstream: upstream, publicDir: publicDir}
}

func (harness *runtimeHarness) perform(method string, target string, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, nil)
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	for name, value := range headers {
		request.Header.Set(name, value)
	}
	recorder := httptest.NewRecorder()
	harness.runtime.router.ServeHTTP(recorder, request)
	return recorder
}

func TestKeyEndpointIssuesConfiguredSecrets(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeAPI)

	issued := harness.perform(http.MethodGet, "/api/key?key=weatherApiKey", nil, nil)
	require.Equal(testingT, http.StatusOK, issued.Code)
	var payload map[string]string
	require.NoError(testingT, json.Unmarshal(issued.Body.Bytes(), &payload))
	require.Equal(testingT, testWeatherSecret, payload["apiKey"])

	for _, target := range []string{"/api/key", "/api/key?key=", "/api/key?key=pidApiKey", "/api/key?key=unknown"} {
		rejected := harness.perform(http.MethodGet, target, nil, nil)
		require.Equal(testingT, http.StatusBadRequest, rejected.Code, target)
		require.Equal(testingT, "Invalid or missing key parameter", rejected.Body.String(), target)
	}
}

func TestNewsEndpointServesRecentHeadlines(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeAPI)

	recorder := harness.perform(http.MethodGet, "/api/news", nil, nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	var items []map[string]any
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &items))
	require.Len(testingT, items, 1)
	require.Equal(testingT, "Headline", items[0]["title"])
}

func TestAnalyzeNewsFailsWithoutGeminiKey(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeAPI)

	recorder := harness.perform(http.MethodGet, "/api/analyze-news", nil, nil)
	require.Equal(testingT, http.StatusInternalServerError, recorder.Code)
	require.Equal(testingT, "Error analyzing news", recorder.Body.String())
}

func TestProxyPreflightAllowsAnyOrigin(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeAPI)

	recorder := harness.perform(http.MethodOptions, "/api/key", nil, map[string]string{
		"Origin":                        "http://dashboard.example",
		"Access-Control-Request-Method": http.MethodGet,
	})
	require.Equal(testingT, http.StatusNoContent, recorder.Code)
	require.Equal(testingT, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIModeDoesNotServeDashboard(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeAPI)

	require.Equal(testingT, http.StatusNotFound, harness.perform(http.MethodGet, "/", nil, nil).Code)
	require.Equal(testingT, http.StatusOK, harness.perform(http.MethodGet, "/healthz", nil, nil).Code)
}

func TestWebModeDoesNotServeProxies(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeWeb)

	recorder := harness.perform(http.MethodGet, "/api/key?key=weatherApiKey", nil, nil)
	require.Equal(testingT, http.StatusNotFound, recorder.Code)
}

func TestMonolithServesLiveDashboard(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeMonolith)

	page := harness.perform(http.MethodGet, "/", nil, nil)
	require.Equal(testingT, http.StatusOK, page.Code)
	require.Contains(testingT, page.Body.String(), `<script src="/dashboard.js" defer=""></script>`)
	require.Contains(testingT, page.Body.String(), `id="weather"`)
	cookies := page.Result().Cookies()
	require.NotEmpty(testingT, cookies)

	require.Eventually(testingT, func() bool {
		fragment := harness.perform(http.MethodGet, "/api/dashboard/widgets/weather", cookies, nil)
		return fragment.Code == http.StatusOK && strings.Contains(fragment.Body.String(), "20.4°C")
	}, testEventuallyTimeout, testEventuallyTick)

	var statuses []widget.WidgetStatus
	require.Eventually(testingT, func() bool {
		listing := harness.perform(http.MethodGet, "/api/dashboard/widgets", cookies, nil)
		if listing.Code != http.StatusOK || json.Unmarshal(listing.Body.Bytes(), &statuses) != nil {
			return false
		}
		return len(statuses) == 1 && statuses[0].State == widget.StateCompleted
	}, testEventuallyTimeout, testEventuallyTick)
	require.Equal(testingT, "weather_open", statuses[0].Type)

	refreshed := harness.perform(http.MethodPost, "/api/dashboard/widgets/weather/refresh", cookies, nil)
	require.Equal(testingT, http.StatusAccepted, refreshed.Code)

	missing := harness.perform(http.MethodGet, "/api/dashboard/widgets/nope", cookies, nil)
	require.Equal(testingT, http.StatusNotFound, missing.Code)

	anonymous := harness.perform(http.MethodGet, "/api/dashboard/widgets", nil, nil)
	require.Equal(testingT, http.StatusNotFound, anonymous.Code)

	require.Equal(testingT, 1, harness.runtime.sessions.Count())
	again := harness.perform(http.MethodGet, "/index.html", cookies, nil)
	require.Equal(testingT, http.StatusOK, again.Code)
	require.Contains(testingT, again.Body.String(), "20.4°C")
	require.Equal(testingT, 1, harness.runtime.sessions.Count())
}

func TestMonolithServesStaticFiles(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeMonolith)

	icon := harness.perform(http.MethodGet, "/img/travel-bus.svg", nil, nil)
	require.Equal(testingT, http.StatusOK, icon.Code)
	require.Equal(testingT, "image/svg+xml", icon.Header().Get("Content-Type"))

	missing := harness.perform(http.MethodGet, "/img/missing.svg", nil, nil)
	require.Equal(testingT, http.StatusNotFound, missing.Code)
	require.Equal(testingT, "Error loading img/missing.svg", missing.Body.String())

	escaping := harness.perform(http.MethodGet, "/../secrets.txt", nil, nil)
	require.Equal(testingT, http.StatusNotFound, escaping.Code)

	script := harness.perform(http.MethodGet, "/dashboard.js", nil, nil)
	require.Equal(testingT, http.StatusOK, script.Code)
	require.Contains(testingT, script.Body.String(), "EventSource")
}

func TestMetricsEndpointCountsRequests(testingT *testing.T) {
	harness := newRuntimeHarness(testingT, ServeModeAPI)

	harness.perform(http.MethodGet, "/healthz", nil, nil)
	recorder := harness.perform(http.MethodGet, "/metrics", nil, nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Contains(testingT, recorder.Body.String(), `infoboard_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
