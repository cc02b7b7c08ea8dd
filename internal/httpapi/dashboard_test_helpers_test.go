package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/infoboard/internal/news"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	testEchoModuleType    = "echo"
	testBoardWidgetID     = "board"
	testIdleTTL           = time.Minute
	testEventuallyTimeout = 3 * time.Second
	testEventuallyTick    = 10 * time.Millisecond
	testBoardPageTemplate = `<!doctype html><html><head><title>Board</title></head><body>` +
		`<div id="board" data-config='{"type":"echo","apiUrl":"%s/echo","lat":"#lat","city":"$city[Praha]","refreshInterval":3600}'></div>` +
		`</body></html>`
)

type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.October, 19, 8, 0, 0, 0, time.UTC)}
}

func (clock *fakeClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	clock.now = clock.now.Add(duration)
	clock.mutex.Unlock()
}

type countingObserver struct {
	started atomic.Int64
	stopped atomic.Int64
}

func (observer *countingObserver) SessionStarted() {
	observer.started.Add(1)
}

func (observer *countingObserver) SessionStopped() {
	observer.stopped.Add(1)
}

type stubNewsProvider struct {
	items      []news.Item
	itemsErr   error
	summary    string
	summaryErr error
}

func (provider stubNewsProvider) Items(context.Context) ([]news.Item, error) {
	return provider.items, provider.itemsErr
}

func (provider stubNewsProvider) Summary(context.Context) (string, error) {
	return provider.summary, provider.summaryErr
}

type dashboardHarness struct {
	upstream  *httptest.Server
	sessions  *httpapi.DashboardSessions
	handlers  *httpapi.DashboardHandlers
	router    *gin.Engine
	observer  *countingObserver
	clock     *fakeClock
	publicDir string
}

type dashboardHarnessOptions struct {
	geolocationMode   httpapi.GeolocationMode
	staticCoordinates widget.Coordinates
	issuer            widget.CredentialIssuer
	newsProvider      httpapi.NewsProvider
	maxSessions       int
	pendingTTL        time.Duration
	beforePageRead    func()
}

// newDashboardHarness serves an echo widget whose fragment lists the lat and city parameters it was fetched with.
func newDashboardHarness(testingT *testing.T, options dashboardHarnessOptions) *dashboardHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]string{
			"headline": fmt.Sprintf("lat=%s city=%s", query.Get("lat"), query.Get("city")),
		})
	}))
	testingT.Cleanup(upstream.Close)

	registry := widget.NewModuleRegistry()
	require.NoError(testingT, registry.Register(testEchoModuleType, func(container *widget.Container, data any, drawConfigs widget.DrawConfigs) error {
		payload, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("unexpected payload %T", data)
		}
		container.SetText(fmt.Sprint(payload["headline"]))
		return nil
	}))

	page := []byte(fmt.Sprintf(testBoardPageTemplate, upstream.URL))
	baseURL, parseErr := url.Parse(upstream.URL)
	require.NoError(testingT, parseErr)

	geolocationMode := options.geolocationMode
	if geolocationMode == "" {
		geolocationMode = httpapi.GeolocationModeOff
	}

	clock := newFakeClock()
	observer := &countingObserver{}
	dashboardSessions := httpapi.NewDashboardSessions(httpapi.DashboardSessionsConfig{
		Page: func() ([]byte, error) {
			if options.beforePageRead != nil {
				options.beforePageRead()
			}
			return page, nil
		},
		Registry:          registry,
		Credentials:       widget.NewCredentialCache(options.issuer, zap.NewNop(), nil),
		HTTPClient:        widget.NewHTTPClient(time.Second),
		BaseURL:           baseURL,
		GeolocationMode:   geolocationMode,
		StaticCoordinates: options.staticCoordinates,
		PromptTimeout:     5 * time.Second,
		IdleTTL:           testIdleTTL,
		PendingTTL:        options.pendingTTL,
		MaxSessions:       options.maxSessions,
		SessionSecret:     []byte("0123456789abcdef0123456789abcdef"),
		Observer:          observer,
		Logger:            zap.NewNop(),
		Clock:             clock.Now,
	})
	testingT.Cleanup(dashboardSessions.Close)

	publicDir := testingT.TempDir()
	handlers := httpapi.NewDashboardHandlers(zap.NewNop(), dashboardSessions, options.issuer, options.newsProvider, publicDir)

	return &dashboardHarness{
		upstream:  upstream,
		sessions:  dashboardSessions,
		handlers:  handlers,
		router:    newDashboardTestRouter(handlers),
		observer:  observer,
		clock:     clock,
		publicDir: publicDir,
	}
}

func newDashboardTestRouter(handlers *httpapi.DashboardHandlers) *gin.Engine {
	router := gin.New()
	router.GET("/", handlers.Page)
	router.GET("/dashboard.js", handlers.DashboardJS)
	router.GET("/healthz", handlers.Health)

	apiGroup := router.Group("/api")
	apiGroup.GET("/key", handlers.IssueKey)
	apiGroup.GET("/news", handlers.News)
	apiGroup.GET("/analyze-news", handlers.AnalyzeNews)

	dashboardGroup := apiGroup.Group("/dashboard")
	dashboardGroup.GET("/events", handlers.StreamEvents)
	dashboardGroup.POST("/location", handlers.Location)
	dashboardGroup.GET("/widgets", handlers.ListWidgets)
	dashboardGroup.GET("/widgets/:id", handlers.WidgetFragment)
	dashboardGroup.POST("/widgets/:id/refresh", handlers.RefreshWidget)

	router.NoRoute(handlers.Static)
	return router
}

func (harness *dashboardHarness) perform(method string, target string, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

// openDashboard loads the page and returns the dashboard cookie.
func (harness *dashboardHarness) openDashboard(testingT *testing.T, target string, cookies []*http.Cookie) []*http.Cookie {
	testingT.Helper()
	page := harness.perform(http.MethodGet, target, "", cookies)
	require.Equal(testingT, http.StatusOK, page.Code)
	if issued := page.Result().Cookies(); len(issued) > 0 {
		return issued
	}
	return cookies
}

func (harness *dashboardHarness) waitForFragment(testingT *testing.T, target string, cookies []*http.Cookie, expected string) {
	testingT.Helper()
	require.Eventually(testingT, func() bool {
		fragment := harness.perform(http.MethodGet, target, "", cookies)
		return fragment.Code == http.StatusOK && strings.Contains(fragment.Body.String(), expected)
	}, testEventuallyTimeout, testEventuallyTick)
}
