package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/news"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	queryKeyLabel                  = "key"
	jsonKeyAPIKey                  = "apiKey"
	jsonKeySummary                 = "summary"
	jsonKeyError                   = "error"
	jsonKeyStatus                  = "status"
	paramWidgetID                  = "id"
	errorValueInvalidKey           = "Invalid or missing key parameter"
	errorValueFetchFeed            = "Error fetching RSS feed"
	errorValueAnalyzeNews          = "Error analyzing news"
	errorValueLoadPrefix           = "Error loading "
	errorValueSessionNotFound      = "dashboard session not found"
	errorValueWidgetNotFound       = "widget not found"
	errorValueInvalidLocation      = "invalid location"
	errorValueLocationNotRequested = "geolocation not requested"
	errorValueStreamUnavailable    = "stream unavailable"
	errorValuePageUnavailable      = "Error loading dashboard"
	errorValueSessionLimit         = "Too many open dashboards"
	contentTypeHTML                = "text/html; charset=utf-8"
	contentTypeJavaScript          = "application/javascript; charset=utf-8"
	contentTypeText                = "text/plain; charset=utf-8"
	contentTypeFallback            = "application/octet-stream"
	statusValueOK                  = "ok"
	logEventIssueKeyFailed         = "issue_key_failed"
	logEventFetchNewsFailed        = "fetch_news_failed"
	logEventAnalyzeNewsFailed      = "analyze_news_failed"
	logEventAcquireSessionFailed   = "acquire_dashboard_session_failed"
	logEventRenderDashboardFailed  = "render_dashboard_failed"
	logEventMarshalEventFailed     = "marshal_dashboard_event_failed"
)

// NewsProvider serves the headline list and its digest.
type NewsProvider interface {
	Items(ctx context.Context) ([]news.Item, error)
	Summary(ctx context.Context) (string, error)
}

// DashboardHandlers serves the backend proxies and the live dashboard.
type DashboardHandlers struct {
	logger    *zap.Logger
	sessions  *DashboardSessions
	issuer    widget.CredentialIssuer
	news      NewsProvider
	publicDir string
}

func NewDashboardHandlers(logger *zap.Logger, dashboardSessions *DashboardSessions, issuer widget.CredentialIssuer, newsProvider NewsProvider, publicDir string) *DashboardHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardHandlers{
		logger:    logger,
		sessions:  dashboardSessions,
		issuer:    issuer,
		news:      newsProvider,
		publicDir: publicDir,
	}
}

// IssueKey hands out the provider secret registered under ?key=<label>.
func (handlers *DashboardHandlers) IssueKey(context *gin.Context) {
	label := strings.TrimSpace(context.Query(queryKeyLabel))
	if label == "" || handlers.issuer == nil {
		context.Data(http.StatusBadRequest, contentTypeText, []byte(errorValueInvalidKey))
		return
	}
	secret, issueErr := handlers.issuer.Issue(context.Request.Context(), label)
	if issueErr != nil || secret == "" {
		handlers.logger.Debug(logEventIssueKeyFailed, zap.String("label", label), zap.Error(issueErr))
		context.Data(http.StatusBadRequest, contentTypeText, []byte(errorValueInvalidKey))
		return
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyAPIKey: secret})
}

func (handlers *DashboardHandlers) News(context *gin.Context) {
	if handlers.news == nil {
		context.Data(http.StatusInternalServerError, contentTypeText, []byte(errorValueFetchFeed))
		return
	}
	items, itemsErr := handlers.news.Items(context.Request.Context())
	if itemsErr != nil {
		handlers.logger.Warn(logEventFetchNewsFailed, zap.Error(itemsErr))
		context.Data(http.StatusInternalServerError, contentTypeText, []byte(errorValueFetchFeed))
		return
	}
	if items == nil {
		items = []news.Item{}
	}
	context.JSON(http.StatusOK, items)
}

func (handlers *DashboardHandlers) AnalyzeNews(context *gin.Context) {
	if handlers.news == nil {
		context.Data(http.StatusInternalServerError, contentTypeText, []byte(errorValueAnalyzeNews))
		return
	}
	summary, summaryErr := handlers.news.Summary(context.Request.Context())
	if summaryErr != nil {
		handlers.logger.Warn(logEventAnalyzeNewsFailed, zap.Error(summaryErr))
		context.Data(http.StatusInternalServerError, contentTypeText, []byte(errorValueAnalyzeNews))
		return
	}
	context.JSON(http.StatusOK, gin.H{jsonKeySummary: summary})
}

// Page serves the caller's dashboard with every widget's current fragment in place.
func (handlers *DashboardHandlers) Page(context *gin.Context) {
	session, acquireErr := handlers.sessions.Acquire(context)
	if errors.Is(acquireErr, ErrSessionLimit) {
		context.Data(http.StatusServiceUnavailable, contentTypeText, []byte(errorValueSessionLimit))
		return
	}
	if acquireErr != nil {
		handlers.logger.Error(logEventAcquireSessionFailed, zap.Error(acquireErr))
		context.Data(http.StatusInternalServerError, contentTypeText, []byte(errorValuePageUnavailable))
		return
	}
	var buffer bytes.Buffer
	if renderErr := session.Dashboard().Render(&buffer); renderErr != nil {
		handlers.logger.Error(logEventRenderDashboardFailed, zap.Error(renderErr))
		context.Data(http.StatusInternalServerError, contentTypeText, []byte(errorValuePageUnavailable))
		return
	}
	context.Header("Cache-Control", "no-store")
	context.Data(http.StatusOK, contentTypeHTML, buffer.Bytes())
}

func (handlers *DashboardHandlers) DashboardJS(context *gin.Context) {
	context.Data(http.StatusOK, contentTypeJavaScript, dashboardJavaScriptSource)
}

type widgetEventPayload struct {
	ID      string `json:"id"`
	HTML    string `json:"html"`
	Version uint64 `json:"version"`
}

// StreamEvents pushes widget fragments and geolocation prompts for the caller's session.
// A new stream first receives every widget's current fragment.
func (handlers *DashboardHandlers) StreamEvents(ginContext *gin.Context) {
	session, acquireErr := handlers.sessions.Acquire(ginContext)
	if acquireErr != nil && !errors.Is(acquireErr, ErrSessionLimit) {
		handlers.logger.Error(logEventAcquireSessionFailed, zap.Error(acquireErr))
	}
	if acquireErr != nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	subscription := session.Subscribe()
	if subscription == nil {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}
	defer func() {
		subscription.Close()
		handlers.sessions.Touch(session)
	}()

	ginContext.Header("Content-Type", "text/event-stream")
	ginContext.Header("Cache-Control", "no-cache")
	ginContext.Header("Connection", "keep-alive")

	flusher, flushable := ginContext.Writer.(http.Flusher)
	if !flushable {
		ginContext.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueStreamUnavailable})
		return
	}

	ginContext.Writer.WriteHeaderNow()
	flusher.Flush()

	for _, controller := range session.Dashboard().Controllers() {
		container := controller.Container()
		snapshot := DashboardEvent{
			Name:     dashboardEventWidget,
			WidgetID: container.ID(),
			HTML:     string(container.HTML()),
			Version:  container.Version(),
		}
		if !handlers.writeEvent(ginContext, snapshot) {
			return
		}
	}
	if session.GeolocationPending() {
		if !handlers.writeEvent(ginContext, DashboardEvent{Name: dashboardEventGeolocation}) {
			return
		}
	}
	flusher.Flush()

	requestContext := ginContext.Request.Context()
	for {
		select {
		case <-requestContext.Done():
			return
		case event, ok := <-subscription.Events():
			if !ok {
				return
			}
			if !handlers.writeEvent(ginContext, event) {
				return
			}
			flusher.Flush()
		}
	}
}

func (handlers *DashboardHandlers) writeEvent(ginContext *gin.Context, event DashboardEvent) bool {
	var payload any = struct{}{}
	if event.Name == dashboardEventWidget {
		payload = widgetEventPayload{ID: event.WidgetID, HTML: event.HTML, Version: event.Version}
	}
	serializedPayload, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		handlers.logger.Debug(logEventMarshalEventFailed, zap.Error(marshalErr))
		return true
	}
	var buffer bytes.Buffer
	buffer.WriteString("event: ")
	buffer.WriteString(event.Name)
	buffer.WriteString("\n")
	buffer.WriteString("data: ")
	buffer.Write(serializedPayload)
	buffer.WriteString("\n\n")
	_, writeErr := ginContext.Writer.Write(buffer.Bytes())
	return writeErr == nil
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Denied    bool     `json:"denied"`
}

// Location answers the session's geolocation prompt.
func (handlers *DashboardHandlers) Location(context *gin.Context) {
	session, found := handlers.lookupSession(context)
	if !found {
		return
	}
	var request locationRequest
	if bindErr := context.ShouldBindJSON(&request); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidLocation})
		return
	}
	var answerErr error
	switch {
	case request.Denied:
		answerErr = session.DenyLocation()
	case request.Latitude != nil && request.Longitude != nil:
		answerErr = session.SupplyLocation(widget.Coordinates{Latitude: *request.Latitude, Longitude: *request.Longitude})
	default:
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidLocation})
		return
	}
	if errors.Is(answerErr, ErrGeolocationNotRequested) {
		context.JSON(http.StatusConflict, gin.H{jsonKeyError: errorValueLocationNotRequested})
		return
	}
	context.Status(http.StatusNoContent)
}

func (handlers *DashboardHandlers) ListWidgets(context *gin.Context) {
	session, found := handlers.lookupSession(context)
	if !found {
		return
	}
	context.JSON(http.StatusOK, session.Dashboard().Widgets())
}

// WidgetFragment returns the widget's current HTML fragment.
func (handlers *DashboardHandlers) WidgetFragment(context *gin.Context) {
	controller, found := handlers.lookupWidget(context)
	if !found {
		return
	}
	context.Data(http.StatusOK, contentTypeHTML, []byte(controller.Container().HTML()))
}

// RefreshWidget requests an immediate cycle outside the schedule.
func (handlers *DashboardHandlers) RefreshWidget(context *gin.Context) {
	controller, found := handlers.lookupWidget(context)
	if !found {
		return
	}
	controller.Refresh()
	context.Status(http.StatusAccepted)
}

func (handlers *DashboardHandlers) Health(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{jsonKeyStatus: statusValueOK})
}

// Static serves files from the public directory for every unrouted path.
func (handlers *DashboardHandlers) Static(context *gin.Context) {
	relativePath := strings.TrimPrefix(path.Clean("/"+context.Request.URL.Path), "/")
	if relativePath == "" {
		relativePath = dashboardPageName
	}
	if handlers.publicDir == "" || (context.Request.Method != http.MethodGet && context.Request.Method != http.MethodHead) {
		context.Data(http.StatusNotFound, contentTypeText, []byte(errorValueLoadPrefix+relativePath))
		return
	}
	contents, readErr := os.ReadFile(filepath.Join(handlers.publicDir, filepath.FromSlash(relativePath)))
	if readErr != nil {
		context.Data(http.StatusNotFound, contentTypeText, []byte(errorValueLoadPrefix+relativePath))
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(relativePath))
	if contentType == "" {
		contentType = contentTypeFallback
	}
	context.Data(http.StatusOK, contentType, contents)
}

func (handlers *DashboardHandlers) lookupSession(context *gin.Context) (*DashboardSession, bool) {
	session, lookupErr := handlers.sessions.Lookup(context)
	if lookupErr != nil {
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueSessionNotFound})
		return nil, false
	}
	return session, true
}

func (handlers *DashboardHandlers) lookupWidget(context *gin.Context) (*widget.Controller, bool) {
	session, found := handlers.lookupSession(context)
	if !found {
		return nil, false
	}
	controller, exists := session.Dashboard().Widget(context.Param(paramWidgetID))
	if !exists {
		context.JSON(http.StatusNotFound, gin.H{jsonKeyError: errorValueWidgetNotFound})
		return nil, false
	}
	return controller, true
}
