package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MarkoPoloResearchLab/infoboard/internal/task"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	dashboardCookieName       = "infoboard_dashboard"
	dashboardCookieKeyID      = "dashboard_id"
	dashboardCookieMaxAge     = 30 * 24 * 60 * 60
	defaultSessionIdleTTL     = 30 * time.Minute
	defaultSessionPendingTTL  = 2 * time.Minute
	defaultMaxSessions        = 64
	minimumJanitorInterval    = time.Second
	dashboardScriptPath       = "/dashboard.js"
	logEventSessionStarted    = "dashboard_session_started"
	logEventSessionStopped    = "dashboard_session_stopped"
	logEventSessionEvicted    = "dashboard_session_evicted"
	logEventSessionLimit      = "dashboard_session_limit_reached"
	logEventSessionCookieSave = "dashboard_cookie_save_failed"
	logEventSessionCookieLoad = "dashboard_cookie_load_failed"
)

// GeolocationMode selects how dashboard sessions answer the lat/lon capability.
type GeolocationMode string

const (
	// GeolocationModePrompt asks the attached browser.
	GeolocationModePrompt GeolocationMode = "prompt"
	// GeolocationModeStatic answers with configured coordinates.
	GeolocationModeStatic GeolocationMode = "static"
	// GeolocationModeOff reports geolocation as unavailable.
	GeolocationModeOff GeolocationMode = "off"
)

var (
	// ErrSessionNotFound indicates the caller has no bootstrapped dashboard for its cookie and query.
	ErrSessionNotFound = errors.New("httpapi: dashboard session not found")
	// ErrSessionLimit indicates every session slot is held by a dashboard with an attached stream.
	ErrSessionLimit = errors.New("httpapi: dashboard session limit reached")
	// ErrGeolocationNotRequested indicates the session is not waiting for a browser position.
	ErrGeolocationNotRequested = errors.New("httpapi: geolocation not requested")
	// ErrInvalidGeolocationMode indicates an unknown GEOLOCATION_MODE value.
	ErrInvalidGeolocationMode = errors.New("httpapi: invalid geolocation mode")
)

func ParseGeolocationMode(raw string) (GeolocationMode, error) {
	switch mode := GeolocationMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return GeolocationModePrompt, nil
	case GeolocationModePrompt, GeolocationModeStatic, GeolocationModeOff:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidGeolocationMode, raw)
	}
}

// SessionObserver is notified when dashboard sessions start and stop.
type SessionObserver interface {
	SessionStarted()
	SessionStopped()
}

// DashboardSessionsConfig describes how dashboard sessions are bootstrapped. PendingTTL bounds
// sessions that never attached an event stream and never exceeds IdleTTL.
type DashboardSessionsConfig struct {
	Page              PageSource
	Registry          *widget.ModuleRegistry
	Credentials       *widget.CredentialCache
	HTTPClient        *resty.Client
	BaseURL           *url.URL
	GeolocationMode   GeolocationMode
	StaticCoordinates widget.Coordinates
	PromptTimeout     time.Duration
	IdleTTL           time.Duration
	PendingTTL        time.Duration
	MaxSessions       int
	SessionSecret     []byte
	SecureCookies     bool
	Recorder          widget.Recorder
	Observer          SessionObserver
	Logger            *zap.Logger
	Clock             func() time.Time
}

// DashboardSession is one bootstrapped page bound to a browser cookie and a URL query.
type DashboardSession struct {
	key       string
	dashboard *widget.Dashboard
	events    *DashboardEventBroadcaster
	prompt    *widget.PromptLocator
	cancel    context.CancelFunc
	lastSeen  atomic.Int64
	streamed  atomic.Bool
	stopOnce  sync.Once
}

func (session *DashboardSession) Key() string {
	return session.key
}

func (session *DashboardSession) Dashboard() *widget.Dashboard {
	return session.dashboard
}

func (session *DashboardSession) Events() *DashboardEventBroadcaster {
	return session.events
}

// Subscribe attaches an event stream and marks the session as watched by a browser.
func (session *DashboardSession) Subscribe() *DashboardEventSubscription {
	subscription := session.events.Subscribe()
	if subscription != nil {
		session.streamed.Store(true)
	}
	return subscription
}

// GeolocationPending reports whether a widget is waiting for the browser position.
func (session *DashboardSession) GeolocationPending() bool {
	return session.prompt != nil && session.prompt.Pending()
}

// SupplyLocation answers the pending geolocation prompt.
func (session *DashboardSession) SupplyLocation(coordinates widget.Coordinates) error {
	if session.prompt == nil {
		return ErrGeolocationNotRequested
	}
	session.prompt.Supply(coordinates)
	return nil
}

// DenyLocation records that the browser refused to share its position.
func (session *DashboardSession) DenyLocation() error {
	if session.prompt == nil {
		return ErrGeolocationNotRequested
	}
	session.prompt.Deny()
	return nil
}

func (session *DashboardSession) touch(now time.Time) {
	session.lastSeen.Store(now.UnixNano())
}

func (session *DashboardSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, session.lastSeen.Load()))
}

func (session *DashboardSession) stop() {
	session.stopOnce.Do(func() {
		if session.cancel != nil {
			session.cancel()
		}
		session.dashboard.Stop()
		session.events.Close()
	})
}

// DashboardSessions owns the live dashboard sessions and stops the idle ones.
type DashboardSessions struct {
	configuration DashboardSessionsConfig
	cookieStore   *sessions.CookieStore
	logger        *zap.Logger
	clock         func() time.Time

	mutex    sync.Mutex
	sessions map[string]*DashboardSession
	janitor  *task.Scheduler
	closed   bool
}

func NewDashboardSessions(configuration DashboardSessionsConfig) *DashboardSessions {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = time.Now
	}
	if configuration.IdleTTL <= 0 {
		configuration.IdleTTL = defaultSessionIdleTTL
	}
	if configuration.PendingTTL <= 0 {
		configuration.PendingTTL = defaultSessionPendingTTL
	}
	if configuration.PendingTTL > configuration.IdleTTL {
		configuration.PendingTTL = configuration.IdleTTL
	}
	if configuration.MaxSessions <= 0 {
		configuration.MaxSessions = defaultMaxSessions
	}
	if configuration.Page == nil {
		configuration.Page = DefaultPageSource()
	}
	if configuration.GeolocationMode == "" {
		configuration.GeolocationMode = GeolocationModePrompt
	}
	secret := configuration.SessionSecret
	if len(secret) == 0 {
		secret = []byte(uuid.NewString())
	}
	cookieStore := sessions.NewCookieStore(secret)
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   dashboardCookieMaxAge,
		HttpOnly: true,
		Secure:   configuration.SecureCookies,
	}
	return &DashboardSessions{
		configuration: configuration,
		cookieStore:   cookieStore,
		logger:        logger,
		clock:         clock,
		sessions:      make(map[string]*DashboardSession),
	}
}

// Start launches the idle-session janitor.
func (manager *DashboardSessions) Start(ctx context.Context) {
	interval := manager.configuration.PendingTTL / 2
	if interval < minimumJanitorInterval {
		interval = minimumJanitorInterval
	}
	manager.mutex.Lock()
	if manager.janitor != nil || manager.closed {
		manager.mutex.Unlock()
		return
	}
	manager.janitor = task.NewScheduler(interval, func(context.Context) {
		manager.Sweep()
	})
	janitor := manager.janitor
	manager.mutex.Unlock()
	janitor.Start(ctx)
}

// Close stops the janitor and every session.
func (manager *DashboardSessions) Close() {
	manager.mutex.Lock()
	manager.closed = true
	janitor := manager.janitor
	manager.janitor = nil
	live := make([]*DashboardSession, 0, len(manager.sessions))
	for key, session := range manager.sessions {
		live = append(live, session)
		delete(manager.sessions, key)
	}
	manager.mutex.Unlock()

	janitor.Stop()
	for _, session := range live {
		manager.stopSession(session)
	}
}

// Sweep stops sessions without attached streams that have been idle longer than their TTL:
// PendingTTL until a stream has attached once, IdleTTL afterwards.
func (manager *DashboardSessions) Sweep() int {
	now := manager.clock()
	manager.mutex.Lock()
	expired := make([]*DashboardSession, 0)
	for key, session := range manager.sessions {
		if session.events.SubscriberCount() > 0 {
			continue
		}
		if session.idleSince(now) <= manager.ttl(session) {
			continue
		}
		expired = append(expired, session)
		delete(manager.sessions, key)
	}
	manager.mutex.Unlock()

	for _, session := range expired {
		manager.stopSession(session)
	}
	return len(expired)
}

// Count reports the number of live sessions.
func (manager *DashboardSessions) Count() int {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return len(manager.sessions)
}

// Acquire returns the caller's session, bootstrapping it (and issuing the cookie) when needed.
// The page is read and parsed outside the manager lock. At the session cap the least recently
// seen session without an attached stream is evicted; ErrSessionLimit is returned when none is.
func (manager *DashboardSessions) Acquire(ginContext *gin.Context) (*DashboardSession, error) {
	browserID := manager.browserID(ginContext, true)
	query := ginContext.Request.URL.Query()
	key := sessionKey(browserID, query)

	manager.mutex.Lock()
	if manager.closed {
		manager.mutex.Unlock()
		return nil, ErrSessionNotFound
	}
	if session, exists := manager.sessions[key]; exists {
		session.touch(manager.clock())
		manager.mutex.Unlock()
		return session, nil
	}
	manager.mutex.Unlock()

	candidate, bootstrapErr := manager.bootstrap(key, query)
	if bootstrapErr != nil {
		return nil, bootstrapErr
	}

	manager.mutex.Lock()
	if manager.closed {
		manager.mutex.Unlock()
		candidate.stop()
		return nil, ErrSessionNotFound
	}
	if session, exists := manager.sessions[key]; exists {
		session.touch(manager.clock())
		manager.mutex.Unlock()
		candidate.stop()
		return session, nil
	}
	var evicted *DashboardSession
	if len(manager.sessions) >= manager.configuration.MaxSessions {
		evicted = manager.evictionCandidateLocked()
		if evicted == nil {
			manager.mutex.Unlock()
			candidate.stop()
			manager.logger.Warn(logEventSessionLimit, zap.Int("max_sessions", manager.configuration.MaxSessions))
			return nil, ErrSessionLimit
		}
		delete(manager.sessions, evicted.key)
	}
	candidate.touch(manager.clock())
	manager.sessions[key] = candidate
	manager.start(candidate)
	manager.mutex.Unlock()

	if evicted != nil {
		manager.logger.Info(logEventSessionEvicted, zap.String("session", evicted.key))
		manager.stopSession(evicted)
	}
	return candidate, nil
}

// evictionCandidateLocked picks a session without subscribers, preferring never-streamed ones
// and then the least recently seen.
func (manager *DashboardSessions) evictionCandidateLocked() *DashboardSession {
	var candidate *DashboardSession
	for _, session := range manager.sessions {
		if session.events.SubscriberCount() > 0 {
			continue
		}
		if candidate == nil || evictsBefore(session, candidate) {
			candidate = session
		}
	}
	return candidate
}

func evictsBefore(session *DashboardSession, other *DashboardSession) bool {
	if session.streamed.Load() != other.streamed.Load() {
		return !session.streamed.Load()
	}
	return session.lastSeen.Load() < other.lastSeen.Load()
}

func (manager *DashboardSessions) ttl(session *DashboardSession) time.Duration {
	if session.streamed.Load() {
		return manager.configuration.IdleTTL
	}
	return manager.configuration.PendingTTL
}

// Lookup returns the caller's session without creating one.
func (manager *DashboardSessions) Lookup(ginContext *gin.Context) (*DashboardSession, error) {
	browserID := manager.browserID(ginContext, false)
	if browserID == "" {
		return nil, ErrSessionNotFound
	}
	key := sessionKey(browserID, ginContext.Request.URL.Query())

	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	session, exists := manager.sessions[key]
	if !exists {
		return nil, ErrSessionNotFound
	}
	session.touch(manager.clock())
	return session, nil
}

// Touch marks the session as used now.
func (manager *DashboardSessions) Touch(session *DashboardSession) {
	session.touch(manager.clock())
}

func (manager *DashboardSessions) bootstrap(key string, query url.Values) (*DashboardSession, error) {
	page, pageErr := manager.configuration.Page()
	if pageErr != nil {
		return nil, pageErr
	}

	session := &DashboardSession{
		key:    key,
		events: NewDashboardEventBroadcaster(),
	}
	var locator widget.Locator
	switch manager.configuration.GeolocationMode {
	case GeolocationModeStatic:
		locator = widget.NewStaticLocator(manager.configuration.StaticCoordinates)
	case GeolocationModeOff:
		locator = widget.UnavailableLocator()
	default:
		session.prompt = widget.NewPromptLocator(manager.configuration.PromptTimeout, func() {
			session.events.Broadcast(DashboardEvent{Name: dashboardEventGeolocation})
		})
		locator = session.prompt
	}

	environment := widget.Environment{
		Registry:    manager.configuration.Registry,
		Credentials: manager.configuration.Credentials,
		Geolocation: widget.NewGeolocationSnapshot(locator),
		Query:       query,
		BaseURL:     manager.configuration.BaseURL,
		HTTPClient:  manager.configuration.HTTPClient,
		Logger:      manager.logger.With(zap.String("session", key)),
		Recorder:    manager.configuration.Recorder,
	}
	dashboard, bootstrapErr := widget.Bootstrap(bytes.NewReader(page), environment)
	if bootstrapErr != nil {
		return nil, bootstrapErr
	}
	injectScript(dashboard.Document(), dashboardScriptPath)
	dashboard.Observe(func(update widget.ContainerUpdate) {
		session.events.Broadcast(DashboardEvent{
			Name:     dashboardEventWidget,
			WidgetID: update.ID,
			HTML:     string(update.HTML),
			Version:  update.Version,
		})
	})
	session.dashboard = dashboard
	return session, nil
}

// start launches the session's widgets. Callers hold the manager lock.
func (manager *DashboardSessions) start(session *DashboardSession) {
	runtimeCtx, cancel := context.WithCancel(context.Background())
	session.cancel = cancel
	session.dashboard.Start(runtimeCtx)

	if manager.configuration.Observer != nil {
		manager.configuration.Observer.SessionStarted()
	}
	manager.logger.Info(logEventSessionStarted, zap.String("session", session.key), zap.Int("widgets", len(session.dashboard.Controllers())))
}

func (manager *DashboardSessions) stopSession(session *DashboardSession) {
	session.stop()
	if manager.configuration.Observer != nil {
		manager.configuration.Observer.SessionStopped()
	}
	manager.logger.Info(logEventSessionStopped, zap.String("session", session.key))
}

// browserID reads the dashboard cookie, issuing a fresh id when create is set.
func (manager *DashboardSessions) browserID(ginContext *gin.Context, create bool) string {
	cookieSession, loadErr := manager.cookieStore.Get(ginContext.Request, dashboardCookieName)
	if loadErr != nil {
		manager.logger.Debug(logEventSessionCookieLoad, zap.Error(loadErr))
	}
	if identifier, ok := cookieSession.Values[dashboardCookieKeyID].(string); ok && identifier != "" {
		return identifier
	}
	if !create {
		return ""
	}
	identifier := uuid.NewString()
	cookieSession.Values[dashboardCookieKeyID] = identifier
	if saveErr := cookieSession.Save(ginContext.Request, ginContext.Writer); saveErr != nil {
		manager.logger.Warn(logEventSessionCookieSave, zap.Error(saveErr))
	}
	return identifier
}

func sessionKey(browserID string, query url.Values) string {
	encoded := query.Encode()
	if encoded == "" {
		return browserID
	}
	return browserID + "?" + encoded
}

// injectScript appends a deferred script element to the body (or the root) once.
func injectScript(document *html.Node, source string) {
	if document == nil {
		return
	}
	var body *html.Node
	var present bool
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			if node.DataAtom == atom.Body && body == nil {
				body = node
			}
			if node.DataAtom == atom.Script {
				for _, attribute := range node.Attr {
					if attribute.Key == "src" && attribute.Val == source {
						present = true
					}
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(document)
	if present {
		return
	}
	target := body
	if target == nil {
		target = document
	}
	target.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
		Attr: []html.Attribute{
			{Key: "src", Val: source},
			{Key: "defer"},
		},
	})
}
