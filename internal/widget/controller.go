package widget

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/task"
)

// WidgetState is a controller's position in its lifecycle.
type WidgetState string

const (
	StateUninitialized WidgetState = "uninitialized"
	StateKeyResolving  WidgetState = "key_resolving"
	StateFetching      WidgetState = "fetching"
	StateRendering     WidgetState = "rendering"
	// StateIdle waits for the next scheduled cycle.
	StateIdle WidgetState = "idle"
	// StateCompleted is terminal for widgets without a refresh interval.
	StateCompleted WidgetState = "completed"
	// StateFailed is terminal for configuration, credential and module errors.
	StateFailed WidgetState = "failed"
)

const (
	messageInvalidConfigurationPrefix = "Invalid widget configuration: "
	messageCredentialNotFoundPrefix   = "API key not found for label: "
	messageUnsupportedModulePrefix    = "Unsupported module type: "
)

// Environment carries the state shared by every controller of a dashboard.
type Environment struct {
	Registry    *ModuleRegistry
	Credentials *CredentialCache
	Geolocation CapabilityProvider
	// Query holds the dashboard URL query parameters.
	Query url.Values
	// BaseURL resolves relative apiUrl values.
	BaseURL    *url.URL
	HTTPClient *resty.Client
	Logger     *zap.Logger
	Recorder   Recorder
}

func (environment Environment) withDefaults() Environment {
	if environment.Logger == nil {
		environment.Logger = zap.NewNop()
	}
	if environment.Recorder == nil {
		environment.Recorder = NopRecorder{}
	}
	if environment.Registry == nil {
		environment.Registry = NewModuleRegistry()
	}
	if environment.HTTPClient == nil {
		environment.HTTPClient = NewHTTPClient(defaultFetchTimeout)
	}
	if environment.Query == nil {
		environment.Query = url.Values{}
	}
	return environment
}

// Controller orchestrates one widget: configuration, credential, fetch, render and refresh.
type Controller struct {
	id            string
	configuration WidgetConfig
	configErr     error
	environment   Environment
	renderer      *Renderer
	logger        *zap.Logger

	mutex     sync.RWMutex
	state     WidgetState
	failure   error
	fetcher   *DataFetcher
	renderFn  RenderFunc
	scheduler *task.Scheduler
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool

	cycleMutex sync.Mutex
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewController parses the declaration once. A malformed declaration does not fail construction;
// the controller reports it in its container when started.
func NewController(id string, rawConfig string, container *Container, environment Environment) *Controller {
	environment = environment.withDefaults()
	configuration, configErr := ParseConfig(rawConfig)
	controller := &Controller{
		id:            id,
		configuration: configuration,
		configErr:     configErr,
		environment:   environment,
		renderer:      NewRenderer(container),
		logger:        environment.Logger.With(zap.String("widget_id", id), zap.String("widget_type", configuration.Type)),
		state:         StateUninitialized,
	}
	return controller
}

func (controller *Controller) ID() string {
	return controller.id
}

// Config returns the parsed configuration and the parse error, if any.
func (controller *Controller) Config() (WidgetConfig, error) {
	return controller.configuration, controller.configErr
}

func (controller *Controller) Container() *Container {
	return controller.renderer.Container()
}

func (controller *Controller) State() WidgetState {
	controller.mutex.RLock()
	defer controller.mutex.RUnlock()
	return controller.state
}

// Err returns the error that moved the controller to StateFailed.
func (controller *Controller) Err() error {
	controller.mutex.RLock()
	defer controller.mutex.RUnlock()
	return controller.failure
}

// Start runs the lifecycle on its own goroutine. It does nothing once the controller is stopped.
func (controller *Controller) Start(ctx context.Context) {
	controller.startOnce.Do(func() {
		controller.mutex.Lock()
		if controller.stopped {
			controller.mutex.Unlock()
			return
		}
		runtimeCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		controller.cancel = cancel
		controller.done = done
		controller.mutex.Unlock()
		go func() {
			defer close(done)
			controller.Run(runtimeCtx)
		}()
	})
}

// Stop cancels the lifecycle and any schedule, then waits for in-flight work.
func (controller *Controller) Stop() {
	controller.stopOnce.Do(func() {
		controller.mutex.Lock()
		controller.stopped = true
		cancel := controller.cancel
		done := controller.done
		controller.mutex.Unlock()
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		controller.mutex.RLock()
		scheduler := controller.scheduler
		controller.mutex.RUnlock()
		scheduler.Stop()
	})
}

// Refresh requests an immediate cycle. It has no effect unless the widget is scheduled.
func (controller *Controller) Refresh() {
	controller.mutex.RLock()
	scheduler := controller.scheduler
	controller.mutex.RUnlock()
	scheduler.Trigger()
}

// Run executes the lifecycle in the calling goroutine. It returns after the single cycle of a
// one-shot widget, or once the schedule of a refreshing widget has started.
func (controller *Controller) Run(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			controller.fail(fmt.Errorf("%w: panic: %v", ErrRender, recovered), RenderFailedMessage)
		}
	}()

	if controller.configErr != nil {
		controller.fail(controller.configErr, messageInvalidConfigurationPrefix+describeConfigError(controller.configErr))
		return
	}

	targetURL, resolveErr := controller.configuration.ResolveURL(controller.environment.BaseURL)
	if resolveErr != nil {
		controller.fail(resolveErr, messageInvalidConfigurationPrefix+describeConfigError(resolveErr))
		return
	}

	credential := controller.configuration.APIKey
	if controller.configuration.NeedsCredentialLookup() {
		controller.setState(StateKeyResolving)
		resolved, found := controller.resolveCredential(ctx)
		if !found && ctx.Err() != nil {
			return
		}
		if !found {
			label := controller.configuration.APIKeyLabel
			controller.fail(fmt.Errorf("%w: %s", ErrCredential, label), messageCredentialNotFoundPrefix+label)
			return
		}
		credential = resolved
	}

	renderFunc, found := controller.environment.Registry.Lookup(controller.configuration.Type)
	if !found {
		moduleType := controller.configuration.Type
		controller.environment.Recorder.CycleCompleted(moduleType, CycleOutcomeUnsupported, 0)
		controller.fail(fmt.Errorf("%w: %s", ErrRenderModule, moduleType), messageUnsupportedModulePrefix+moduleType)
		return
	}

	controller.mutex.Lock()
	controller.renderFn = renderFunc
	controller.fetcher = NewDataFetcher(FetcherConfig{
		BaseURL:             targetURL,
		AuthorizationHeader: controller.configuration.Authorization,
		Credential:          credential,
		Client:              controller.environment.HTTPClient,
		Geolocation:         controller.environment.Geolocation,
		Query:               controller.environment.Query,
		Logger:              controller.logger,
	})
	controller.mutex.Unlock()

	interval := controller.configuration.Interval()
	if interval <= 0 {
		_ = controller.Cycle(ctx)
		controller.setState(StateCompleted)
		return
	}

	scheduler := task.NewScheduler(interval, func(runCtx context.Context) {
		cycleCtx, cancel := context.WithTimeout(runCtx, interval)
		defer cancel()
		_ = controller.Cycle(cycleCtx)
		if runCtx.Err() == nil {
			controller.setState(StateIdle)
		}
	}, task.WithImmediateRun(), task.WithSkipHandler(func() {
		controller.logger.Warn("widget_cycle_skipped", zap.Duration("interval", interval))
	}))
	controller.mutex.Lock()
	controller.scheduler = scheduler
	controller.mutex.Unlock()
	scheduler.Start(ctx)
}

// Cycle performs one fetch followed by one render. Errors are reported, never propagated as panics;
// a fetch failure renders the no-data state.
func (controller *Controller) Cycle(ctx context.Context) (cycleErr error) {
	controller.cycleMutex.Lock()
	defer controller.cycleMutex.Unlock()

	controller.mutex.RLock()
	fetcher := controller.fetcher
	renderFunc := controller.renderFn
	controller.mutex.RUnlock()
	if fetcher == nil {
		return fmt.Errorf("%w: widget not initialized", ErrConfig)
	}

	moduleType := controller.configuration.Type
	cycleStart := time.Now()
	outcome := CycleOutcomeRendered
	defer func() {
		if recovered := recover(); recovered != nil {
			cycleErr = fmt.Errorf("%w: panic: %v", ErrRender, recovered)
			outcome = CycleOutcomeRenderError
			controller.renderer.ShowMessage(RenderFailedMessage)
		}
		controller.environment.Recorder.CycleCompleted(moduleType, outcome, time.Since(cycleStart))
	}()

	controller.setState(StateFetching)
	data, fetchErr := fetcher.Fetch(ctx, controller.configuration.Params)
	controller.environment.Recorder.FetchCompleted(moduleType, fetchErr == nil, time.Since(cycleStart))
	if fetchErr != nil {
		data = nil
		outcome = CycleOutcomeNoData
	}

	controller.setState(StateRendering)
	if renderErr := controller.renderer.Render(data, renderFunc, controller.configuration.DrawConfigs); renderErr != nil {
		outcome = CycleOutcomeRenderError
		controller.logger.Warn("widget_render_failed", zap.Error(renderErr))
		return renderErr
	}
	return fetchErr
}

func (controller *Controller) resolveCredential(ctx context.Context) (string, bool) {
	if controller.environment.Credentials == nil {
		return "", false
	}
	return controller.environment.Credentials.Resolve(ctx, controller.configuration.APIKeyLabel)
}

func (controller *Controller) setState(state WidgetState) {
	controller.mutex.Lock()
	controller.state = state
	controller.mutex.Unlock()
}

func (controller *Controller) fail(failure error, message string) {
	controller.logger.Warn("widget_failed", zap.Error(failure))
	controller.renderer.ShowMessage(message)
	controller.mutex.Lock()
	controller.state = StateFailed
	controller.failure = failure
	controller.mutex.Unlock()
}

func describeConfigError(configErr error) string {
	message := configErr.Error()
	prefix := ErrConfig.Error() + ": "
	if errors.Is(configErr, ErrConfig) && len(message) > len(prefix) {
		return message[len(prefix):]
	}
	return message
}
