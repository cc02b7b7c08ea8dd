package widget

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultPromptTimeout = 15 * time.Second

var (
	// ErrGeolocationUnavailable reports that no coordinates can be provided.
	ErrGeolocationUnavailable = errors.New("widget: geolocation unavailable")
	// ErrGeolocationDenied reports that the user declined the geolocation prompt.
	ErrGeolocationDenied = errors.New("widget: geolocation denied")
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locator provides the geolocation capability. Locate must return on its own within a bounded time;
// GeolocationSnapshot calls it without a caller deadline.
type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// StaticLocator answers from configuration.
type StaticLocator struct {
	coordinates Coordinates
	available   bool
}

// NewStaticLocator returns a locator that always reports the given coordinates.
func NewStaticLocator(coordinates Coordinates) StaticLocator {
	return StaticLocator{coordinates: coordinates, available: true}
}

// UnavailableLocator returns a locator that always reports ErrGeolocationUnavailable.
func UnavailableLocator() StaticLocator {
	return StaticLocator{}
}

func (locator StaticLocator) Locate(context.Context) (Coordinates, error) {
	if !locator.available {
		return Coordinates{}, ErrGeolocationUnavailable
	}
	return locator.coordinates, nil
}

// PromptLocator asks an attached browser for its position and waits for the answer.
// The prompt callback fires on the first Locate; Pending lets late subscribers re-issue it.
type PromptLocator struct {
	timeout  time.Duration
	onPrompt func()

	mutex     sync.Mutex
	requested bool
	answered  bool
	answer    chan struct{}
	result    Coordinates
	resultErr error
}

// NewPromptLocator builds a locator. onPrompt may be nil.
func NewPromptLocator(timeout time.Duration, onPrompt func()) *PromptLocator {
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	return &PromptLocator{
		timeout:  timeout,
		onPrompt: onPrompt,
		answer:   make(chan struct{}),
	}
}

// SetPromptHandler replaces the callback used to ask the browser for coordinates.
func (locator *PromptLocator) SetPromptHandler(onPrompt func()) {
	locator.mutex.Lock()
	locator.onPrompt = onPrompt
	locator.mutex.Unlock()
}

func (locator *PromptLocator) Locate(ctx context.Context) (Coordinates, error) {
	locator.mutex.Lock()
	firstRequest := !locator.requested
	locator.requested = true
	onPrompt := locator.onPrompt
	locator.mutex.Unlock()

	if firstRequest && onPrompt != nil {
		onPrompt()
	}

	timer := time.NewTimer(locator.timeout)
	defer timer.Stop()

	select {
	case <-locator.answer:
		locator.mutex.Lock()
		defer locator.mutex.Unlock()
		return locator.result, locator.resultErr
	case <-timer.C:
		return Coordinates{}, ErrGeolocationUnavailable
	case <-ctx.Done():
		return Coordinates{}, ctx.Err()
	}
}

// Pending reports whether a prompt was issued and is still unanswered.
func (locator *PromptLocator) Pending() bool {
	locator.mutex.Lock()
	defer locator.mutex.Unlock()
	return locator.requested && !locator.answered
}

// Supply answers the prompt with coordinates. Only the first answer counts.
func (locator *PromptLocator) Supply(coordinates Coordinates) {
	locator.settle(coordinates, nil)
}

// Deny answers the prompt with a refusal. Only the first answer counts.
func (locator *PromptLocator) Deny() {
	locator.settle(Coordinates{}, ErrGeolocationDenied)
}

func (locator *PromptLocator) settle(coordinates Coordinates, err error) {
	locator.mutex.Lock()
	defer locator.mutex.Unlock()
	if locator.answered {
		return
	}
	locator.answered = true
	locator.result = coordinates
	locator.resultErr = err
	close(locator.answer)
}

// GeolocationSnapshot captures the locator's answer at most once and serves it afterwards.
// Failures are cached too: a denied or unavailable position is never re-requested. The capture
// runs detached from the first caller, so a caller whose context ends only gives up its own wait.
type GeolocationSnapshot struct {
	locator Locator

	once        sync.Once
	captured    chan struct{}
	coordinates Coordinates
	available   bool
}

// NewGeolocationSnapshot wraps a locator. A nil locator behaves as unavailable.
func NewGeolocationSnapshot(locator Locator) *GeolocationSnapshot {
	if locator == nil {
		locator = UnavailableLocator()
	}
	return &GeolocationSnapshot{locator: locator, captured: make(chan struct{})}
}

// Coordinates returns the cached position, capturing it on first use. It reports unavailable
// without caching anything when ctx ends before the capture settles.
func (snapshot *GeolocationSnapshot) Coordinates(ctx context.Context) (Coordinates, bool) {
	snapshot.once.Do(func() {
		go snapshot.capture(context.WithoutCancel(ctx))
	})
	select {
	case <-snapshot.captured:
		return snapshot.coordinates, snapshot.available
	case <-ctx.Done():
		return Coordinates{}, false
	}
}

func (snapshot *GeolocationSnapshot) capture(ctx context.Context) {
	defer close(snapshot.captured)
	coordinates, locateErr := snapshot.locator.Locate(ctx)
	if locateErr != nil {
		return
	}
	snapshot.coordinates = coordinates
	snapshot.available = true
}

// Capability answers the lat and lon capability tokens; any other name is unknown.
func (snapshot *GeolocationSnapshot) Capability(ctx context.Context, name string) (any, bool) {
	switch name {
	case CapabilityLatitude:
		coordinates, available := snapshot.Coordinates(ctx)
		if !available {
			return nil, true
		}
		return coordinates.Latitude, true
	case CapabilityLongitude:
		coordinates, available := snapshot.Coordinates(ctx)
		if !available {
			return nil, true
		}
		return coordinates.Longitude, true
	default:
		return nil, false
	}
}
