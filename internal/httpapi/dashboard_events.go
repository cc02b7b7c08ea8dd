package httpapi

import (
	"sync"
)

const (
	dashboardEventWidget      = "widget"
	dashboardEventGeolocation = "geolocation"
)

// DashboardEvent is one server-sent notification for a dashboard page.
type DashboardEvent struct {
	Name     string
	WidgetID string
	HTML     string
	Version  uint64
}

// DashboardEventBroadcaster fan-outs dashboard events to the streams attached to one session.
type DashboardEventBroadcaster struct {
	mutex        sync.Mutex
	nextID       int64
	subscribers  map[int64]chan DashboardEvent
	closed       bool
	bufferLength int
}

const dashboardEventDefaultBuffer = 16

func NewDashboardEventBroadcaster() *DashboardEventBroadcaster {
	return &DashboardEventBroadcaster{
		subscribers:  make(map[int64]chan DashboardEvent),
		bufferLength: dashboardEventDefaultBuffer,
	}
}

// Subscribe returns a subscription, or nil once the broadcaster is closed.
func (broadcaster *DashboardEventBroadcaster) Subscribe() *DashboardEventSubscription {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}
	subscriptionID := broadcaster.nextID
	broadcaster.nextID++
	eventChannel := make(chan DashboardEvent, broadcaster.bufferLength)
	broadcaster.subscribers[subscriptionID] = eventChannel
	return &DashboardEventSubscription{
		broadcaster: broadcaster,
		identifier:  subscriptionID,
		events:      eventChannel,
	}
}

// Broadcast delivers the event to every subscriber without blocking; slow subscribers miss events
// and catch up from the widget versions on reconnect.
func (broadcaster *DashboardEventBroadcaster) Broadcast(event DashboardEvent) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed || len(broadcaster.subscribers) == 0 {
		return
	}
	for _, channel := range broadcaster.subscribers {
		select {
		case channel <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of attached streams.
func (broadcaster *DashboardEventBroadcaster) SubscriberCount() int {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	return len(broadcaster.subscribers)
}

// Close stops the broadcaster and closes all subscriber channels.
func (broadcaster *DashboardEventBroadcaster) Close() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for identifier, channel := range broadcaster.subscribers {
		close(channel)
		delete(broadcaster.subscribers, identifier)
	}
}

func (broadcaster *DashboardEventBroadcaster) remove(identifier int64) {
	broadcaster.mutex.Lock()
	channel, exists := broadcaster.subscribers[identifier]
	if exists {
		delete(broadcaster.subscribers, identifier)
		close(channel)
	}
	broadcaster.mutex.Unlock()
}

// DashboardEventSubscription represents a single attached stream.
type DashboardEventSubscription struct {
	broadcaster *DashboardEventBroadcaster
	identifier  int64
	events      chan DashboardEvent
	once        sync.Once
}

func (subscription *DashboardEventSubscription) Events() <-chan DashboardEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

// Close unregisters the subscription and closes its channel.
func (subscription *DashboardEventSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		if subscription.broadcaster != nil {
			subscription.broadcaster.remove(subscription.identifier)
		}
	})
}
