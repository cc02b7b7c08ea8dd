package modules

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	drawConfigPlatforms = "platforms"
	unknownStopName     = "Unknown"
	tramRouteLimit      = 100

	pictogramMetro = "img/travel-metro.svg"
	pictogramTram  = "img/travel-tram.svg"
	pictogramBus   = "img/travel-bus.svg"

	timeColorUrgent  = "text-red-700"
	timeColorSoon    = "text-yellow-600"
	timeColorComfort = "text-green-600"
)

var metroRoutes = map[string]struct{}{"A": {}, "B": {}, "C": {}, "D": {}}

type departureBoardPayload struct {
	Stops []struct {
		ID   string `json:"stop_id"`
		Name string `json:"stop_name"`
	} `json:"stops"`
	Departures []struct {
		Stop struct {
			ID           string `json:"id"`
			PlatformCode string `json:"platform_code"`
		} `json:"stop"`
		Route struct {
			ShortName string `json:"short_name"`
		} `json:"route"`
		Trip struct {
			Headsign string `json:"headsign"`
		} `json:"trip"`
		Timestamp struct {
			Predicted time.Time `json:"predicted"`
			Scheduled time.Time `json:"scheduled"`
		} `json:"departure_timestamp"`
	} `json:"departures"`
}

type departureView struct {
	Route        string
	Headsign     string
	Pictogram    string
	DepartsAt    string
	DelayMinutes int
	Minutes      int
	TimeColor    string
}

type platformView struct {
	StopName     string
	PlatformCode string
	Departures   []departureView
}

type departureBoardView struct {
	Platforms []platformView
}

type platformKey struct {
	stopName     string
	platformCode string
}

// NewDepartureRenderer returns the departure board module. Departures are grouped by stop and platform;
// the optional "platforms" draw config keeps only the listed platform codes.
func NewDepartureRenderer(clock Clock) widget.RenderFunc {
	return func(container *widget.Container, data any, drawConfigs widget.DrawConfigs) error {
		var payload departureBoardPayload
		if decodeErr := decodePayload(data, &payload); decodeErr != nil {
			return decodeErr
		}

		stopNames := make(map[string]string, len(payload.Stops))
		for _, stop := range payload.Stops {
			stopNames[stop.ID] = stop.Name
		}

		location := locationConfig(drawConfigs)
		now := clock()
		groups := make(map[platformKey][]departureView)
		for _, departure := range payload.Departures {
			stopName, known := stopNames[departure.Stop.ID]
			if !known || stopName == "" {
				stopName = unknownStopName
			}
			key := platformKey{stopName: stopName, platformCode: departure.Stop.PlatformCode}
			minutes := int(math.Ceil(departure.Timestamp.Predicted.Sub(now).Minutes()))
			delay := int(math.Floor(departure.Timestamp.Predicted.Sub(departure.Timestamp.Scheduled).Minutes()))
			if delay < 0 {
				delay = 0
			}
			groups[key] = append(groups[key], departureView{
				Route:        departure.Route.ShortName,
				Headsign:     departure.Trip.Headsign,
				Pictogram:    Pictogram(departure.Route.ShortName),
				DepartsAt:    departure.Timestamp.Predicted.In(location).Format(clockLayout),
				DelayMinutes: delay,
				Minutes:      minutes,
				TimeColor:    TimeColor(minutes),
			})
		}

		allowed, filtered := platformFilter(drawConfigs)
		keys := make([]platformKey, 0, len(groups))
		for key := range groups {
			if filtered {
				if _, keep := allowed[key.platformCode]; !keep {
					continue
				}
			}
			keys = append(keys, key)
		}
		sort.Slice(keys, func(left, right int) bool {
			if keys[left].stopName != keys[right].stopName {
				return keys[left].stopName < keys[right].stopName
			}
			return keys[left].platformCode < keys[right].platformCode
		})

		view := departureBoardView{Platforms: make([]platformView, 0, len(keys))}
		for _, key := range keys {
			view.Platforms = append(view.Platforms, platformView{
				StopName:     key.stopName,
				PlatformCode: key.platformCode,
				Departures:   groups[key],
			})
		}
		return renderTemplate(container, TypeDeparture, view)
	}
}

func platformFilter(drawConfigs widget.DrawConfigs) (map[string]struct{}, bool) {
	rawPlatforms, present := drawConfigs[drawConfigPlatforms]
	if !present {
		return nil, false
	}
	allowed := make(map[string]struct{})
	switch typed := rawPlatforms.(type) {
	case []any:
		for _, platform := range typed {
			if code, isString := platform.(string); isString {
				allowed[code] = struct{}{}
			}
		}
	case []string:
		for _, code := range typed {
			allowed[code] = struct{}{}
		}
	case string:
		allowed[typed] = struct{}{}
	}
	return allowed, true
}

// Pictogram picks the vehicle icon for a route: lettered routes are metro lines,
// numbers below 100 are trams and everything else is a bus.
func Pictogram(route string) string {
	if _, metro := metroRoutes[route]; metro {
		return pictogramMetro
	}
	if number, parseErr := strconv.Atoi(route); parseErr == nil && number < tramRouteLimit {
		return pictogramTram
	}
	return pictogramBus
}

// TimeColor colours the minutes until departure by how comfortably the stop can be reached.
func TimeColor(minutes int) string {
	switch {
	case minutes < 3:
		return timeColorUrgent
	case minutes < 6:
		return timeColorSoon
	case minutes < 10:
		return timeColorComfort
	case minutes < 20:
		return timeColorSoon
	default:
		return timeColorUrgent
	}
}
