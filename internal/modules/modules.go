// Package modules holds the render functions selectable by a widget's type.
package modules

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	TypeDeparture   = "departure"
	TypeWeatherOpen = "weather_open"
	TypeWeatherYr   = "weather_yr"
	TypeNews        = "news"
	TypeNewsSummary = "news_summary"

	drawConfigTitle    = "title"
	drawConfigTimeZone = "timeZone"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

var moduleTemplates = template.Must(template.New("modules").Funcs(template.FuncMap{
	"celsius": formatCelsius,
}).ParseFS(templateFiles, "templates/*.tmpl"))

// Clock returns the current time.
type Clock func() time.Time

// Register adds every built-in module to the registry.
func Register(registry *widget.ModuleRegistry) error {
	return RegisterWithClock(registry, time.Now)
}

// RegisterWithClock adds every built-in module, using clock for time-relative output.
func RegisterWithClock(registry *widget.ModuleRegistry, clock Clock) error {
	if clock == nil {
		clock = time.Now
	}
	renderers := map[string]widget.RenderFunc{
		TypeDeparture:   NewDepartureRenderer(clock),
		TypeWeatherOpen: RenderWeatherOpen,
		TypeWeatherYr:   RenderWeatherYr,
		TypeNews:        RenderNews,
		TypeNewsSummary: RenderNewsSummary,
	}
	for _, name := range []string{TypeDeparture, TypeWeatherOpen, TypeWeatherYr, TypeNews, TypeNewsSummary} {
		if registerErr := registry.Register(name, renderers[name]); registerErr != nil {
			return registerErr
		}
	}
	return nil
}

// decodePayload converts a generic JSON value into a typed payload.
func decodePayload(data any, target any) error {
	encoded, encodeErr := json.Marshal(data)
	if encodeErr != nil {
		return fmt.Errorf("encode payload: %w", encodeErr)
	}
	if decodeErr := json.Unmarshal(encoded, target); decodeErr != nil {
		return fmt.Errorf("decode payload: %w", decodeErr)
	}
	return nil
}

func renderTemplate(container *widget.Container, name string, view any) error {
	var buffer bytes.Buffer
	if executeErr := moduleTemplates.ExecuteTemplate(&buffer, name, view); executeErr != nil {
		return fmt.Errorf("execute %s template: %w", name, executeErr)
	}
	container.SetHTML(template.HTML(buffer.String()))
	return nil
}

func formatCelsius(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64) + "°C"
}

func stringConfig(drawConfigs widget.DrawConfigs, key string) string {
	value, _ := drawConfigs[key].(string)
	return value
}

func locationConfig(drawConfigs widget.DrawConfigs) *time.Location {
	name := stringConfig(drawConfigs, drawConfigTimeZone)
	if name == "" {
		return time.Local
	}
	location, loadErr := time.LoadLocation(name)
	if loadErr != nil {
		return time.Local
	}
	return location
}
