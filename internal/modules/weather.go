package modules

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	forecastHours = 48
	chartWidth    = 500
	chartHeight   = 150
	clockLayout   = "15:04"
)

type openWeatherPayload struct {
	Main *struct {
		Temperature float64 `json:"temp"`
		FeelsLike   float64 `json:"feels_like"`
		Minimum     float64 `json:"temp_min"`
		Maximum     float64 `json:"temp_max"`
	} `json:"main"`
}

type weatherOpenView struct {
	Title       string
	Temperature float64
	FeelsLike   float64
	Minimum     float64
	Maximum     float64
}

// RenderWeatherOpen shows the current conditions from an OpenWeather style payload.
func RenderWeatherOpen(container *widget.Container, data any, drawConfigs widget.DrawConfigs) error {
	var payload openWeatherPayload
	if decodeErr := decodePayload(data, &payload); decodeErr != nil {
		return decodeErr
	}
	if payload.Main == nil {
		return errors.New("weather payload has no main section")
	}
	return renderTemplate(container, TypeWeatherOpen, weatherOpenView{
		Title:       stringConfig(drawConfigs, drawConfigTitle),
		Temperature: payload.Main.Temperature,
		FeelsLike:   payload.Main.FeelsLike,
		Minimum:     payload.Main.Minimum,
		Maximum:     payload.Main.Maximum,
	})
}

type yrForecastPayload struct {
	Properties *struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature float64 `json:"air_temperature"`
					} `json:"details"`
				} `json:"instant"`
				NextHour *struct {
					Details struct {
						PrecipitationAmount float64 `json:"precipitation_amount"`
					} `json:"details"`
				} `json:"next_1_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// ForecastChart is the Chart.js input embedded in the weather_yr canvas.
type ForecastChart struct {
	Labels        []string  `json:"labels"`
	Temperatures  []float64 `json:"temperatures"`
	Precipitation []float64 `json:"precipitation"`
}

type weatherYrView struct {
	Width  int
	Height int
	Chart  string
}

// RenderWeatherYr draws the next two days of a MET Norway forecast as a temperature and precipitation chart.
func RenderWeatherYr(container *widget.Container, data any, drawConfigs widget.DrawConfigs) error {
	var payload yrForecastPayload
	if decodeErr := decodePayload(data, &payload); decodeErr != nil {
		return decodeErr
	}
	if payload.Properties == nil {
		return errors.New("forecast payload has no properties section")
	}

	location := locationConfig(drawConfigs)
	series := payload.Properties.Timeseries
	if len(series) > forecastHours {
		series = series[:forecastHours]
	}
	chart := ForecastChart{
		Labels:        make([]string, 0, len(series)),
		Temperatures:  make([]float64, 0, len(series)),
		Precipitation: make([]float64, 0, len(series)),
	}
	for _, entry := range series {
		chart.Labels = append(chart.Labels, entry.Time.In(location).Format(clockLayout))
		chart.Temperatures = append(chart.Temperatures, entry.Data.Instant.Details.AirTemperature)
		precipitation := 0.0
		if entry.Data.NextHour != nil {
			precipitation = entry.Data.NextHour.Details.PrecipitationAmount
		}
		chart.Precipitation = append(chart.Precipitation, precipitation)
	}

	encodedChart, encodeErr := json.Marshal(chart)
	if encodeErr != nil {
		return encodeErr
	}
	return renderTemplate(container, TypeWeatherYr, weatherYrView{
		Width:  chartWidth,
		Height: chartHeight,
		Chart:  string(encodedChart),
	})
}
