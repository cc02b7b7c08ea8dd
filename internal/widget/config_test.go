package widget

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConfigSeparatesParameters(testingT *testing.T) {
	configuration, parseErr := ParseConfig(`{
		"apiUrl": " https://api.openweathermap.org/data/2.5/weather ",
		"type": "weather_open",
		"apiKeyLabel": "weatherApiKey",
		"refreshInterval": 600,
		"drawConfigs": {"title": "Praha"},
		"lat": "#lat",
		"units": "metric",
		"ids": ["$stop", "$other[U2]"]
	}`)
	require.NoError(testingT, parseErr)
	require.Equal(testingT, "https://api.openweathermap.org/data/2.5/weather", configuration.APIURL)
	require.Equal(testingT, "weather_open", configuration.Type)
	require.Equal(testingT, 10*time.Minute, configuration.Interval())
	require.Equal(testingT, DrawConfigs{"title": "Praha"}, configuration.DrawConfigs)
	require.Equal(testingT, map[string]any{
		"lat":   "#lat",
		"units": "metric",
		"ids":   []any{"$stop", "$other[U2]"},
	}, configuration.Params)
	require.True(testingT, configuration.NeedsCredentialLookup())

	tokens := configuration.Tokens()
	require.Len(testingT, tokens["ids"], 2)
	require.Equal(testingT, TokenCapability, tokens["lat"][0].Kind)
	require.NotContains(testingT, tokens, "units")
}

func TestParseConfigRejectsIncompleteDeclarations(testingT *testing.T) {
	testCases := map[string]string{
		"empty":            ``,
		"malformed":        `{"apiUrl": `,
		"missing api url":  `{"type": "news"}`,
		"missing type":     `{"apiUrl": "/api/news"}`,
		"blank type":       `{"apiUrl": "/api/news", "type": "  "}`,
		"negative refresh": `{"apiUrl": "/api/news", "type": "news", "refreshInterval": -5}`,
		"not an object":    `[1, 2]`,
	}
	for name, raw := range testCases {
		testingT.Run(name, func(testingT *testing.T) {
			_, parseErr := ParseConfig(raw)
			require.ErrorIs(testingT, parseErr, ErrConfig)
		})
	}
}

func TestParseConfigNamesMissingFields(testingT *testing.T) {
	_, parseErr := ParseConfig(`{"drawConfigs": {}}`)
	require.ErrorContains(testingT, parseErr, "apiUrl failed required")
	require.ErrorContains(testingT, parseErr, "type failed required")
}

func TestWidgetConfigLiteralKeyOverridesLabel(testingT *testing.T) {
	configuration, parseErr := ParseConfig(`{"apiUrl": "/api/news", "type": "news", "apiKey": "literal", "apiKeyLabel": "gemini"}`)
	require.NoError(testingT, parseErr)
	require.False(testingT, configuration.NeedsCredentialLookup())
	require.Equal(testingT, time.Duration(0), configuration.Interval())
	require.Empty(testingT, configuration.Params)
}

func TestWidgetConfigResolveURL(testingT *testing.T) {
	base, parseErr := url.Parse("https://board.test/")
	require.NoError(testingT, parseErr)

	relative := WidgetConfig{APIURL: "/api/news"}
	resolved, resolveErr := relative.ResolveURL(base)
	require.NoError(testingT, resolveErr)
	require.Equal(testingT, "https://board.test/api/news", resolved)

	absolute := WidgetConfig{APIURL: "https://api.golemio.cz/v2/pid/departureboards"}
	resolved, resolveErr = absolute.ResolveURL(nil)
	require.NoError(testingT, resolveErr)
	require.Equal(testingT, "https://api.golemio.cz/v2/pid/departureboards", resolved)

	_, resolveErr = relative.ResolveURL(nil)
	require.ErrorIs(testingT, resolveErr, ErrConfig)
}
