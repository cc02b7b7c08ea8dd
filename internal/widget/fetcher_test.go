package widget

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDataFetcherBuildURL(testingT *testing.T) {
	fetcher := NewDataFetcher(FetcherConfig{
		BaseURL:     "https://upstream.test/v2/departures?preset=1",
		Credential:  "secret",
		Geolocation: NewGeolocationSnapshot(NewStaticLocator(Coordinates{Latitude: 50.08, Longitude: 14.43})),
		Query:       url.Values{"stop": []string{"U1"}},
	})

	targetURL, buildErr := fetcher.BuildURL(context.Background(), map[string]any{
		"ids":    []any{"$stop", "$other[U2]"},
		"lat":    "#lat",
		"lon":    "#lon",
		"appid":  "#apikey",
		"limit":  20.0,
		"metric": true,
	})
	require.NoError(testingT, buildErr)

	parsed, parseErr := url.Parse(targetURL)
	require.NoError(testingT, parseErr)
	query := parsed.Query()
	require.Equal(testingT, []string{"U1", "U2"}, query["ids[]"])
	require.Equal(testingT, "50.08", query.Get("lat"))
	require.Equal(testingT, "14.43", query.Get("lon"))
	require.Equal(testingT, "secret", query.Get("appid"))
	require.Equal(testingT, "20", query.Get("limit"))
	require.Equal(testingT, "true", query.Get("metric"))
	require.Equal(testingT, "1", query.Get("preset"))
}

func TestDataFetcherOmitsUnavailableCoordinates(testingT *testing.T) {
	fetcher := NewDataFetcher(FetcherConfig{
		BaseURL:     "https://upstream.test/weather",
		Geolocation: NewGeolocationSnapshot(UnavailableLocator()),
	})

	targetURL, buildErr := fetcher.BuildURL(context.Background(), map[string]any{
		"lat":  "#lat",
		"city": "$city",
	})
	require.NoError(testingT, buildErr)
	require.Equal(testingT, "https://upstream.test/weather?city=%24city", targetURL)
}

func TestDataFetcherFetchesJSONWithAuthorizationHeader(testingT *testing.T) {
	receivedHeaders := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedHeaders <- request.Header.Get("x-access-token")
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"departures":[{"route":"A"}]}`))
	}))
	defer server.Close()

	fetcher := NewDataFetcher(FetcherConfig{
		BaseURL:             server.URL,
		AuthorizationHeader: "x-access-token",
		Credential:          "pid-secret",
		Logger:              zap.NewNop(),
	})

	payload, fetchErr := fetcher.Fetch(context.Background(), nil)
	require.NoError(testingT, fetchErr)
	require.Equal(testingT, "pid-secret", <-receivedHeaders)
	require.Equal(testingT, map[string]any{"departures": []any{map[string]any{"route": "A"}}}, payload)
}

func TestDataFetcherSkipsHeaderWithoutCredential(testingT *testing.T) {
	headerPresence := make(chan bool, 1)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_, present := request.Header["X-Access-Token"]
		headerPresence <- present
		_, _ = writer.Write([]byte(`[]`))
	}))
	defer server.Close()

	fetcher := NewDataFetcher(FetcherConfig{BaseURL: server.URL, AuthorizationHeader: "x-access-token"})
	payload, fetchErr := fetcher.Fetch(context.Background(), nil)
	require.NoError(testingT, fetchErr)
	require.Equal(testingT, []any{}, payload)
	require.False(testingT, <-headerPresence)
}

func TestDataFetcherFailuresYieldNil(testingT *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/broken":
			http.Error(writer, "upstream down", http.StatusBadGateway)
		default:
			_, _ = writer.Write([]byte(`<html>`))
		}
	}))
	unreachableURL := server.URL + "/gone"
	defer server.Close()

	testCases := map[string]string{
		"status": server.URL + "/broken",
		"decode": server.URL + "/html",
	}
	for name, targetURL := range testCases {
		testingT.Run(name, func(testingT *testing.T) {
			payload, fetchErr := NewDataFetcher(FetcherConfig{BaseURL: targetURL}).Fetch(context.Background(), nil)
			require.Nil(testingT, payload)
			require.ErrorIs(testingT, fetchErr, ErrFetch)
		})
	}

	server.Close()
	payload, fetchErr := NewDataFetcher(FetcherConfig{BaseURL: unreachableURL}).Fetch(context.Background(), nil)
	require.Nil(testingT, payload)
	require.ErrorIs(testingT, fetchErr, ErrFetch)
}
