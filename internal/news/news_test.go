package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var feedNow = time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)

const feedDocument = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>ČT24</title>
<item><title>Fresh headline</title><link>https://ct24.test/1</link><description>Fresh description</description><pubDate>Sun, 02 Mar 2025 10:00:00 +0100</pubDate></item>
<item><title>Old headline</title><link>https://ct24.test/2</link><description>Old description</description><pubDate>Fri, 28 Feb 2025 10:00:00 +0100</pubDate></item>
<item><title>Undated headline</title><link>https://ct24.test/3</link><description>No date</description></item>
<item><title>Late headline</title><link>https://ct24.test/4</link><description><![CDATA[<b>Late</b> description]]></description><pubDate>Sat, 1 Mar 2025 13:30:00 GMT</pubDate></item>
</channel></rss>`

func TestParseFeedKeepsRecentItems(testingT *testing.T) {
	items, parseErr := ParseFeed([]byte(feedDocument), feedNow.Add(-24*time.Hour))
	require.NoError(testingT, parseErr)
	require.Len(testingT, items, 2)
	require.Equal(testingT, "Fresh headline", items[0].Title)
	require.Equal(testingT, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), items[0].PubDate)
	require.Equal(testingT, "Late headline", items[1].Title)
	require.Equal(testingT, "<b>Late</b> description", items[1].Description)

	_, parseErr = ParseFeed([]byte("<rss><channel>"), feedNow)
	require.ErrorIs(testingT, parseErr, ErrFeedUnavailable)
}

func TestFeedClientFollowsRedirects(testingT *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/rss/hlavni-zpravy":
			http.Redirect(writer, request, "/rss/current", http.StatusMovedPermanently)
		case "/rss/current":
			writer.Header().Set("Content-Type", "application/rss+xml")
			_, _ = io.WriteString(writer, feedDocument)
		default:
			http.NotFound(writer, request)
		}
	}))
	defer server.Close()

	feed := NewFeedClient(server.URL+"/rss/hlavni-zpravy", nil, WithFeedClock(func() time.Time { return feedNow }))
	items, itemsErr := feed.Items(context.Background())
	require.NoError(testingT, itemsErr)
	require.Len(testingT, items, 2)

	missing := NewFeedClient(server.URL+"/missing", nil)
	_, itemsErr = missing.Items(context.Background())
	require.ErrorIs(testingT, itemsErr, ErrFeedUnavailable)
}

func TestGeminiSummarizer(testingT *testing.T) {
	var receivedKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedKey.Store(request.Header.Get("x-goog-api-key"))
		if request.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			http.Error(writer, "unknown model", http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(request.Body)
		if !strings.Contains(string(body), "Fresh headline: Fresh description") {
			http.Error(writer, "unexpected prompt", http.StatusBadRequest)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(writer, `{"candidates":[{"content":{"parts":[{"text":"Klidný den. "},{"text":"Bez změn."}]}}]}`)
	}))
	defer server.Close()

	summarizer := NewGeminiSummarizer(server.URL+"/v1beta", "", "gemini-secret", nil)
	prompt := BuildAnalysisPrompt("Shrň:", []Item{{Title: "Fresh headline", Description: "Fresh description"}})
	summary, summarizeErr := summarizer.Summarize(context.Background(), prompt)
	require.NoError(testingT, summarizeErr)
	require.Equal(testingT, "Klidný den. Bez změn.", summary)
	require.Equal(testingT, "gemini-secret", receivedKey.Load())

	_, summarizeErr = summarizer.Summarize(context.Background(), "unrelated")
	require.ErrorIs(testingT, summarizeErr, ErrSummaryUnavailable)

	unconfigured := NewGeminiSummarizer(server.URL, "", "", nil)
	_, summarizeErr = unconfigured.Summarize(context.Background(), prompt)
	require.ErrorIs(testingT, summarizeErr, ErrSummaryUnavailable)
}

func TestLoadPrompt(testingT *testing.T) {
	prompt, loadErr := LoadPrompt("")
	require.NoError(testingT, loadErr)
	require.Equal(testingT, defaultAnalysisPrompt, prompt)

	directory := testingT.TempDir()
	promptsPath := filepath.Join(directory, "prompts.json")
	require.NoError(testingT, os.WriteFile(promptsPath, []byte(`{"news-analysis": "Summarize the day."}`), 0o600))
	prompt, loadErr = LoadPrompt(promptsPath)
	require.NoError(testingT, loadErr)
	require.Equal(testingT, "Summarize the day.", prompt)

	_, loadErr = LoadPrompt(filepath.Join(directory, "missing.json"))
	require.Error(testingT, loadErr)
}

func TestBuildAnalysisPrompt(testingT *testing.T) {
	prompt := BuildAnalysisPrompt("Prompt", []Item{
		{Title: "A", Description: "first"},
		{Title: "B", Description: "second"},
	})
	require.Equal(testingT, "Prompt\n\nA: first\nB: second", prompt)
}

type countingFeed struct {
	calls atomic.Int32
	items []Item
	err   error
}

func (feed *countingFeed) Items(context.Context) ([]Item, error) {
	feed.calls.Add(1)
	return feed.items, feed.err
}

type summarizerFunc func(ctx context.Context, prompt string) (string, error)

func (summarize summarizerFunc) Summarize(ctx context.Context, prompt string) (string, error) {
	return summarize(ctx, prompt)
}

func TestServiceCachesResponsesInRedis(testingT *testing.T) {
	redisServer := miniredis.RunT(testingT)
	cache, cacheErr := NewRedisCache(context.Background(), fmt.Sprintf("redis://%s", redisServer.Addr()))
	require.NoError(testingT, cacheErr)
	testingT.Cleanup(func() { _ = cache.Close() })

	feed := &countingFeed{items: []Item{{Title: "Fresh headline", Description: "Fresh description", PubDate: feedNow}}}
	var summaryCalls atomic.Int32
	service := NewService(ServiceConfig{
		Feed: feed,
		Summarizer: summarizerFunc(func(_ context.Context, prompt string) (string, error) {
			summaryCalls.Add(1)
			require.Contains(testingT, prompt, "Fresh headline: Fresh description")
			return "Digest", nil
		}),
		Prompt:   "Summarize",
		Cache:    cache,
		CacheTTL: time.Minute,
		Logger:   zap.NewNop(),
	})

	for attempt := 0; attempt < 2; attempt++ {
		items, itemsErr := service.Items(context.Background())
		require.NoError(testingT, itemsErr)
		require.Equal(testingT, feed.items, items)

		summary, summaryErr := service.Summary(context.Background())
		require.NoError(testingT, summaryErr)
		require.Equal(testingT, "Digest", summary)
	}
	require.EqualValues(testingT, 1, feed.calls.Load())
	require.EqualValues(testingT, 1, summaryCalls.Load())
	require.True(testingT, redisServer.Exists("infoboard:news:items"))
	require.True(testingT, redisServer.Exists("infoboard:news:summary"))

	redisServer.FastForward(2 * time.Minute)
	_, itemsErr := service.Items(context.Background())
	require.NoError(testingT, itemsErr)
	require.EqualValues(testingT, 2, feed.calls.Load())
}

func TestServiceWithoutCachePropagatesErrors(testingT *testing.T) {
	feed := &countingFeed{err: errors.New("offline")}
	service := NewService(ServiceConfig{
		Feed: feed,
		Summarizer: summarizerFunc(func(context.Context, string) (string, error) {
			return "unused", nil
		}),
	})

	_, itemsErr := service.Items(context.Background())
	require.Error(testingT, itemsErr)
	_, summaryErr := service.Summary(context.Background())
	require.Error(testingT, summaryErr)
	require.EqualValues(testingT, 2, feed.calls.Load())

	empty := NewService(ServiceConfig{})
	_, itemsErr = empty.Items(context.Background())
	require.ErrorIs(testingT, itemsErr, ErrFeedUnavailable)
	_, summaryErr = empty.Summary(context.Background())
	require.ErrorIs(testingT, summaryErr, ErrSummaryUnavailable)
}

func TestNewRedisCacheRejectsInvalidURL(testingT *testing.T) {
	_, cacheErr := NewRedisCache(context.Background(), "not-a-url")
	require.Error(testingT, cacheErr)
}
