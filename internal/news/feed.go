// Package news fetches the headline feed and produces its AI digest.
package news

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultFeedURL is the ČT24 main headlines feed.
	DefaultFeedURL        = "https://ct24.ceskatelevize.cz/rss/hlavni-zpravy"
	defaultFeedWindow     = 24 * time.Hour
	defaultRequestTimeout = 15 * time.Second
	maximumRedirects      = 10
)

var (
	// ErrFeedUnavailable indicates the feed could not be retrieved or parsed.
	ErrFeedUnavailable = errors.New("news: feed unavailable")
	// ErrSummaryUnavailable indicates the summary could not be produced.
	ErrSummaryUnavailable = errors.New("news: summary unavailable")
)

// Item is one headline as served by /api/news.
type Item struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Description string    `json:"description"`
	PubDate     time.Time `json:"pubDate"`
}

// FeedSource provides recent headlines.
type FeedSource interface {
	Items(ctx context.Context) ([]Item, error)
}

type rssDocument struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// FeedClient downloads an RSS feed and keeps the items published within the window.
type FeedClient struct {
	feedURL string
	window  time.Duration
	client  *resty.Client
	now     func() time.Time
}

// FeedOption customizes a FeedClient.
type FeedOption func(*FeedClient)

// WithFeedWindow sets how far back items are kept.
func WithFeedWindow(window time.Duration) FeedOption {
	return func(feed *FeedClient) {
		if window > 0 {
			feed.window = window
		}
	}
}

// WithFeedClock replaces the clock used for the publication window.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(feed *FeedClient) {
		if now != nil {
			feed.now = now
		}
	}
}

// NewFeedClient builds a client for feedURL. A nil resty client gets a default one that follows redirects.
func NewFeedClient(feedURL string, client *resty.Client, options ...FeedOption) *FeedClient {
	if strings.TrimSpace(feedURL) == "" {
		feedURL = DefaultFeedURL
	}
	if client == nil {
		client = resty.New().
			SetTimeout(defaultRequestTimeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(maximumRedirects))
	}
	feed := &FeedClient{
		feedURL: strings.TrimSpace(feedURL),
		window:  defaultFeedWindow,
		client:  client,
		now:     time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(feed)
		}
	}
	return feed
}

// Items returns the recent headlines in feed order.
func (feed *FeedClient) Items(ctx context.Context) ([]Item, error) {
	response, requestErr := feed.client.R().SetContext(ctx).Get(feed.feedURL)
	if requestErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, requestErr)
	}
	if !response.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d", ErrFeedUnavailable, response.StatusCode())
	}
	return ParseFeed(response.Body(), feed.now().Add(-feed.window))
}

// ParseFeed decodes an RSS document and keeps items published after cutoff.
// Items without a parsable publication date are dropped.
func ParseFeed(document []byte, cutoff time.Time) ([]Item, error) {
	var parsed rssDocument
	if decodeErr := xml.Unmarshal(document, &parsed); decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, decodeErr)
	}
	items := make([]Item, 0, len(parsed.Channel.Items))
	for _, entry := range parsed.Channel.Items {
		published, parsedDate := parsePublicationDate(entry.PubDate)
		if !parsedDate || !published.After(cutoff) {
			continue
		}
		items = append(items, Item{
			Title:       strings.TrimSpace(entry.Title),
			Link:        strings.TrimSpace(entry.Link),
			Description: strings.TrimSpace(entry.Description),
			PubDate:     published.UTC(),
		})
	}
	return items, nil
}

var publicationDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

func parsePublicationDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range publicationDateLayouts {
		if published, parseErr := time.Parse(layout, trimmed); parseErr == nil {
			return published, true
		}
	}
	return time.Time{}, false
}
