package modules

import (
	"time"

	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	drawConfigLimit          = "limit"
	drawConfigSpeechLanguage = "speechLang"
	defaultSpeechLanguage    = "cs-CZ"
	publishedLayout          = "2. 1. 2006 15:04"
)

type newsItemPayload struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	PubDate     string `json:"pubDate"`
}

type newsItemView struct {
	Title       string
	Link        string
	Description string
	Published   string
}

type newsView struct {
	Items []newsItemView
}

// RenderNews lists headlines. An empty list renders a "No news available." notice.
func RenderNews(container *widget.Container, data any, drawConfigs widget.DrawConfigs) error {
	var items []newsItemPayload
	if decodeErr := decodePayload(data, &items); decodeErr != nil {
		return decodeErr
	}
	if limit, hasLimit := drawConfigs[drawConfigLimit].(float64); hasLimit && limit >= 0 && int(limit) < len(items) {
		items = items[:int(limit)]
	}

	location := locationConfig(drawConfigs)
	view := newsView{Items: make([]newsItemView, 0, len(items))}
	for _, item := range items {
		view.Items = append(view.Items, newsItemView{
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
			Published:   formatPublished(item.PubDate, location),
		})
	}
	return renderTemplate(container, TypeNews, view)
}

func formatPublished(raw string, location *time.Location) string {
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if published, parseErr := time.Parse(layout, raw); parseErr == nil {
			return published.In(location).Format(publishedLayout)
		}
	}
	return raw
}

type newsSummaryPayload struct {
	Summary string `json:"summary"`
}

type newsSummaryView struct {
	Summary        string
	SpeechLanguage string
}

// RenderNewsSummary shows the generated digest; the panel reads it aloud when clicked.
func RenderNewsSummary(container *widget.Container, data any, drawConfigs widget.DrawConfigs) error {
	var payload newsSummaryPayload
	if decodeErr := decodePayload(data, &payload); decodeErr != nil {
		return decodeErr
	}
	speechLanguage := stringConfig(drawConfigs, drawConfigSpeechLanguage)
	if speechLanguage == "" {
		speechLanguage = defaultSpeechLanguage
	}
	return renderTemplate(container, TypeNewsSummary, newsSummaryView{
		Summary:        payload.Summary,
		SpeechLanguage: speechLanguage,
	})
}
