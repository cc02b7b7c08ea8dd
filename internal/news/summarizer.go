package news

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultGeminiModel is the model used for the digest.
	DefaultGeminiModel    = "gemini-2.0-flash"
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	geminiAPIKeyHeader    = "x-goog-api-key"
	// PromptKeyNewsAnalysis selects the digest prompt in the prompts file.
	PromptKeyNewsAnalysis = "news-analysis"
	defaultAnalysisPrompt = "Shrň následující zprávy z posledních 24 hodin do krátkého souvislého přehledu v češtině."
)

// Summarizer turns text into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// GeminiSummarizer calls the Gemini generateContent REST endpoint.
type GeminiSummarizer struct {
	endpoint string
	model    string
	apiKey   string
	client   *resty.Client
}

// NewGeminiSummarizer builds a summarizer. An empty endpoint targets the public Gemini API.
func NewGeminiSummarizer(endpoint string, model string, apiKey string, client *resty.Client) *GeminiSummarizer {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = defaultGeminiEndpoint
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	if client == nil {
		client = resty.New().SetTimeout(defaultRequestTimeout)
	}
	return &GeminiSummarizer{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		model:    strings.TrimSpace(model),
		apiKey:   apiKey,
		client:   client,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (summarizer *GeminiSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	if summarizer.apiKey == "" {
		return "", fmt.Errorf("%w: gemini api key is not configured", ErrSummaryUnavailable)
	}
	var payload geminiResponse
	response, requestErr := summarizer.client.R().
		SetContext(ctx).
		SetHeader(geminiAPIKeyHeader, summarizer.apiKey).
		SetBody(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}).
		SetResult(&payload).
		Post(fmt.Sprintf("%s/models/%s:generateContent", summarizer.endpoint, summarizer.model))
	if requestErr != nil {
		return "", fmt.Errorf("%w: %v", ErrSummaryUnavailable, requestErr)
	}
	if response.IsError() {
		return "", fmt.Errorf("%w: gemini status %d", ErrSummaryUnavailable, response.StatusCode())
	}

	var builder strings.Builder
	for _, candidate := range payload.Candidates {
		for _, part := range candidate.Content.Parts {
			builder.WriteString(part.Text)
		}
		if builder.Len() > 0 {
			break
		}
	}
	summary := strings.TrimSpace(builder.String())
	if summary == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrSummaryUnavailable)
	}
	return summary, nil
}

// LoadPrompt reads the digest prompt from a JSON prompts file. A missing path or key yields the default prompt.
func LoadPrompt(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return defaultAnalysisPrompt, nil
	}
	contents, readErr := os.ReadFile(path)
	if readErr != nil {
		return "", fmt.Errorf("read prompts file: %w", readErr)
	}
	var prompts map[string]string
	if decodeErr := json.Unmarshal(contents, &prompts); decodeErr != nil {
		return "", fmt.Errorf("decode prompts file: %w", decodeErr)
	}
	prompt := strings.TrimSpace(prompts[PromptKeyNewsAnalysis])
	if prompt == "" {
		return defaultAnalysisPrompt, nil
	}
	return prompt, nil
}

// BuildAnalysisPrompt joins the prompt and the headlines as "title: description" lines.
func BuildAnalysisPrompt(prompt string, items []Item) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Title+": "+item.Description)
	}
	return prompt + "\n\n" + strings.Join(lines, "\n")
}
