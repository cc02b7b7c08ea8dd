package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	configKeyAPIURL          = "apiUrl"
	configKeyType            = "type"
	configKeyAPIKey          = "apiKey"
	configKeyAPIKeyLabel     = "apiKeyLabel"
	configKeyAuthorization   = "authorization"
	configKeyDrawConfigs     = "drawConfigs"
	configKeyRefreshInterval = "refreshInterval"
)

var reservedConfigKeys = map[string]struct{}{
	configKeyAPIURL:          {},
	configKeyType:            {},
	configKeyAPIKey:          {},
	configKeyAPIKeyLabel:     {},
	configKeyAuthorization:   {},
	configKeyDrawConfigs:     {},
	configKeyRefreshInterval: {},
}

var configValidator = validator.New()

// WidgetConfig is the parsed data-config declaration of one dashboard element.
type WidgetConfig struct {
	APIURL          string      `json:"apiUrl" validate:"required"`
	Type            string      `json:"type" validate:"required"`
	APIKey          string      `json:"apiKey"`
	APIKeyLabel     string      `json:"apiKeyLabel"`
	Authorization   string      `json:"authorization"`
	DrawConfigs     DrawConfigs `json:"drawConfigs"`
	RefreshInterval int         `json:"refreshInterval" validate:"gte=0"`
	// Params holds every other key; values may be placeholder tokens.
	Params map[string]any `json:"-"`
}

// ParseConfig decodes and validates a data-config attribute value.
func ParseConfig(raw string) (WidgetConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WidgetConfig{}, fmt.Errorf("%w: empty declaration", ErrConfig)
	}

	var configuration WidgetConfig
	if decodeErr := json.Unmarshal([]byte(trimmed), &configuration); decodeErr != nil {
		return WidgetConfig{}, fmt.Errorf("%w: %v", ErrConfig, decodeErr)
	}
	var entries map[string]any
	if decodeErr := json.Unmarshal([]byte(trimmed), &entries); decodeErr != nil {
		return WidgetConfig{}, fmt.Errorf("%w: %v", ErrConfig, decodeErr)
	}

	configuration.APIURL = strings.TrimSpace(configuration.APIURL)
	configuration.Type = strings.TrimSpace(configuration.Type)
	configuration.APIKeyLabel = strings.TrimSpace(configuration.APIKeyLabel)
	configuration.Authorization = strings.TrimSpace(configuration.Authorization)
	if configuration.DrawConfigs == nil {
		configuration.DrawConfigs = DrawConfigs{}
	}

	configuration.Params = make(map[string]any)
	for key, value := range entries {
		if _, reserved := reservedConfigKeys[key]; reserved {
			continue
		}
		configuration.Params[key] = value
	}

	if validationErr := configValidator.Struct(configuration); validationErr != nil {
		return WidgetConfig{}, fmt.Errorf("%w: %s", ErrConfig, describeValidationError(validationErr))
	}
	return configuration, nil
}

func describeValidationError(validationErr error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(validationErr, &fieldErrors) {
		return validationErr.Error()
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fieldErr := range fieldErrors {
		messages = append(messages, fmt.Sprintf("%s failed %s", jsonFieldName(fieldErr.Field()), fieldErr.Tag()))
	}
	return strings.Join(messages, ", ")
}

func jsonFieldName(structField string) string {
	switch structField {
	case "APIURL":
		return configKeyAPIURL
	case "Type":
		return configKeyType
	case "RefreshInterval":
		return configKeyRefreshInterval
	default:
		return structField
	}
}

// Interval returns the refresh period, or zero when the widget renders once.
func (configuration WidgetConfig) Interval() time.Duration {
	return time.Duration(configuration.RefreshInterval) * time.Second
}

// NeedsCredentialLookup reports whether a label lookup must precede the first fetch.
// A literal key takes precedence over a label.
func (configuration WidgetConfig) NeedsCredentialLookup() bool {
	return configuration.APIKey == "" && configuration.APIKeyLabel != ""
}

// ResolveURL makes a relative apiUrl absolute against base.
func (configuration WidgetConfig) ResolveURL(base *url.URL) (string, error) {
	reference, parseErr := url.Parse(configuration.APIURL)
	if parseErr != nil {
		return "", fmt.Errorf("%w: apiUrl: %v", ErrConfig, parseErr)
	}
	if reference.IsAbs() {
		return reference.String(), nil
	}
	if base == nil {
		return "", fmt.Errorf("%w: relative apiUrl %q without a base url", ErrConfig, configuration.APIURL)
	}
	return base.ResolveReference(reference).String(), nil
}

// Tokens lists the placeholder tokens referenced by the parameters, keyed by parameter name.
func (configuration WidgetConfig) Tokens() map[string][]Token {
	tokens := make(map[string][]Token)
	for name, value := range configuration.Params {
		var elements []any
		switch typed := value.(type) {
		case []any:
			elements = typed
		default:
			elements = []any{typed}
		}
		for _, element := range elements {
			token := ParseToken(element)
			if token.Kind != TokenLiteral {
				tokens[name] = append(tokens[name], token)
			}
		}
	}
	return tokens
}
