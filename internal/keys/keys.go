// Package keys resolves provider credential labels to secrets for the key-issuing endpoint.
package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

const (
	// LabelPID is the Prague public transport (Golemio) key label.
	LabelPID = "pidApiKey"
	// LabelWeather is the OpenWeather key label.
	LabelWeather = "weatherApiKey"
	// LabelGemini is the Gemini key label.
	LabelGemini = "gemini"

	labelAssignmentSeparator = "="
	labelListSeparator       = ","
)

// ErrUnknownLabel indicates that no store holds a secret for the label.
var ErrUnknownLabel = errors.New("keys: unknown label")

// DefaultLabelEnvironment maps the built-in labels to the environment variables holding their secrets.
func DefaultLabelEnvironment() map[string]string {
	return map[string]string{
		LabelPID:     "PID_API_KEY",
		LabelWeather: "WEATHER_API_KEY",
		LabelGemini:  "GEMINI_API_KEY",
	}
}

// Store looks up the secret for a label.
type Store interface {
	Lookup(ctx context.Context, label string) (string, error)
}

// StaticStore serves secrets fixed at startup. Empty secrets count as unknown.
type StaticStore struct {
	secrets map[string]string
}

func NewStaticStore(secrets map[string]string) *StaticStore {
	copied := make(map[string]string, len(secrets))
	for label, secret := range secrets {
		trimmedLabel := strings.TrimSpace(label)
		trimmedSecret := strings.TrimSpace(secret)
		if trimmedLabel == "" || trimmedSecret == "" {
			continue
		}
		copied[trimmedLabel] = trimmedSecret
	}
	return &StaticStore{secrets: copied}
}

// NewEnvironmentStore reads each label's secret from the mapped environment variable.
func NewEnvironmentStore(labelEnvironment map[string]string, lookupEnv func(string) (string, bool)) *StaticStore {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	secrets := make(map[string]string, len(labelEnvironment))
	for label, variable := range labelEnvironment {
		if value, present := lookupEnv(strings.TrimSpace(variable)); present {
			secrets[label] = value
		}
	}
	return NewStaticStore(secrets)
}

func (store *StaticStore) Lookup(_ context.Context, label string) (string, error) {
	secret, found := store.secrets[strings.TrimSpace(label)]
	if !found {
		return "", fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}
	return secret, nil
}

// Labels lists the labels with a secret.
func (store *StaticStore) Labels() []string {
	labels := make([]string, 0, len(store.secrets))
	for label := range store.secrets {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// ParseLabelEnvironment parses "label=ENV_NAME" pairs separated by commas.
func ParseLabelEnvironment(raw string) (map[string]string, error) {
	assignments := make(map[string]string)
	for _, entry := range strings.Split(raw, labelListSeparator) {
		trimmedEntry := strings.TrimSpace(entry)
		if trimmedEntry == "" {
			continue
		}
		label, variable, found := strings.Cut(trimmedEntry, labelAssignmentSeparator)
		label = strings.TrimSpace(label)
		variable = strings.TrimSpace(variable)
		if !found || label == "" || variable == "" {
			return nil, fmt.Errorf("keys: invalid label assignment %q", trimmedEntry)
		}
		assignments[label] = variable
	}
	return assignments, nil
}

// ChainStore consults its stores in order; the first one that knows a label wins.
type ChainStore struct {
	stores []Store
}

func NewChainStore(stores ...Store) *ChainStore {
	filtered := make([]Store, 0, len(stores))
	for _, store := range stores {
		if store != nil {
			filtered = append(filtered, store)
		}
	}
	return &ChainStore{stores: filtered}
}

func (chain *ChainStore) Lookup(ctx context.Context, label string) (string, error) {
	for _, store := range chain.stores {
		secret, lookupErr := store.Lookup(ctx, label)
		if lookupErr == nil {
			return secret, nil
		}
		if !errors.Is(lookupErr, ErrUnknownLabel) {
			return "", lookupErr
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownLabel, label)
}

// Issuer serves a Store as a widget credential issuer, so in-process widgets skip the HTTP round trip.
type Issuer struct {
	store Store
}

func NewIssuer(store Store) *Issuer {
	return &Issuer{store: store}
}

func (issuer *Issuer) Issue(ctx context.Context, label string) (string, error) {
	secret, lookupErr := issuer.store.Lookup(ctx, label)
	if lookupErr != nil {
		return "", fmt.Errorf("%w: %v", widget.ErrCredential, lookupErr)
	}
	return secret, nil
}
