package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	credentialIssuerQueryKey          = "key"
	errorMessageIssuerStatus          = "credential issuer returned status"
	errorMessageIssuerDecode          = "decode credential issuer response"
	errorMessageIssuerEmptyCredential = "credential issuer returned an empty key"
	credentialIssueTimeout            = defaultFetchTimeout
)

// CredentialIssuer exchanges a credential label for its secret.
type CredentialIssuer interface {
	Issue(ctx context.Context, label string) (string, error)
}

// CredentialIssuerFunc adapts a function to CredentialIssuer.
type CredentialIssuerFunc func(ctx context.Context, label string) (string, error)

func (issuer CredentialIssuerFunc) Issue(ctx context.Context, label string) (string, error) {
	return issuer(ctx, label)
}

// CredentialCache maps credential labels to secrets for the lifetime of the process.
// A label is fetched once; failures are not cached so a later call may retry.
// Concurrent lookups of the same uncached label share one issuer call; a caller whose context
// ends stops waiting without failing the others.
type CredentialCache struct {
	issuer   CredentialIssuer
	logger   *zap.Logger
	recorder Recorder

	mutex   sync.RWMutex
	secrets map[string]string
	flights singleflight.Group
}

// NewCredentialCache builds an empty cache backed by the issuer.
func NewCredentialCache(issuer CredentialIssuer, logger *zap.Logger, recorder Recorder) *CredentialCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &CredentialCache{
		issuer:   issuer,
		logger:   logger,
		recorder: recorder,
		secrets:  make(map[string]string),
	}
}

// Resolve returns the secret for label, fetching it on first use.
func (cache *CredentialCache) Resolve(ctx context.Context, label string) (string, bool) {
	normalizedLabel := strings.TrimSpace(label)
	if normalizedLabel == "" {
		return "", false
	}

	cache.mutex.RLock()
	secret, cached := cache.secrets[normalizedLabel]
	cache.mutex.RUnlock()
	if cached {
		cache.recorder.CredentialLookup(CredentialOutcomeCached)
		return secret, true
	}

	issueCtx := context.WithoutCancel(ctx)
	flight := cache.flights.DoChan(normalizedLabel, func() (any, error) {
		return cache.issue(issueCtx, normalizedLabel)
	})
	var result singleflight.Result
	select {
	case result = <-flight:
	case <-ctx.Done():
		cache.logger.Debug(
			"credential_resolve_abandoned",
			zap.String("label", normalizedLabel),
			zap.Error(ctx.Err()),
		)
		return "", false
	}
	if result.Err != nil {
		cache.recorder.CredentialLookup(CredentialOutcomeFailed)
		cache.logger.Warn(
			"credential_resolve_failed",
			zap.String("label", normalizedLabel),
			zap.Error(result.Err),
		)
		return "", false
	}
	cache.recorder.CredentialLookup(CredentialOutcomeIssued)
	return result.Val.(string), true
}

// issue runs the shared issuer call. It is detached from any single caller and bounded by its own timeout.
func (cache *CredentialCache) issue(ctx context.Context, label string) (any, error) {
	cache.mutex.RLock()
	pinned, alreadyPinned := cache.secrets[label]
	cache.mutex.RUnlock()
	if alreadyPinned {
		return pinned, nil
	}
	if cache.issuer == nil {
		return "", errors.New("credential issuer is not configured")
	}
	issueCtx, cancel := context.WithTimeout(ctx, credentialIssueTimeout)
	defer cancel()
	issued, err := cache.issuer.Issue(issueCtx, label)
	if err != nil {
		return "", err
	}
	if issued == "" {
		return "", errors.New(errorMessageIssuerEmptyCredential)
	}
	cache.mutex.Lock()
	cache.secrets[label] = issued
	cache.mutex.Unlock()
	return issued, nil
}

// HTTPCredentialIssuer calls a key-issuing endpoint: GET <endpoint>?key=<label> returning {"apiKey": "..."}.
type HTTPCredentialIssuer struct {
	endpoint string
	client   *resty.Client
}

// NewHTTPCredentialIssuer builds an issuer. A nil client gets a default resty client.
func NewHTTPCredentialIssuer(endpoint string, client *resty.Client) *HTTPCredentialIssuer {
	if client == nil {
		client = resty.New().SetTimeout(defaultFetchTimeout)
	}
	return &HTTPCredentialIssuer{endpoint: strings.TrimSpace(endpoint), client: client}
}

type credentialResponse struct {
	APIKey string `json:"apiKey"`
}

func (issuer *HTTPCredentialIssuer) Issue(ctx context.Context, label string) (string, error) {
	response, requestErr := issuer.client.R().
		SetContext(ctx).
		SetQueryParam(credentialIssuerQueryKey, label).
		Get(issuer.endpoint)
	if requestErr != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, requestErr)
	}
	if !response.IsSuccess() {
		return "", fmt.Errorf("%w: %s %d", ErrCredential, errorMessageIssuerStatus, response.StatusCode())
	}
	var payload credentialResponse
	if decodeErr := json.Unmarshal(response.Body(), &payload); decodeErr != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCredential, errorMessageIssuerDecode, decodeErr)
	}
	if payload.APIKey == "" {
		return "", fmt.Errorf("%w: %s", ErrCredential, errorMessageIssuerEmptyCredential)
	}
	return payload.APIKey, nil
}
