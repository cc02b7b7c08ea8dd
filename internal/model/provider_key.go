package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	providerKeyLabelMaxLength  = 100
	providerKeySecretMaxLength = 2000
)

var (
	ErrInvalidProviderKeyLabel  = errors.New("invalid_provider_key_label")
	ErrInvalidProviderKeySecret = errors.New("invalid_provider_key_secret")
)

// ProviderKey stores an upstream provider secret under the label widgets reference.
type ProviderKey struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Label     string    `gorm:"not null;size:100;uniqueIndex"`
	Secret    string    `gorm:"not null;size:2000"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// ProviderKeyInput holds the raw values used to construct a ProviderKey.
type ProviderKeyInput struct {
	Label  string
	Secret string
}

// NewProviderKey constructs a ProviderKey with validated, trimmed fields.
func NewProviderKey(input ProviderKeyInput) (ProviderKey, error) {
	label := strings.TrimSpace(input.Label)
	if label == "" || len(label) > providerKeyLabelMaxLength || strings.ContainsAny(label, " \t\r\n") {
		return ProviderKey{}, ErrInvalidProviderKeyLabel
	}
	secret := strings.TrimSpace(input.Secret)
	if secret == "" || len(secret) > providerKeySecretMaxLength {
		return ProviderKey{}, ErrInvalidProviderKeySecret
	}
	return ProviderKey{
		ID:     uuid.NewString(),
		Label:  label,
		Secret: secret,
	}, nil
}
