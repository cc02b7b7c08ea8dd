package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/infoboard/internal/model"
)

// DatabaseStore keeps provider keys in the database.
type DatabaseStore struct {
	database *gorm.DB
}

func NewDatabaseStore(database *gorm.DB) *DatabaseStore {
	return &DatabaseStore{database: database}
}

func (store *DatabaseStore) Lookup(ctx context.Context, label string) (string, error) {
	var providerKey model.ProviderKey
	findErr := store.database.WithContext(ctx).
		Where("label = ?", strings.TrimSpace(label)).
		First(&providerKey).Error
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}
	if findErr != nil {
		return "", fmt.Errorf("keys: lookup %s: %w", label, findErr)
	}
	return providerKey.Secret, nil
}

// Put creates or replaces the secret for a label.
func (store *DatabaseStore) Put(ctx context.Context, label string, secret string) error {
	providerKey, buildErr := model.NewProviderKey(model.ProviderKeyInput{Label: label, Secret: secret})
	if buildErr != nil {
		return buildErr
	}
	return store.database.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "label"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret", "updated_at"}),
		}).
		Create(&providerKey).Error
}

// Delete removes a label. Deleting an unknown label reports ErrUnknownLabel.
func (store *DatabaseStore) Delete(ctx context.Context, label string) error {
	result := store.database.WithContext(ctx).
		Where("label = ?", strings.TrimSpace(label)).
		Delete(&model.ProviderKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}
	return nil
}

// Labels lists the stored labels in order.
func (store *DatabaseStore) Labels(ctx context.Context) ([]string, error) {
	var labels []string
	listErr := store.database.WithContext(ctx).
		Model(&model.ProviderKey{}).
		Order("label").
		Pluck("label", &labels).Error
	return labels, listErr
}
