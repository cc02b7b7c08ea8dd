package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/infoboard/internal/model"
)

const (
	// BusyTimeoutPragma lets the server and the key commands share one database file.
	BusyTimeoutPragma = "_pragma=busy_timeout(5000)"

	errorMessageMissingDataSourceName = "storage: missing key database data source name"
	errorMessageOpenKeyDatabase       = "storage: open key database"
	errorMessageMigrateKeyDatabase    = "storage: migrate key database"
)

var (
	// ErrMissingDataSourceName indicates the key database data source name configuration was omitted.
	ErrMissingDataSourceName = errors.New(errorMessageMissingDataSourceName)
)

// KeyDatabase is the SQLite database holding provider keys, migrated and ready for use.
type KeyDatabase struct {
	database *gorm.DB
}

// OpenKeyDatabase opens the SQLite data source and applies the provider key schema.
func OpenKeyDatabase(dataSourceName string) (*KeyDatabase, error) {
	trimmedDataSourceName := strings.TrimSpace(dataSourceName)
	if trimmedDataSourceName == "" {
		return nil, ErrMissingDataSourceName
	}

	database, openErr := gorm.Open(sqlite.Open(WithBusyTimeout(trimmedDataSourceName)), &gorm.Config{})
	if openErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageOpenKeyDatabase, openErr)
	}
	if migrateErr := database.AutoMigrate(&model.ProviderKey{}); migrateErr != nil {
		closeDatabase(database)
		return nil, fmt.Errorf("%s: %w", errorMessageMigrateKeyDatabase, migrateErr)
	}
	return &KeyDatabase{database: database}, nil
}

// WithBusyTimeout appends the busy timeout pragma unless the data source already sets one.
func WithBusyTimeout(dataSourceName string) string {
	if strings.Contains(dataSourceName, "busy_timeout") {
		return dataSourceName
	}
	separator := "?"
	if strings.Contains(dataSourceName, "?") {
		separator = "&"
	}
	return dataSourceName + separator + BusyTimeoutPragma
}

func (keyDatabase *KeyDatabase) DB() *gorm.DB {
	return keyDatabase.database
}

// Close releases the underlying connection pool.
func (keyDatabase *KeyDatabase) Close() error {
	if keyDatabase == nil || keyDatabase.database == nil {
		return nil
	}
	sqlDatabase, sqlErr := keyDatabase.database.DB()
	if sqlErr != nil {
		return sqlErr
	}
	return sqlDatabase.Close()
}

func closeDatabase(database *gorm.DB) {
	if sqlDatabase, sqlErr := database.DB(); sqlErr == nil {
		_ = sqlDatabase.Close()
	}
}

// NewID generates a new globally unique identifier.
func NewID() string {
	return uuid.NewString()
}
