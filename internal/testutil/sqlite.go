package testutil

import (
	"fmt"
	"log"
	"strings"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/infoboard/internal/storage"
)

const (
	sqliteTestDatabaseNamePrefix        = "infoboard-test-db"
	sqliteInMemoryDataSourceNamePattern = "file:%s?mode=memory&cache=shared&_foreign_keys=on"
)

// SQLiteTestDatabase provides helpers for configuring temporary SQLite databases in tests.
type SQLiteTestDatabase struct {
	dataSourceName string
}

type testingLogWriter struct {
	testingT *testing.T
}

func (writer testingLogWriter) Write(data []byte) (int, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" {
		writer.testingT.Log(trimmed)
	}
	return len(data), nil
}

// NewSQLiteTestDatabase creates a SQLiteTestDatabase with a unique in-memory database configuration.
func NewSQLiteTestDatabase(testingT *testing.T) SQLiteTestDatabase {
	testingT.Helper()

	databaseName := fmt.Sprintf("%s-%s", sqliteTestDatabaseNamePrefix, storage.NewID())

	return SQLiteTestDatabase{
		dataSourceName: fmt.Sprintf(sqliteInMemoryDataSourceNamePattern, databaseName),
	}
}

// DataSourceName returns the SQLite data source name for the temporary database.
func (database SQLiteTestDatabase) DataSourceName() string {
	return database.dataSourceName
}

// ConfigureDatabaseLogger returns a database session that suppresses record-not-found logs during tests.
func ConfigureDatabaseLogger(testingT *testing.T, database *gorm.DB) *gorm.DB {
	testingT.Helper()
	if database == nil {
		testingT.Fatalf("configure database logger: nil database")
	}
	gormLogger := logger.New(
		log.New(testingLogWriter{testingT: testingT}, "", 0),
		logger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  logger.Error,
		},
	)
	return database.Session(&gorm.Session{Logger: gormLogger})
}

// OpenMigratedSQLiteDatabase opens a fresh in-memory key database with the provider key schema applied.
func OpenMigratedSQLiteDatabase(testingT *testing.T) *gorm.DB {
	testingT.Helper()
	sqliteDatabase := NewSQLiteTestDatabase(testingT)
	keyDatabase, openErr := storage.OpenKeyDatabase(sqliteDatabase.DataSourceName())
	if openErr != nil {
		testingT.Fatalf("open sqlite test database: %v", openErr)
	}
	testingT.Cleanup(func() {
		_ = keyDatabase.Close()
	})
	return ConfigureDatabaseLogger(testingT, keyDatabase.DB())
}
