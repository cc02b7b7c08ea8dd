package storage_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/infoboard/internal/model"
	"github.com/MarkoPoloResearchLab/infoboard/internal/storage"
)

const (
	testProviderKeyLabel  = "pidApiKey"
	testProviderKeySecret = "pid-secret"
)

func TestOpenKeyDatabasePersistsAcrossReopen(testingT *testing.T) {
	dataSourceName := filepath.Join(testingT.TempDir(), "keys.db")

	first, openErr := storage.OpenKeyDatabase(dataSourceName)
	require.NoError(testingT, openErr)
	providerKey, keyErr := model.NewProviderKey(model.ProviderKeyInput{Label: testProviderKeyLabel, Secret: testProviderKeySecret})
	require.NoError(testingT, keyErr)
	require.NoError(testingT, first.DB().Create(&providerKey).Error)
	require.NoError(testingT, first.Close())

	second, reopenErr := storage.OpenKeyDatabase(" " + dataSourceName + " ")
	require.NoError(testingT, reopenErr)
	testingT.Cleanup(func() {
		_ = second.Close()
	})

	var fetched model.ProviderKey
	require.NoError(testingT, second.DB().First(&fetched, "label = ?", testProviderKeyLabel).Error)
	require.Equal(testingT, testProviderKeySecret, fetched.Secret)
}

func TestProviderKeyLabelIsUnique(testingT *testing.T) {
	keyDatabase, openErr := storage.OpenKeyDatabase(filepath.Join(testingT.TempDir(), "keys.db"))
	require.NoError(testingT, openErr)
	testingT.Cleanup(func() {
		_ = keyDatabase.Close()
	})

	first, keyErr := model.NewProviderKey(model.ProviderKeyInput{Label: testProviderKeyLabel, Secret: "first"})
	require.NoError(testingT, keyErr)
	require.NoError(testingT, keyDatabase.DB().Create(&first).Error)

	duplicate, keyErr := model.NewProviderKey(model.ProviderKeyInput{Label: testProviderKeyLabel, Secret: "second"})
	require.NoError(testingT, keyErr)
	require.Error(testingT, keyDatabase.DB().Create(&duplicate).Error)
}

func TestOpenKeyDatabaseErrors(testingT *testing.T) {
	_, openErr := storage.OpenKeyDatabase("  ")
	require.ErrorIs(testingT, openErr, storage.ErrMissingDataSourceName)

	missingDirectory := filepath.Join(testingT.TempDir(), "missing", "keys.db")
	_, openErr = storage.OpenKeyDatabase(fmt.Sprintf("file:%s?mode=rw", missingDirectory))
	require.Error(testingT, openErr)
	require.Contains(testingT, openErr.Error(), "storage:")
}

func TestWithBusyTimeout(testingT *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain path", input: "keys.db", expected: "keys.db?" + storage.BusyTimeoutPragma},
		{name: "existing query", input: "file:keys.db?mode=rwc", expected: "file:keys.db?mode=rwc&" + storage.BusyTimeoutPragma},
		{name: "explicit timeout kept", input: "file:keys.db?_pragma=busy_timeout(100)", expected: "file:keys.db?_pragma=busy_timeout(100)"},
	}
	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			require.Equal(testingT, testCase.expected, storage.WithBusyTimeout(testCase.input))
		})
	}
}
