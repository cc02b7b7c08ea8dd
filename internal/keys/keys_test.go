package keys_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/infoboard/internal/keys"
	"github.com/MarkoPoloResearchLab/infoboard/internal/model"
	"github.com/MarkoPoloResearchLab/infoboard/internal/testutil"
	"github.com/MarkoPoloResearchLab/infoboard/internal/widget"
)

func TestEnvironmentStoreReadsMappedVariables(testingT *testing.T) {
	environment := map[string]string{
		"PID_API_KEY":     "pid-secret",
		"WEATHER_API_KEY": "  ",
	}
	store := keys.NewEnvironmentStore(keys.DefaultLabelEnvironment(), func(name string) (string, bool) {
		value, present := environment[name]
		return value, present
	})

	secret, lookupErr := store.Lookup(context.Background(), keys.LabelPID)
	require.NoError(testingT, lookupErr)
	require.Equal(testingT, "pid-secret", secret)

	_, lookupErr = store.Lookup(context.Background(), keys.LabelWeather)
	require.ErrorIs(testingT, lookupErr, keys.ErrUnknownLabel)
	_, lookupErr = store.Lookup(context.Background(), keys.LabelGemini)
	require.ErrorIs(testingT, lookupErr, keys.ErrUnknownLabel)
	require.Equal(testingT, []string{keys.LabelPID}, store.Labels())
}

func TestParseLabelEnvironment(testingT *testing.T) {
	assignments, parseErr := keys.ParseLabelEnvironment(" pidApiKey=PID_API_KEY , radar = RADAR_KEY,")
	require.NoError(testingT, parseErr)
	require.Equal(testingT, map[string]string{"pidApiKey": "PID_API_KEY", "radar": "RADAR_KEY"}, assignments)

	_, parseErr = keys.ParseLabelEnvironment("radar")
	require.Error(testingT, parseErr)
	_, parseErr = keys.ParseLabelEnvironment("=RADAR_KEY")
	require.Error(testingT, parseErr)
}

func TestDatabaseStoreLifecycle(testingT *testing.T) {
	store := keys.NewDatabaseStore(testutil.OpenMigratedSQLiteDatabase(testingT))
	ctx := context.Background()

	_, lookupErr := store.Lookup(ctx, keys.LabelWeather)
	require.ErrorIs(testingT, lookupErr, keys.ErrUnknownLabel)

	require.NoError(testingT, store.Put(ctx, keys.LabelWeather, "first"))
	require.NoError(testingT, store.Put(ctx, keys.LabelWeather, "second"))
	require.NoError(testingT, store.Put(ctx, keys.LabelGemini, "gemini-secret"))

	secret, lookupErr := store.Lookup(ctx, keys.LabelWeather)
	require.NoError(testingT, lookupErr)
	require.Equal(testingT, "second", secret)

	labels, labelsErr := store.Labels(ctx)
	require.NoError(testingT, labelsErr)
	require.Equal(testingT, []string{keys.LabelGemini, keys.LabelWeather}, labels)

	require.NoError(testingT, store.Delete(ctx, keys.LabelGemini))
	require.ErrorIs(testingT, store.Delete(ctx, keys.LabelGemini), keys.ErrUnknownLabel)
	require.ErrorIs(testingT, store.Put(ctx, "", "secret"), model.ErrInvalidProviderKeyLabel)
}

type failingStore struct{}

func (failingStore) Lookup(context.Context, string) (string, error) {
	return "", errors.New("database offline")
}

func TestChainStorePrefersFirstKnownLabel(testingT *testing.T) {
	databaseStore := keys.NewDatabaseStore(testutil.OpenMigratedSQLiteDatabase(testingT))
	ctx := context.Background()
	require.NoError(testingT, databaseStore.Put(ctx, keys.LabelPID, "from-database"))

	chain := keys.NewChainStore(
		keys.NewStaticStore(map[string]string{keys.LabelWeather: "from-environment"}),
		nil,
		databaseStore,
	)

	secret, lookupErr := chain.Lookup(ctx, keys.LabelWeather)
	require.NoError(testingT, lookupErr)
	require.Equal(testingT, "from-environment", secret)

	secret, lookupErr = chain.Lookup(ctx, keys.LabelPID)
	require.NoError(testingT, lookupErr)
	require.Equal(testingT, "from-database", secret)

	_, lookupErr = chain.Lookup(ctx, "unknown")
	require.ErrorIs(testingT, lookupErr, keys.ErrUnknownLabel)

	broken := keys.NewChainStore(failingStore{}, databaseStore)
	_, lookupErr = broken.Lookup(ctx, keys.LabelPID)
	require.Error(testingT, lookupErr)
	require.NotErrorIs(testingT, lookupErr, keys.ErrUnknownLabel)
}

func TestIssuerFeedsCredentialCache(testingT *testing.T) {
	issuer := keys.NewIssuer(keys.NewStaticStore(map[string]string{keys.LabelWeather: "abc"}))
	cache := widget.NewCredentialCache(issuer, nil, nil)

	secret, found := cache.Resolve(context.Background(), keys.LabelWeather)
	require.True(testingT, found)
	require.Equal(testingT, "abc", secret)

	_, issueErr := issuer.Issue(context.Background(), "missing")
	require.ErrorIs(testingT, issueErr, widget.ErrCredential)
}
