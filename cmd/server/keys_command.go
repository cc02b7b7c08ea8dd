package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MarkoPoloResearchLab/infoboard/internal/keys"
)

const (
	flagNameKeyLabel       = "label"
	flagNameKeySecret      = "secret"
	flagNameDatabaseSource = "db-dsn"
	keyStoredMessage       = "stored key for label %s\n"
	keyDeletedMessage      = "deleted key for label %s\n"
)

func (application *ServerApplication) putKeyCommand() *cobra.Command {
	var label string
	var secret string
	command := &cobra.Command{
		Use:   "put-key",
		Short: "Store a provider key in the database",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.withDatabaseStore(func(store *keys.DatabaseStore) error {
				if putErr := store.Put(command.Context(), label, secret); putErr != nil {
					return putErr
				}
				fmt.Fprintf(command.OutOrStdout(), keyStoredMessage, strings.TrimSpace(label))
				return nil
			})
		},
	}
	command.Flags().StringVar(&label, flagNameKeyLabel, "", "credential label, for example weatherApiKey")
	command.Flags().StringVar(&secret, flagNameKeySecret, "", "provider secret served for the label")
	_ = command.MarkFlagRequired(flagNameKeyLabel)
	_ = command.MarkFlagRequired(flagNameKeySecret)
	return command
}

func (application *ServerApplication) deleteKeyCommand() *cobra.Command {
	var label string
	command := &cobra.Command{
		Use:   "delete-key",
		Short: "Remove a provider key from the database",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.withDatabaseStore(func(store *keys.DatabaseStore) error {
				if deleteErr := store.Delete(command.Context(), label); deleteErr != nil {
					return deleteErr
				}
				fmt.Fprintf(command.OutOrStdout(), keyDeletedMessage, strings.TrimSpace(label))
				return nil
			})
		},
	}
	command.Flags().StringVar(&label, flagNameKeyLabel, "", "credential label to remove")
	_ = command.MarkFlagRequired(flagNameKeyLabel)
	return command
}

func (application *ServerApplication) listKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys",
		Short: "List the credential labels the database holds",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.withDatabaseStore(func(store *keys.DatabaseStore) error {
				labels, listErr := store.Labels(command.Context())
				if listErr != nil {
					return listErr
				}
				for _, label := range labels {
					fmt.Fprintln(command.OutOrStdout(), label)
				}
				return nil
			})
		},
	}
}

// withDatabaseStore opens the key database for one command and closes it afterwards.
func (application *ServerApplication) withDatabaseStore(run func(*keys.DatabaseStore) error) error {
	dataSource := strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDataSource))
	if dataSource == "" {
		return fmt.Errorf("%s: %s", missingConfigurationMessage, flagNameDatabaseSource)
	}
	keyDatabase, openErr := application.databaseOpener(dataSource)
	if openErr != nil {
		return openErr
	}
	defer func() { _ = keyDatabase.Close() }()
	return run(keys.NewDatabaseStore(keyDatabase.DB()))
}
