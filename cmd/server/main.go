package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/storage"
)

const (
	commandUseName               = "server"
	commandShortDescription      = "Run the infoboard dashboard server"
	commandLongDescription       = "Serve the self-refreshing widget dashboard together with its key, news and summary proxies"
	loggerCreationErrorMessage   = "logger"
	logEventListening            = "listening"
	logEventShutdown             = "shutdown"
	logFieldAddress              = "addr"
	logFieldServeMode            = "mode"
	logFieldTLS                  = "tls"
	loggerContextServer          = "server"
	readHeaderTimeoutSeconds     = 5
	shutdownTimeout              = 10 * time.Second
	unexpectedArgumentsMessage   = "unexpected command arguments"
	commandInitializationFailure = "failed to configure command"
)

// DatabaseOpener opens the migrated provider key database for a data source.
type DatabaseOpener func(dataSourceName string) (*storage.KeyDatabase, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
	lookupEnv           func(string) (string, bool)
	dotEnvPath          string
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenKeyDatabase,
		lookupEnv:           os.LookupEnv,
		dotEnvPath:          defaultDotEnvPath,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// WithDotEnvPath overrides the dotenv file; an empty path disables it.
func (application *ServerApplication) WithDotEnvPath(path string) *ServerApplication {
	application.dotEnvPath = path
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	rootCommand.AddCommand(application.putKeyCommand(), application.deleteKeyCommand(), application.listKeysCommand())

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	if dotEnvErr := application.loadDotEnv(); dotEnvErr != nil {
		return dotEnvErr
	}
	application.configurationLoader.AutomaticEnv()
	return application.defineOptions(command.PersistentFlags(), serverConfigurationOptions)
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configurationErr := application.loadServerConfig()
	if configurationErr != nil {
		return configurationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	signalContext, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runtime, runtimeErr := application.newServerRuntime(signalContext, serverConfig, logger)
	if runtimeErr != nil {
		return runtimeErr
	}
	defer runtime.Close()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           runtime.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info(logEventListening,
			zap.String(logFieldAddress, serverConfig.ApplicationAddress),
			zap.String(logFieldServeMode, string(serverConfig.ServeMode)),
			zap.Bool(logFieldTLS, serverConfig.TLSEnabled()),
		)
		if serverConfig.TLSEnabled() {
			serveErrors <- httpServer.ListenAndServeTLS(serverConfig.TLSCertificateFile, serverConfig.TLSKeyFile)
			return
		}
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(loggerContextServer, zap.Error(serveErr))
			return serveErr
		}
	case <-signalContext.Done():
		logger.Info(logEventShutdown)
		// Event streams end only when their session's broadcaster closes.
		runtime.StopDashboards()
		shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
			logger.Warn(loggerContextServer, zap.Error(shutdownErr))
		}
	}

	return nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
