package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/marginalia/internal/auth"
	"github.com/MarcoPoloResearchLab/marginalia/internal/config"
	"github.com/MarcoPoloResearchLab/marginalia/internal/database"
	"github.com/MarcoPoloResearchLab/marginalia/internal/logging"
	"github.com/MarcoPoloResearchLab/marginalia/internal/pdfintake"
	"github.com/MarcoPoloResearchLab/marginalia/internal/records"
	"github.com/MarcoPoloResearchLab/marginalia/internal/server"
	"github.com/MarcoPoloResearchLab/marginalia/internal/versioning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "marginalia-api",
		Short:        "Versioned PDF annotation backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newImportCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString(config.KeyHTTPAddress), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString(config.KeyDatabasePath), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString(config.KeyLogFormat), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt(config.KeyTokenTTLMinutes), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("diff-cache-size", defaults.GetInt(config.KeyDiffCacheSize), "Memoised version diffs (negative disables)")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")

	bindFlag(cmd, config.KeyHTTPAddress, "http-address")
	bindFlag(cmd, config.KeyDatabasePath, "database-path")
	bindFlag(cmd, config.KeyLogLevel, "log-level")
	bindFlag(cmd, config.KeyLogFormat, "log-format")
	bindFlag(cmd, config.KeySigningSecret, "signing-secret")
	bindFlag(cmd, config.KeyTokenTTLMinutes, "token-ttl-minutes")
	bindFlag(cmd, config.KeyDiffCacheSize, "diff-cache-size")
	bindFlag(cmd, config.KeyAllowedOrigins, "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newImportCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "import <file.pdf>",
		Short: "Register a PDF as a new document with its initial version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], name)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Document name (defaults to the file name)")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		displayName string
		roles       []string
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a session token for local use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.Principal{Subject: args[0], DisplayName: displayName, Roles: roles})
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"token": token, "expires_at": expiresAt})
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name embedded in the token")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role embedded in the token (repeatable)")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	realtime := server.NewRealtimeDispatcher()
	service, err := newVersioningService(db, appConfig, logger, realtime, registry)
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Service:        service,
		Sessions:       sessions,
		Realtime:       realtime,
		Inspector:      pdfintake.NewInspector(logger),
		Gatherer:       registry,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runImport(cmd *cobra.Command, path, name string) error {
	ctx := cmd.Context()
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	inspection, err := pdfintake.NewInspector(logger).InspectFile(ctx, path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	service, err := newVersioningService(db, appConfig, logger, nil, nil)
	if err != nil {
		return err
	}

	if strings.TrimSpace(name) == "" {
		name = filepath.Base(path)
	}
	document, err := service.CreateDocument(ctx, versioning.NewDocument{
		Name:      name,
		FileHash:  inspection.FileHash,
		PageCount: inspection.PageCount,
	})
	if err != nil {
		return err
	}
	logger.Info("document imported",
		zap.String("document_id", document.ID),
		zap.String("file_hash", document.FileHash),
		zap.Int("page_count", document.PageCount))
	return writeJSON(cmd, document)
}

func newVersioningService(db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger, events versioning.EventPublisher, registerer prometheus.Registerer) (*versioning.Service, error) {
	store, err := records.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	return versioning.NewService(versioning.ServiceConfig{
		Store:         store,
		Clock:         time.Now,
		IDProvider:    versioning.NewUUIDProvider(),
		Logger:        logger,
		Events:        events,
		Metrics:       versioning.NewMetrics(registerer),
		DiffCacheSize: appConfig.DiffCacheSize,
	})
}

func writeJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
