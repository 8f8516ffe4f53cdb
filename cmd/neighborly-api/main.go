package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/config"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/database"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "neighborly-api",
		Short: "Neighborly bulletin board backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "repair-counters",
		Short: "Recompute every post's reply count from the replies table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepairCounters(cmd.Context())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.Int("page-size", defaults.GetInt("feed.page_size"), "Default feed page size")
	flags.Int("max-page-size", defaults.GetInt("feed.max_page_size"), "Largest feed page a client may request")
	flags.String("stats-source", defaults.GetString("feed.stats_source"), "Neighbor stats source (view, scan)")
	flags.Bool("repair-counters", defaults.GetBool("feed.repair_counters"), "Rewrite drifted reply counters while loading the feed")
	flags.String("counter-mode", defaults.GetString("submission.counter_mode"), "Reply counter update mode (atomic, read_write)")
	flags.String("cookie-name", defaults.GetString("identity.cookie_name"), "Neighbor identity cookie name")
	flags.StringSlice("allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "CORS allowed origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "feed.page_size", "page-size")
	bindFlag(cmd, "feed.max_page_size", "max-page-size")
	bindFlag(cmd, "feed.stats_source", "stats-source")
	bindFlag(cmd, "feed.repair_counters", "repair-counters")
	bindFlag(cmd, "submission.counter_mode", "counter-mode")
	bindFlag(cmd, "identity.cookie_name", "cookie-name")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
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

func openStore(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func runRepairCounters(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeStore, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := database.RecomputeReplyCounts(ctx, db); err != nil {
		logger.Error("reply counter repair failed", zap.Error(err))
		return err
	}
	logger.Info("reply counters recomputed")
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeStore, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := changefeed.NewDispatcher()
	if err := db.Use(changefeed.NewPlugin(dispatcher, posts.CollectionPosts, posts.CollectionReplies)); err != nil {
		return err
	}

	postsService, err := posts.NewService(posts.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		IDProvider:  posts.NewUUIDProvider(),
		CounterMode: appConfig.CounterMode,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	aggregator, err := feed.NewAggregator(feed.AggregatorConfig{
		Database:       db,
		StatsSource:    appConfig.StatsSource,
		RepairCounters: appConfig.RepairCounters,
		DefaultPage:    appConfig.PageSize,
		MaxPage:        appConfig.MaxPageSize,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler := feed.NewReconciler(feed.ReconcilerConfig{
		Loader:   aggregator,
		PageSize: aggregator.PageSize(),
		Logger:   logger,
	})
	if err := reconciler.Refresh(signalCtx); err != nil {
		logger.Warn("initial feed load failed", zap.Error(err))
	}
	changes, unsubscribe := dispatcher.Subscribe(signalCtx, posts.CollectionPosts, posts.CollectionReplies)
	defer unsubscribe()
	go reconciler.Run(signalCtx, changefeed.Triggers(signalCtx, changes))

	streamsDone := make(chan struct{})
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Submissions:    postsService,
		Feed:           aggregator,
		Snapshots:      reconciler,
		Changes:        dispatcher,
		Logger:         logger,
		CookieName:     appConfig.CookieName,
		AllowedOrigins: appConfig.AllowedOrigins,
		Shutdown:       streamsDone,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(func() { close(streamsDone) })

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
