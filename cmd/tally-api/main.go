package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tally/internal/activity"
	"github.com/MarcoPoloResearchLab/tally/internal/config"
	"github.com/MarcoPoloResearchLab/tally/internal/database"
	"github.com/MarcoPoloResearchLab/tally/internal/events"
	"github.com/MarcoPoloResearchLab/tally/internal/logging"
	"github.com/MarcoPoloResearchLab/tally/internal/server"
	"github.com/MarcoPoloResearchLab/tally/internal/snapshot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tally-api",
		Short: "Tally message-activity tracking service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("snapshot-interval-minutes", defaults.GetInt("snapshot.interval_minutes"), "Minutes between scheduled snapshots")
	cmd.PersistentFlags().Int("snapshot-skew-minutes", defaults.GetInt("snapshot.skew_minutes"), "Clock skew allowance when computing snapshot catch-up")
	cmd.PersistentFlags().Int("snapshot-keep-count", defaults.GetInt("snapshot.keep_count"), "Number of snapshots retained after pruning")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "snapshot.interval_minutes", "snapshot-interval-minutes")
	bindFlag(cmd, "snapshot.skew_minutes", "snapshot-skew-minutes")
	bindFlag(cmd, "snapshot.keep_count", "snapshot-keep-count")
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	dispatcher := events.NewDispatcher()

	activityStore, err := activity.NewStore(activity.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	snapshotManager, err := snapshot.NewManager(snapshot.ManagerConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Events:   dispatcher,
	})
	if err != nil {
		return err
	}

	retention, err := snapshot.NewRetention(snapshot.RetentionConfig{
		Manager: snapshotManager,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := snapshot.NewScheduler(snapshot.SchedulerConfig{
		Manager:       snapshotManager,
		Retention:     retention,
		Clock:         time.Now,
		Logger:        logger,
		Interval:      appConfig.SnapshotInterval,
		SkewAllowance: appConfig.SkewAllowance,
		KeepCount:     appConfig.KeepCount,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Activity:  activityStore,
		Snapshots: snapshotManager,
		Events:    dispatcher,
		Database:  db,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerCtx, cancelScheduler := context.WithCancel(signalCtx)
	defer cancelScheduler()
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("snapshot scheduler stopped", zap.Error(err))
		}
	}()

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
		cancelScheduler()
		<-schedulerDone

		// One final unconditional snapshot captures in-flight activity not
		// yet covered by the scheduler. Retention is skipped on purpose.
		finalCtx, cancelFinal := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := snapshotManager.Create(finalCtx); err != nil {
			logger.Error("final shutdown snapshot failed", zap.Error(err))
		}
		cancelFinal()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
