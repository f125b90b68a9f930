package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/app"
	"github.com/jmehdipour/recurring-orders/internal/checkout"
	httpSrv "github.com/jmehdipour/recurring-orders/internal/http"
	"github.com/jmehdipour/recurring-orders/internal/kvstore"
	"github.com/jmehdipour/recurring-orders/internal/logger"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmehdipour/recurring-orders/internal/service/recurrences"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Named("serve")

		loc, err := cfg.Scheduler.Location()
		if err != nil {
			return err
		}

		mysqlDB, err := app.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()

		redisClient, err := app.OpenRedis(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := app.OpenClickHouse(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = chDB.Close()
		}()

		// repos
		customersRepo := repository.NewCustomersRepository(mysqlDB)
		companiesRepo := repository.NewCompaniesRepository(mysqlDB)
		runsRepo := repository.NewRunLogRepository(chDB)

		// commerce
		client := app.NewCommerceClient(cfg.Commerce, logger.Named(""))
		executor := app.NewExecutor(cfg.Commerce, client, logger.Named(""))

		registry := checkout.NewRegistry(checkout.Deps{
			Client:        client,
			Executor:      executor,
			Store:         kvstore.NewRedisStore(redisClient, cfg.Checkout.KeyPrefix, cfg.Checkout.SessionTTL),
			Customers:     customersRepo,
			Companies:     companiesRepo,
			Notifier:      app.NewNotifier(cfg.Notifications, mysqlDB),
			Log:           logger.Named("checkout"),
			WriteAttempts: cfg.Scheduler.WriteAttempts,
		})
		evictCtx, stopEvict := context.WithCancel(context.Background())
		defer stopEvict()
		go registry.EvictIdle(evictCtx, cfg.Checkout.MachineIdle)

		poller := checkout.NewPoller(client, cfg.Checkout.PollInterval, logger.Named("poller"))

		recurrenceSvc := recurrences.New(customersRepo, companiesRepo, schedule.NewCalculator(loc), cfg.Scheduler.WriteAttempts)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Customers:   customersRepo,
			Runs:        runsRepo,
			Checkouts:   registry,
			Poller:      poller,
			Recurrences: recurrenceSvc,
			Redis:       redisClient,
			Log:         logger.Named("http"),
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
