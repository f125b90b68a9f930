package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/recurring-orders/internal/app"
	"github.com/jmehdipour/recurring-orders/internal/config"
	"github.com/jmehdipour/recurring-orders/internal/logger"
	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmehdipour/recurring-orders/internal/schedule"
	"github.com/jmehdipour/recurring-orders/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runOnce     bool
	metricsAddr string
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the recurring purchase scheduler",
	RunE:  runScheduler,
}

func init() {
	schedulerCmd.Flags().BoolVar(&runOnce, "once", false, "run a single pass and exit")
	for _, c := range []*cobra.Command{schedulerCmd, mailerCmd} {
		c.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (e.g. :9102)")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level)
	return cfg, nil
}

// serveMetrics exposes the default registry until ctx ends.
func serveMetrics(ctx context.Context, log *zap.Logger) {
	metrics.MustRegister(prometheus.DefaultRegisterer)
	if metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.Named("scheduler")

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}

	mysqlDB, err := app.OpenMySQL(cfg)
	if err != nil {
		return err
	}
	defer mysqlDB.Close()

	chDB, err := app.OpenClickHouse(cfg)
	if err != nil {
		return err
	}
	defer chDB.Close()

	client := app.NewCommerceClient(cfg.Commerce, logger.Named(""))
	s := worker.NewRecurrenceScheduler(
		repository.NewCustomersRepository(mysqlDB),
		repository.NewCompaniesRepository(mysqlDB),
		app.NewExecutor(cfg.Commerce, client, logger.Named("")),
		schedule.NewCalculator(loc),
		app.NewNotifier(cfg.Notifications, mysqlDB),
		repository.NewRunLogRepository(chDB),
		log,
	)

	// tune knobs
	if cfg.Scheduler.Interval > 0 {
		s.Interval = cfg.Scheduler.Interval
	}
	if cfg.Scheduler.BatchSize > 0 {
		s.BatchSize = cfg.Scheduler.BatchSize
	}
	s.WriteAttempts = cfg.Scheduler.WriteAttempts

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	serveMetrics(ctx, log)

	if runOnce {
		stats, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info("scheduler pass finished",
			zap.Int("customers", stats.Customers),
			zap.Int("due", stats.Due),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("pending", stats.Pending),
			zap.Int("paused", stats.Paused),
			zap.Int("write_failures", stats.WriteFailures),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	}

	log.Info("scheduler started",
		zap.Duration("interval", s.Interval),
		zap.Int("batch_size", s.BatchSize),
		zap.String("timezone", loc.String()),
	)
	return s.Run(ctx)
}
