package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/kafka"
	"github.com/jmehdipour/recurring-orders/internal/logger"
	"github.com/jmehdipour/recurring-orders/internal/mailer"
	"github.com/jmehdipour/recurring-orders/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver notification emails from the outbox topic",
	RunE:  runMailer,
}

func runMailer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.Named("mailer")

	// providers -> dispatcher
	var provs []mailer.Provider
	for _, pc := range cfg.Mailer.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs, mailer.NewHTTPProvider(mailer.ProviderOpts{
			Name:          pc.Name,
			BaseURL:       strings.TrimRight(pc.BaseURL, "/"),
			Path:          pc.Path,
			APIKey:        pc.APIKey,
			TimeoutMs:     pc.TimeoutMs,
			FailThreshold: pc.Breaker.FailThreshold,
			OpenForMs:     pc.Breaker.OpenForMs,
		}))
	}
	if len(provs) == 0 {
		return fmt.Errorf("no mail providers enabled in config")
	}
	disp := mailer.NewDispatcher(provs, cfg.Notifications.From, cfg.Mailer.MaxAttempts)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "recur"
	}
	groupID += "-mailer"

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Notifications.Topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewMailerKafka(consumer, disp, log)
	w.Lag = consumer.Lag
	if cfg.Mailer.WorkerCount > 0 {
		w.Workers = cfg.Mailer.WorkerCount
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	serveMetrics(ctx, log)

	log.Info("mailer started",
		zap.String("topic", cfg.Notifications.Topic),
		zap.String("group", groupID),
		zap.Int("workers", w.Workers),
		zap.Int("providers", len(provs)),
	)
	return w.Run(ctx)
}
