package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = sync each msg
	MaxWait        time.Duration // default 50ms
}

type Message = kafka.Message

// Source is what workers consume from; *Consumer satisfies it.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
}

// Consumer reads the notification topic through a segmentio/kafka-go Reader
// with explicit commits.
type Consumer struct {
	r *kafka.Reader
}

var _ Source = (*Consumer)(nil)

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	mw := c.MaxWait
	if mw <= 0 {
		mw = 50 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
		// a new group starts at the oldest retained notification
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

// Lag reports how far the reader is behind the partition head.
func (c *Consumer) Lag() int64 { return c.r.Stats().Lag }

func (c *Consumer) Close() error { return c.r.Close() }
