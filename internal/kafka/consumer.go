package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when processing succeeded and the offset may be
// committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r           *kafka.Reader
	workers     int
	maxAttempts int
	backoff     time.Duration

	// fatal marks errors that retrying cannot fix; those skip the retry
	// loop and go straight to the dead letter.
	fatal func(error) bool

	// dlq receives messages after a fatal error or retry exhaustion, so a
	// poisoned message never blocks the partition. Nil disables it.
	dlq *Producer
}

type ConsumerConfig struct {
	Brokers     []string
	Group       string
	Topic       string
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	Fatal       func(error) bool
	DLQ         *Producer
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Consumer{
		r:           r,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		fatal:       cfg.Fatal,
		dlq:         cfg.DLQ,
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)

	for i := 0; i < c.workers; i++ {
		go func() {
			for m := range jobs {
				c.process(ctx, h, m)
				if err := c.r.CommitMessages(ctx, m); err != nil {
					log.Printf("commit offset: %v", err)
				}
			}
		}()
	}

	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			close(jobs)
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}
	}
}

// process retries transient failures with linear backoff up to maxAttempts,
// then dead-letters. Fatal errors dead-letter on the first attempt.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = h(ctx, m)
		if err == nil {
			return
		}
		if c.fatal != nil && c.fatal(err) {
			log.Printf("fatal on %s/%d@%d: %v", m.Topic, m.Partition, m.Offset, err)
			break
		}
		log.Printf("attempt %d/%d on %s/%d@%d: %v", attempt, c.maxAttempts, m.Topic, m.Partition, m.Offset, err)
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return
		}
	}

	if c.dlq != nil {
		c.dlq.Publish(m.Key, m.Value,
			kafka.Header{Key: "x-dead-letter-reason", Value: []byte(err.Error())},
			kafka.Header{Key: "x-origin-topic", Value: []byte(m.Topic)},
		)
	}
}
