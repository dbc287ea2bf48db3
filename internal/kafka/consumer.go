package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is fully processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       Reader
	workers int
	log     zerolog.Logger

	retryBackoff    time.Duration
	maxRetryBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, workers, log.With().Str("group", group).Str("topic", topic).Logger())
}

func NewConsumerWithReader(r Reader, workers int, log zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:               r,
		workers:         workers,
		log:             log.With().Str("component", "kafka-consumer").Logger(),
		retryBackoff:    200 * time.Millisecond,
		maxRetryBackoff: 10 * time.Second,
	}
}

// Start fetches messages and fans them out to the worker pool until ctx is done.
// A partition always goes to the same worker, which retries a failed message
// until it succeeds, so an offset is never committed past an unprocessed one.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer func() {
		if err := c.r.Close(); err != nil {
			c.log.Warn().Err(err).Msg("close reader")
		}
	}()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				// once ctx is done nothing more is processed or committed; the group resumes at the last commit
				if ctx.Err() != nil {
					continue
				}
				c.process(ctx, h, m)
			}
		}(lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process runs h until it succeeds or ctx ends, then commits the message.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		c.log.Error().Err(err).
			Int("partition", m.Partition).
			Int64("offset", m.Offset).
			Int("attempt", attempt).
			Dur("retry_in", backoff).
			Msg("handler failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxRetryBackoff)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		// a later commit on the partition covers this offset
		c.log.Warn().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("commit failed")
	}
}
