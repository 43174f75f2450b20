package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset may
// be committed. A failing message is retried in place until it succeeds or the
// consumer stops, so handlers must return nil for messages they cannot ever
// process.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r         messageReader
	workers   int
	log       *zap.Logger
	retryBase time.Duration
	offsets   *offsetTracker
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // synchronous commits
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r:         r,
		workers:   workers,
		log:       log,
		retryBase: 200 * time.Millisecond,
		offsets:   newOffsetTracker(),
	}
}

// Start fetches until ctx is done or the reader fails, fanning messages out
// to the worker pool. It returns nil on a ctx-driven shutdown, after every
// worker has finished its current message.
//
// Offsets are committed per partition only up to the first message still in
// flight, so a restart redelivers everything not yet handled.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan *inflight, c.workers*4)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for e := range jobs {
				c.handle(ctx, id, h, e)
			}
		}(i)
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs <- c.offsets.fetched(m):
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, worker int, h Handler, e *inflight) {
	m := e.m
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryBase
	eb.MaxInterval = 50 * c.retryBase
	eb.MaxElapsedTime = 0
	err := backoff.RetryNotify(func() error {
		return h(ctx, m)
	}, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
		c.log.Error("handler failed, retrying",
			zap.Int("worker", worker),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("backoff", wait),
			zap.Error(err))
	})
	if err != nil {
		// Shutting down; the message stays uncommitted and is redelivered.
		return
	}
	c.offsets.finish(e, func(last kafka.Message) {
		if err := c.r.CommitMessages(ctx, last); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed",
				zap.Int("partition", last.Partition),
				zap.Int64("offset", last.Offset),
				zap.Error(err))
		}
	})
}

type partitionKey struct {
	topic     string
	partition int
}

type inflight struct {
	m    kafka.Message
	done bool
}

// offsetTracker keeps fetched messages in fetch order per partition. A
// consumer-group commit is a watermark, so only the longest handled prefix of
// a partition is ever committable.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[partitionKey][]*inflight
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[partitionKey][]*inflight)}
}

func (t *offsetTracker) fetched(m kafka.Message) *inflight {
	e := &inflight{m: m}
	k := partitionKey{m.Topic, m.Partition}
	t.mu.Lock()
	t.pending[k] = append(t.pending[k], e)
	t.mu.Unlock()
	return e
}

// finish marks e handled and, if that extends the handled prefix of its
// partition, calls commit with the last message of the prefix. commit runs
// under the tracker lock so commits of one partition never go backwards.
func (t *offsetTracker) finish(e *inflight, commit func(kafka.Message)) {
	k := partitionKey{e.m.Topic, e.m.Partition}
	t.mu.Lock()
	defer t.mu.Unlock()
	e.done = true
	q := t.pending[k]
	n := 0
	for n < len(q) && q[n].done {
		n++
	}
	if n == 0 {
		return
	}
	last := q[n-1].m
	if n == len(q) {
		delete(t.pending, k)
	} else {
		t.pending[k] = q[n:]
	}
	commit(last)
}
