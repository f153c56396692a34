package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mind-ease/domain"
)

type eventQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

var errOutboxClosed = errors.New("event outbox is closed")

// Outbox forwards domain events to an Azure queue for downstream consumers.
// Publish never blocks the caller; a background worker drains the buffer.
type Outbox struct {
	queue       eventQueue
	concurrency int
	timeout     time.Duration
	logger      *log.Entry

	ch   chan domain.Event
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// OutboxConfig tunes the outbox buffer and sender.
type OutboxConfig struct {
	Buffer      int
	Concurrency int
	Timeout     time.Duration
	Logger      *log.Entry
}

// NewOutbox connects to the named queue and starts the sender.
func NewOutbox(connStr, queueName string, cfg OutboxConfig) (*Outbox, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newOutbox(q, cfg), nil
}

func newOutbox(q eventQueue, cfg OutboxConfig) *Outbox {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithField("component", "outbox")
	}
	o := &Outbox{
		queue:       q,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		ch:          make(chan domain.Event, cfg.Buffer),
		done:        make(chan struct{}),
	}
	go o.run()
	return o
}

// Send enqueues events synchronously, at most concurrency at a time.
func (o *Outbox) Send(ctx context.Context, events ...domain.Event) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, ev := range events {
		g.Go(func() error {
			data, err := sonic.Marshal(ev)
			if err != nil {
				return err
			}
			_, err = o.queue.EnqueueMessage(ctx, string(data), nil)
			return err
		})
	}
	return g.Wait()
}

// Publish buffers ev for delivery. Events are dropped when the buffer is
// full or the outbox is closed.
func (o *Outbox) Publish(ev domain.Event) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return errOutboxClosed
	}
	select {
	case o.ch <- ev:
		return nil
	default:
		o.logger.WithFields(log.Fields{"type": ev.Type, "user": ev.UserID}).Warn("outbox full, dropping event")
		return errors.New("event outbox is saturated")
	}
}

func (o *Outbox) run() {
	defer close(o.done)
	for ev := range o.ch {
		batch := []domain.Event{ev}
	drain:
		for len(batch) < o.concurrency {
			select {
			case next, ok := <-o.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		if err := o.Send(ctx, batch...); err != nil {
			o.logger.WithError(err).WithField("events", len(batch)).Error("enqueue events")
		}
		cancel()
	}
}

// Close stops accepting events and waits until buffered ones are sent.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	o.mu.Unlock()
	<-o.done
}
